package cli

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunCreateCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunLaunchCmd(clientFn, outputFn),
		newRunStatusCmd(clientFn, outputFn),
		newRunTerminateCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "PIPELINE", "STATUS", "TASK", "CREATED"}

func runRow(r RunResponse) []string {
	return []string{r.ID, r.Pipeline, r.Status, r.TaskARN, r.CreatedAt}
}

func newRunCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tags []string
	var launch bool

	cmd := &cobra.Command{
		Use:   "create PIPELINE",
		Short: "Create a run for a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := CreateRunRequest{Pipeline: args[0], Launch: launch}

			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}
			req.Tags = parsed

			run, err := clientFn().CreateRun(req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Run created: %s", run.ID))
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Run tag as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&launch, "launch", false, "Queue the run for launch right away")

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipeline string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(ListRunsOpts{
				Pipeline: pipeline,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipeline, "pipeline", "", "Filter by pipeline")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, QUEUED, STARTING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}

			outputFn().Fields([][2]string{
				{"ID", run.ID},
				{"Pipeline", run.Pipeline},
				{"Status", run.Status},
				{"Task", run.TaskARN},
				{"Cluster", run.ClusterARN},
				{"Tags", formatTags(run.Tags)},
				{"Started", run.StartedAt},
				{"Finished", run.FinishedAt},
				{"Error", run.Error},
				{"Created", run.CreatedAt},
			}, run)
			return nil
		},
	}
}

func newRunLaunchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "launch ID",
		Short: "Launch a run as an ECS task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := clientFn().LaunchRun(args[0], async)
			if err != nil {
				return err
			}

			out := outputFn()
			if resp.Queued {
				out.Success(fmt.Sprintf("Run queued for launch: %s", resp.RunID))
				out.Print([]string{"RUN", "QUEUED"}, [][]string{{resp.RunID, "true"}}, resp)
				return nil
			}

			out.Success(fmt.Sprintf("Run launched: %s", resp.RunID))
			rows := [][]string{}
			if resp.Task != nil {
				rows = append(rows, []string{resp.RunID, resp.Task.TaskARN, resp.Task.ClusterARN, resp.Task.LastStatus})
			}
			out.Print([]string{"RUN", "TASK", "CLUSTER", "STATUS"}, rows, resp)
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "Queue the launch instead of waiting for ECS")

	return cmd
}

func newRunStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status ID",
		Short: "Show launch state and whether the run can be terminated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := clientFn().Termination(args[0])
			if err != nil {
				return err
			}

			var task, taskStatus string
			if resp.Task != nil {
				task = resp.Task.TaskARN
				taskStatus = resp.Task.LastStatus
			}

			outputFn().Print(
				[]string{"RUN", "STATE", "CAN_TERMINATE", "TASK", "TASK_STATUS"},
				[][]string{{resp.RunID, resp.State, strconv.FormatBool(resp.CanTerminate), task, taskStatus}},
				resp,
			)
			return nil
		},
	}
}

func newRunTerminateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "terminate ID",
		Short: "Stop the ECS task of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := clientFn().TerminateRun(args[0], async)
			if err != nil {
				return err
			}

			out := outputFn()
			switch {
			case resp.Queued:
				out.Success(fmt.Sprintf("Terminate request queued: %s", resp.RunID))
			case resp.Terminated:
				out.Success(fmt.Sprintf("Run terminated: %s", resp.RunID))
			default:
				out.Success(fmt.Sprintf("Run %s was not active, nothing to terminate", resp.RunID))
			}
			if out.jsonMode {
				out.JSON(resp)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "Queue the request instead of waiting for ECS")

	return cmd
}

// formatTags собирает теги в "k1=v1,k2=v2" в порядке ключей.
func formatTags(tags map[string]string) string {
	keys := slices.Sorted(maps.Keys(tags))
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + tags[k]
	}
	return strings.Join(pairs, ",")
}

// parseTags разбирает KEY=VALUE.
func parseTags(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag format %q, expected KEY=VALUE", kv)
		}
		tags[key] = value
	}
	return tags, nil
}
