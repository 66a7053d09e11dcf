package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	cmd.AddCommand(
		newPipelineRegisterCmd(clientFn, outputFn),
		newPipelineListCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
	)

	return cmd
}

var pipelineHeaders = []string{"NAME", "IMAGE", "CREATED"}

func pipelineRow(p PipelineResponse) []string {
	return []string{p.Name, p.Image, p.CreatedAt}
}

func newPipelineRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var image string

	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register a pipeline or update its image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := clientFn().RegisterPipeline(args[0], image)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Pipeline registered: %s", p.Name))
			out.Print(pipelineHeaders, [][]string{pipelineRow(*p)}, p)
			return nil
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "Container image with the pipeline code (required)")
	cmd.MarkFlagRequired("image")

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelines, err := clientFn().ListPipelines()
			if err != nil {
				return err
			}

			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = pipelineRow(p)
			}

			outputFn().Print(pipelineHeaders, rows, pipelines)
			return nil
		},
	}
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show pipeline details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := clientFn().GetPipeline(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(pipelineHeaders, [][]string{pipelineRow(*p)}, p)
			return nil
		},
	}
}
