package cli

import (
	"github.com/spf13/cobra"
)

// DefaultAPIURL — адрес API по умолчанию.
const DefaultAPIURL = "http://localhost:8080"

// NewRootCmd собирает корневую команду automata.
// outputFn == nil — вывод в stdout/stderr.
func NewRootCmd(version string, outputFn func(jsonMode bool) *Output) *cobra.Command {
	var apiURL string
	var jsonOutput bool

	if outputFn == nil {
		outputFn = NewOutput
	}

	rootCmd := &cobra.Command{
		Use:           "automata",
		Short:         "Automata CLI — launch pipeline runs on ECS",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", DefaultAPIURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL) }
	out := func() *Output { return outputFn(jsonOutput) }

	rootCmd.AddCommand(
		NewPipelineCmd(clientFn, out),
		NewRunCmd(clientFn, out),
	)

	return rootCmd
}
