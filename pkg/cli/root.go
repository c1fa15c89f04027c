// Package cli implements the exphub command-line client.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host   string
		apiKey string
		token  string
	)

	rootCmd := &cobra.Command{
		Use:           "exphub",
		Short:         "Experiment analysis pipeline CLI",
		Long:          "Command-line client for the experiment analysis API: snapshots, metric analyses, past-experiment imports, and segment comparisons.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Precedence: flag > env > default.
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("EXPHUB_HOST"); v != "" {
					host = v
				}
			}
			if !cmd.Flags().Changed("api-key") {
				if v := os.Getenv("EXPHUB_API_KEY"); v != "" {
					apiKey = v
				}
			}
			if !cmd.Flags().Changed("token") {
				if v := os.Getenv("EXPHUB_TOKEN"); v != "" {
					token = v
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "API host URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT token for authentication")

	client := func() *Client { return NewClient(host, apiKey, token) }

	rootCmd.AddCommand(newSnapshotCmd(client))
	rootCmd.AddCommand(newAnalysisCmd(client))
	rootCmd.AddCommand(newImportCmd(client))
	rootCmd.AddCommand(newCompareCmd(client))

	return rootCmd
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	out, err := jsonIndent(v)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
