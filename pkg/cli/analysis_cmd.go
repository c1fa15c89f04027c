package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAnalysisCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Manage standalone metric analyses",
	}

	var noCache bool
	startCmd := &cobra.Command{
		Use:   "start <metric-id>",
		Short: "Start a metric analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]interface{}{"useCache": !noCache}
			var analysis struct {
				ID string `json:"ID"`
			}
			if err := client().Post(fmt.Sprintf("/v1/metrics/%s/analysis", args[0]), body, &analysis); err != nil {
				return err
			}
			fmt.Printf("analysis %s created\n", analysis.ID)
			return nil
		},
	}
	startCmd.Flags().BoolVar(&noCache, "no-cache", false, "Force fresh queries instead of reusing recent ones")
	cmd.AddCommand(startCmd)

	var watch bool
	statusCmd := &cobra.Command{
		Use:   "status <analysis-id>",
		Short: "Show a metric analysis's query progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/metric-analyses/%s/status", args[0])
			if watch {
				return watchStatus(client(), path, 3*time.Second)
			}
			return showStatus(client(), path)
		},
	}
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the run completes")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <analysis-id>",
		Short: "Cancel a running metric analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return client().Post(fmt.Sprintf("/v1/metric-analyses/%s/cancel", args[0]), map[string]string{}, nil)
		},
	})

	return cmd
}
