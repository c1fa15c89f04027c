package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCompareCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare two user segments",
	}

	var noCache bool
	startCmd := &cobra.Command{
		Use:   "start <datasource-id> <segment1> <segment2>",
		Short: "Start a segment comparison",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"segment1": args[1],
				"segment2": args[2],
				"useCache": !noCache,
			}
			var sc struct {
				ID string `json:"ID"`
			}
			if err := client().Post(fmt.Sprintf("/v1/datasources/%s/segment-comparisons", args[0]), body, &sc); err != nil {
				return err
			}
			fmt.Printf("comparison %s created\n", sc.ID)
			return nil
		},
	}
	startCmd.Flags().BoolVar(&noCache, "no-cache", false, "Force fresh queries instead of reusing recent ones")
	cmd.AddCommand(startCmd)

	var watch bool
	statusCmd := &cobra.Command{
		Use:   "status <comparison-id>",
		Short: "Show a comparison's query progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/segment-comparisons/%s/status", args[0])
			if watch {
				return watchStatus(client(), path, 3*time.Second)
			}
			return showStatus(client(), path)
		},
	}
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the run completes")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <comparison-id>",
		Short: "Cancel a running comparison",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return client().Post(fmt.Sprintf("/v1/segment-comparisons/%s/cancel", args[0]), map[string]string{}, nil)
		},
	})

	return cmd
}
