package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage experiment snapshots",
	}

	var (
		phase     int
		dimension string
		noCache   bool
	)
	startCmd := &cobra.Command{
		Use:   "start <experiment-id>",
		Short: "Start a snapshot run for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			useCache := !noCache
			body := map[string]interface{}{
				"phase":     phase,
				"dimension": dimension,
				"useCache":  useCache,
			}
			var snap struct {
				ID      string          `json:"ID"`
				Queries json.RawMessage `json:"Queries"`
			}
			if err := client().Post(fmt.Sprintf("/v1/experiments/%s/snapshots", args[0]), body, &snap); err != nil {
				return err
			}
			fmt.Printf("snapshot %s created\n", snap.ID)
			return nil
		},
	}
	startCmd.Flags().IntVar(&phase, "phase", 0, "Experiment phase index")
	startCmd.Flags().StringVar(&dimension, "dimension", "", "Dimension to slice results by")
	startCmd.Flags().BoolVar(&noCache, "no-cache", false, "Force fresh queries instead of reusing recent ones")
	cmd.AddCommand(startCmd)

	var watch bool
	statusCmd := &cobra.Command{
		Use:   "status <snapshot-id>",
		Short: "Show a snapshot run's query progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/snapshots/%s/status", args[0])
			if watch {
				return watchStatus(client(), path, 3*time.Second)
			}
			return showStatus(client(), path)
		},
	}
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the run completes")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <snapshot-id>",
		Short: "Cancel a running snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return client().Post(fmt.Sprintf("/v1/snapshots/%s/cancel", args[0]), map[string]string{}, nil)
		},
	})

	return cmd
}
