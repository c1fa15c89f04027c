package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newImportCmd(client func() *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Discover past experiments in warehouse assignment data",
	}

	var noCache bool
	startCmd := &cobra.Command{
		Use:   "start <datasource-id>",
		Short: "Start a past-experiments import",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			body := map[string]interface{}{"useCache": !noCache}
			var imp struct {
				ID string `json:"ID"`
			}
			if err := client().Post(fmt.Sprintf("/v1/datasources/%s/past-experiments", args[0]), body, &imp); err != nil {
				return err
			}
			fmt.Printf("import %s created\n", imp.ID)
			return nil
		},
	}
	startCmd.Flags().BoolVar(&noCache, "no-cache", false, "Force fresh queries instead of reusing recent ones")
	cmd.AddCommand(startCmd)

	var watch bool
	statusCmd := &cobra.Command{
		Use:   "status <import-id>",
		Short: "Show an import's query progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/past-experiments/%s/status", args[0])
			if watch {
				return watchStatus(client(), path, 3*time.Second)
			}
			return showStatus(client(), path)
		},
	}
	statusCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Poll until the run completes")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <import-id>",
		Short: "Cancel a running import",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return client().Post(fmt.Sprintf("/v1/past-experiments/%s/cancel", args[0]), map[string]string{}, nil)
		},
	})

	return cmd
}
