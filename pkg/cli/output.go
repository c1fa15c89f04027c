package cli

import (
	"encoding/json"
	"fmt"
	"time"
)

func jsonIndent(v interface{}) (string, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// watchStatus polls a status endpoint until the run reaches a terminal
// state, printing progress as it goes.
func watchStatus(client *Client, path string, interval time.Duration) error {
	for {
		var st RunStatus
		if err := client.Get(path, &st); err != nil {
			return err
		}
		fmt.Printf("%s: %d/%d queries finished (%.0fs elapsed)\n", st.QueryStatus, st.Finished, st.Total, st.Elapsed)

		switch st.QueryStatus {
		case "succeeded":
			return printJSON(st)
		case "failed":
			if st.Error != "" {
				return fmt.Errorf("run failed: %s", st.Error)
			}
			return fmt.Errorf("run failed")
		}
		time.Sleep(interval)
	}
}

// showStatus fetches a status endpoint once and prints it.
func showStatus(client *Client, path string) error {
	var st RunStatus
	if err := client.Get(path, &st); err != nil {
		return err
	}
	return printJSON(st)
}
