package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// Status represents the admin status response
type Status struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Storage    string `json:"storage"`
	APIVersion int    `json:"api_version"`
	Dispatcher *struct {
		Enqueued     uint64 `json:"enqueued"`
		Delivered    uint64 `json:"delivered"`
		FallbackUsed uint64 `json:"fallback_used"`
		Failed       uint64 `json:"failed"`
		Dropped      uint64 `json:"dropped"`
		QueueLength  int    `json:"queue_length"`
	} `json:"dispatcher,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and delivery queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request(cmd.Context(), "GET", "/admin/status", nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var status Status
		if err := json.Unmarshal(data, &status); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		rows := [][]string{
			{"status", status.Status},
			{"service", status.Service},
			{"storage", status.Storage},
			{"api_version", strconv.Itoa(status.APIVersion)},
		}
		if d := status.Dispatcher; d != nil {
			rows = append(rows,
				[]string{"enqueued", strconv.FormatUint(d.Enqueued, 10)},
				[]string{"delivered", strconv.FormatUint(d.Delivered, 10)},
				[]string{"fallback_used", strconv.FormatUint(d.FallbackUsed, 10)},
				[]string{"failed", strconv.FormatUint(d.Failed, 10)},
				[]string{"dropped", strconv.FormatUint(d.Dropped, 10)},
				[]string{"queue_length", strconv.Itoa(d.QueueLength)},
			)
		}
		printTable(out, []string{"FIELD", "VALUE"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
