package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Challenge represents challenge metadata returned by the admin API
type Challenge struct {
	Identity     string    `json:"identity"`
	Purpose      string    `json:"purpose"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Expired      bool      `json:"expired"`
	LastDelivery *struct {
		Delivered  bool      `json:"delivered"`
		Provider   string    `json:"provider"`
		Attempts   int       `json:"attempts"`
		Error      string    `json:"error"`
		FinishedAt time.Time `json:"finished_at"`
	} `json:"last_delivery,omitempty"`
}

// ReissueResult represents the reissue response
type ReissueResult struct {
	Outcome  string `json:"outcome"`
	Identity string `json:"identity"`
	Purpose  string `json:"purpose"`
	Created  bool   `json:"created"`
}

var challengePurpose string

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Inspect and reissue verification codes",
}

var challengeShowCmd = &cobra.Command{
	Use:   "show [email]",
	Short: "Show a pending challenge without its code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		path := "/admin/challenges/" + url.PathEscape(challengePurpose) + "/" + url.PathEscape(args[0])
		data, err := client.Request(cmd.Context(), "GET", path, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var ch Challenge
		if err := json.Unmarshal(data, &ch); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		rows := [][]string{
			{"identity", ch.Identity},
			{"purpose", ch.Purpose},
			{"attempts", fmt.Sprintf("%d/%d", ch.Attempts, ch.MaxAttempts)},
			{"created_at", ch.CreatedAt.Format(time.RFC3339)},
			{"expires_at", ch.ExpiresAt.Format(time.RFC3339)},
			{"expired", strconv.FormatBool(ch.Expired)},
		}
		if d := ch.LastDelivery; d != nil {
			delivery := "delivered via " + d.Provider
			if !d.Delivered {
				delivery = "failed: " + d.Error
			}
			rows = append(rows, []string{"last_delivery", fmt.Sprintf("%s (%d attempts)", delivery, d.Attempts)})
		}
		printTable(out, []string{"FIELD", "VALUE"}, rows)
		return nil
	},
}

var challengeReissueCmd = &cobra.Command{
	Use:   "reissue [email]",
	Short: "Issue a fresh code and queue its delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewClient(adminURL, adminToken)
		data, err := client.Request(cmd.Context(), "POST", "/admin/challenges/reissue", map[string]string{
			"identity": args[0],
			"purpose":  challengePurpose,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if output == "json" {
			return printJSON(out, data)
		}

		var result ReissueResult
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if !result.Created {
			fmt.Fprintf(out, "No account for %s; nothing was sent.\n", result.Identity)
			return nil
		}
		fmt.Fprintf(out, "New %s code queued for %s.\n", result.Purpose, result.Identity)
		return nil
	},
}

func init() {
	challengeCmd.PersistentFlags().StringVarP(&challengePurpose, "purpose", "p", "signup", "Challenge purpose: signup, credential_reset")
	challengeCmd.AddCommand(challengeShowCmd)
	challengeCmd.AddCommand(challengeReissueCmd)
	rootCmd.AddCommand(challengeCmd)
}
