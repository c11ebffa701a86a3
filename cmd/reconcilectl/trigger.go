package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// triggerCmd asks a running server to reconcile over HTTP.
func triggerCmd() *cobra.Command {
	var (
		server      string
		token       string
		limit       int
		windowHours int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger reconciliation on a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}

			u, err := url.Parse(server)
			if err != nil {
				return fmt.Errorf("invalid --server: %w", err)
			}
			u = u.JoinPath("/api/v1/reconcile")
			q := u.Query()
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if windowHours > 0 {
				q.Set("window_hours", strconv.Itoa(windowHours))
			}
			u.RawQuery = q.Encode()

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, u.String(), nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)

			client := &http.Client{Timeout: timeout}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("trigger: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("trigger: read response: %w", err)
			}

			var pretty bytes.Buffer
			if json.Indent(&pretty, body, "", "  ") == nil {
				body = pretty.Bytes()
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))

			if resp.StatusCode != http.StatusOK {
				if ra := resp.Header.Get("Retry-After"); ra != "" {
					return fmt.Errorf("trigger: server returned %d, retry after %ss", resp.StatusCode, ra)
				}
				return fmt.Errorf("trigger: server returned %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "http://localhost:8080", "Base URL of the reconciler")
	cmd.Flags().StringVarP(&token, "token", "t", "", "Operator bearer token")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum unapplied events to examine")
	cmd.Flags().IntVarP(&windowHours, "window-hours", "w", 0, "Hours of gateway history to scan")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "HTTP timeout")

	return cmd
}
