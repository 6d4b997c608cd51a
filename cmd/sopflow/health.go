package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var probe bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health and readiness",
	Long: `Check server health and readiness.

With --probe nothing is printed and the exit code reports readiness, which
suits container health checks.`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&probe, "probe", false, "Exit non-zero unless the server is ready; print nothing")
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	if probe {
		cmd.SilenceErrors = true
		return client.getJSON("/readyz", nil)
	}

	var healthResp map[string]any
	if err := client.getJSON("/healthz", &healthResp); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	var readyResp map[string]any
	if err := client.getJSON("/readyz", &readyResp); err != nil {
		// Not ready yet is still a report, not a failure of the command.
		readyResp = map[string]any{"status": "not_ready", "error": err.Error()}
	}

	if structuredOutput() {
		return printOutput(map[string]any{
			"health":    healthResp,
			"readiness": readyResp,
		})
	}

	status, _ := healthResp["status"].(string)
	uptime, _ := healthResp["uptime"].(string)
	ready, _ := readyResp["status"].(string)

	printTable([]string{"Check", "Status"}, [][]string{
		{"Liveness", status},
		{"Uptime", uptime},
		{"Readiness", ready},
		{"Workflow DB", componentStatus(readyResp, "database")},
		{"Incident log", componentStatus(readyResp, "incident_log")},
	})
	return nil
}

func componentStatus(ready map[string]any, name string) string {
	c, ok := ready[name].(map[string]any)
	if !ok {
		return "unknown"
	}
	s, _ := c["status"].(string)
	return s
}
