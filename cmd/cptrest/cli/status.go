package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check if the cptrest server is running",
		Long:  "Check the status of the cptrest server, including process state and readiness.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func runStatus(out io.Writer) error {
	pid, err := readPID()
	if err != nil {
		fmt.Fprintln(out, "Server is not running (no PID file found).")
		return nil
	}

	if !isProcessRunning(pid) {
		removePID()
		fmt.Fprintln(out, "Server is not running (stale PID file removed).")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	readyAddr := fmt.Sprintf("http://%s:%d/readyz", host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(readyAddr)
	if err != nil {
		fmt.Fprintf(out, "Server process is running (PID %d) but not responding to HTTP.\n", pid)
		fmt.Fprintf(out, "  Logs: %s\n", logFilePath())
		return nil
	}
	defer resp.Body.Close()

	var ready readiness
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		ready.Status = "unknown"
	}

	fmt.Fprintf(out, "Server is running (PID %d)\n", pid)
	fmt.Fprintf(out, "  Ready:   %s (%d %s)\n", readyAddr, resp.StatusCode, ready.Status)
	names := make([]string, 0, len(ready.Checks))
	for name := range ready.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "    %-10s %s\n", name+":", ready.Checks[name])
	}
	fmt.Fprintf(out, "  Logs:    %s\n", logFilePath())
	return nil
}
