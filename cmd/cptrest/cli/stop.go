package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a detached cptrest gateway",
		Long: `Send a graceful shutdown signal to the gateway recorded in the data
directory's PID file and wait for it to drain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.OutOrStdout(), wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Second, "How long to wait for the gateway to exit")

	return cmd
}

func runStop(out io.Writer, wait time.Duration) error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("gateway is not running (no PID file at %s)", pidFilePath())
	}
	if !isProcessRunning(pid) {
		removePID()
		return fmt.Errorf("gateway PID %d is gone; removed stale PID file", pid)
	}

	fmt.Fprintf(out, "Stopping cptrest gateway (PID %d)...\n", pid)
	if err := stopProcess(pid); err != nil {
		return fmt.Errorf("signal gateway: %w", err)
	}

	const poll = 100 * time.Millisecond
	for deadline := time.Now().Add(wait); time.Now().Before(deadline); {
		time.Sleep(poll)
		if !isProcessRunning(pid) {
			removePID()
			fmt.Fprintln(out, "Gateway stopped.")
			return nil
		}
	}
	return fmt.Errorf("gateway PID %d still draining after %s", pid, wait)
}
