package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd)
}

// daemonProcess resolves the running daemon from its PID file. Signal 0
// probes that the recorded process is actually alive; a stale file is
// reported the same as a missing one.
func daemonProcess() (*os.Process, int, error) {
	cfg := loadConfig()
	pidPath := filepath.Join(cfg.DataDir, "chatkeeper.pid")

	data, err := os.ReadFile(pidPath)
	if os.IsNotExist(err) {
		return nil, 0, fmt.Errorf("chatkeeper is not running (no PID file at %s)", pidPath)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", pidPath, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("%s does not hold a PID: %w", pidPath, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, 0, fmt.Errorf("chatkeeper is not running (stale PID %d in %s)", pid, pidPath)
	}
	return proc, pid, nil
}

func signalDaemon(sig syscall.Signal, verb string) error {
	proc, pid, err := daemonProcess()
	if err != nil {
		return err
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal daemon (PID %d): %w", pid, err)
	}
	fmt.Fprintf(os.Stdout, "%s daemon (PID %d).\n", verb, pid)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGTERM, "Stopping")
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalDaemon(syscall.SIGHUP, "Restarting")
	},
}
