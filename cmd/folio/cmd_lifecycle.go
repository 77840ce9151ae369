package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

var errNotRunning = errors.New("folio is not running")

// daemon locates the serve process through its PID file.
type daemon struct {
	pidPath string
	addr    string
}

func currentDaemon() daemon {
	cfg := loadConfig()
	return daemon{pidPath: filepath.Join(cfg.DataDir, pidFile), addr: cfg.Server.Addr}
}

// process returns the live serve process. A PID file left behind by a
// crashed daemon reports errNotRunning.
func (d daemon) process() (*os.Process, error) {
	data, err := os.ReadFile(d.pidPath)
	if os.IsNotExist(err) {
		return nil, errNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("corrupt PID file %s: %w", d.pidPath, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if proc.Signal(syscall.Signal(0)) != nil {
		return nil, fmt.Errorf("%w (stale PID %d)", errNotRunning, pid)
	}
	return proc, nil
}

func (d daemon) signal(sig syscall.Signal) (int, error) {
	proc, err := d.process()
	if err != nil {
		return 0, err
	}
	if err := proc.Signal(sig); err != nil {
		return 0, fmt.Errorf("send %s to %d: %w", sig, proc.Pid, err)
	}
	return proc.Pid, nil
}

// healthy asks the API whether it is serving.
func (d daemon) healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+d.addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the API daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := currentDaemon().signal(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Stopping folio (PID %d).\n", pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Re-exec the API daemon with the current binary and config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := currentDaemon().signal(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Restarting folio (PID %d).\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the API daemon is running and answering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d := currentDaemon()
		proc, err := d.process()
		if err != nil {
			warnColor.Fprintln(os.Stdout, err)
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		if err := d.healthy(ctx); err != nil {
			warnColor.Fprintf(os.Stdout, "Running (PID %d) but %s is not answering: %v\n", proc.Pid, d.addr, err)
			return nil
		}
		okColor.Fprintf(os.Stdout, "Running (PID %d) on %s.\n", proc.Pid, d.addr)
		return nil
	},
}
