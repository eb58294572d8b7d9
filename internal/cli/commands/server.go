package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"workshop/internal/constants"
	"workshop/internal/xdg"

	"github.com/spf13/cobra"
)

// ServeCommand runs the control plane
func ServeCommand(serve ServeFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workshop control plane",
		Long: `Run the health loop, self-healer and HTTP API in the foreground until
interrupted. With --daemon the control plane is started in the background
and its PID is recorded so 'workshop server stop' can find it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			daemon, _ := cmd.Flags().GetBool("daemon")
			if daemon {
				return startDaemon(cmd, configPath)
			}
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().BoolP("daemon", "d", false, "Run in the background")
	return cmd
}

// ServerCommands creates commands that manage a daemonized control plane
func ServerCommands(api APIFactory) []*cobra.Command {
	commands := []*cobra.Command{}

	// workshop server stop
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background control plane",
		Long:  `Stop a daemonized control plane by sending a graceful shutdown signal.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd)
		},
	}
	commands = append(commands, stopCmd)

	// workshop server status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check control plane status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serverStatus(cmd, api)
		},
	}
	commands = append(commands, statusCmd)

	return commands
}

func runDir() (string, error) {
	dir, err := xdg.StateDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

func pidFilePath() (string, error) {
	dir, err := runDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workshop.pid"), nil
}

// readPID returns 0 when no PID file exists
func readPID() (int, string, error) {
	path, err := pidFilePath()
	if err != nil {
		return 0, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, path, nil
		}
		return 0, path, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, path, fmt.Errorf("invalid PID file %s: %w", path, err)
	}
	return pid, path, nil
}

func alive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func startDaemon(cmd *cobra.Command, configPath string) error {
	if pid, _, err := readPID(); err == nil && pid > 0 && alive(pid) {
		return fmt.Errorf("control plane already running (PID %d)", pid)
	}

	dir, err := runDir()
	if err != nil {
		return err
	}

	args := []string{"serve"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	proc := exec.Command(os.Args[0], args...)

	logPath := filepath.Join(dir, "workshop.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}
	defer logFile.Close()

	proc.Stdout = logFile
	proc.Stderr = logFile
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	pidFile, _ := pidFilePath()
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(proc.Process.Pid)), constants.FilePermissions); err != nil {
		proc.Process.Kill()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Workshop control plane started (PID: %d)\n", proc.Process.Pid)
	fmt.Fprintf(w, "Logs: %s\n", logPath)
	fmt.Fprintln(w, "Use 'workshop server stop' to stop it")
	return nil
}

func stopDaemon(cmd *cobra.Command) error {
	w := cmd.OutOrStdout()
	pid, pidFile, err := readPID()
	if err != nil {
		return err
	}
	if pid == 0 {
		fmt.Fprintln(w, "No PID file found. The control plane may not be running.")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	fmt.Fprintf(w, "Sending shutdown signal to control plane (PID: %d)...\n", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to send shutdown signal: %w", err)
	}

	// Shutdown stops every running service first
	deadline := time.Now().Add(constants.DefaultServerShutdownTimeout + constants.DefaultStopGrace)
	for alive(pid) && time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
	}
	if alive(pid) {
		fmt.Fprintln(w, "Control plane didn't stop gracefully, sending SIGKILL...")
		process.Kill()
	} else {
		fmt.Fprintln(w, "Control plane stopped")
	}

	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(w, "Warning: failed to remove PID file: %v\n", err)
	}
	return nil
}

func serverStatus(cmd *cobra.Command, api APIFactory) error {
	w := cmd.OutOrStdout()

	pid, pidFile, err := readPID()
	switch {
	case err != nil:
		fmt.Fprintf(w, "Daemon: unknown (%v)\n", err)
	case pid == 0:
		fmt.Fprintln(w, "Daemon: not running (no PID file)")
	case !alive(pid):
		fmt.Fprintf(w, "Daemon: not running (PID %d is dead)\n", pid)
		os.Remove(pidFile)
	default:
		fmt.Fprintf(w, "Daemon: running (PID: %d)\n", pid)
	}

	c, err := api()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	health, err := c.Health(ctx)
	if err != nil {
		fmt.Fprintf(w, "API: %s\n", styleDown.Render("unreachable"))
		return nil
	}
	fmt.Fprintf(w, "API: %s (version %v, up %v, %v services)\n",
		styleHealthy.Render(fmt.Sprint(health["status"])), health["version"], health["uptime"], health["services"])
	return nil
}
