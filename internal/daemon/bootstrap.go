package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// RunArgs builds the argument list for the foreground `run` command.
func RunArgs(configPath string) []string {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}

// StartDaemon spawns `appgate run` detached from the parent process.
func StartDaemon(configPath string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}
	return StartDaemonWithPath(executable, configPath)
}

// StartDaemonWithPath spawns binaryPath with the `run` command detached
// from the parent process and returns the child PID.
func StartDaemonWithPath(binaryPath, configPath string) (int, error) {
	cmd := exec.Command(binaryPath, RunArgs(configPath)...)

	// New session so the daemon outlives the terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// No stdin/stdout/stderr; the daemon logs to its own file.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// WritePIDFile records pid at path with 0600 permissions.
func WritePIDFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0600)
}

// ReadPIDFile returns the PID stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	return pid, nil
}
