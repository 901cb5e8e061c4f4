package service

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

func writePIDFile(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}
	return nil
}

// ReadPID returns the recorded pid, or 0 when the pidfile is absent or
// unparsable.
func ReadPID(path string) int {
	data, err := os.ReadFile(path) //nolint:gosec // path from resolver
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// PIDAlive reports whether pid refers to a live process we can signal.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
