//go:build !unix

package trust

import (
	"fmt"
	"os"
	"os/exec"
)

// relaunchProcess starts a fresh copy of the process sharing the terminal. The
// caller is expected to exit afterwards.
func relaunchProcess() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	cmd := exec.Command(executable, os.Args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", executable, err)
	}
	return cmd.Process.Release()
}
