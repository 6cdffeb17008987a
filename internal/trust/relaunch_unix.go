//go:build unix

package trust

import (
	"fmt"
	"os"
	"syscall"
)

// relaunchProcess replaces the current process image with a fresh copy of itself.
func relaunchProcess() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	return syscall.Exec(executable, os.Args, os.Environ())
}
