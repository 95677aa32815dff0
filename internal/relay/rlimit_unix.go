//go:build linux || darwin

package relay

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// DescriptorLimit returns the soft RLIMIT_NOFILE for this process
func DescriptorLimit() (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("getrlimit: %w", err)
	}
	return rl.Cur, nil
}

func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.ENOMEM)
}
