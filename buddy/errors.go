package buddy

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors. Each wraps the errno a C-style caller would see,
// so errors.Is matches both the sentinel and the syscall.Errno.
var (
	// ErrInvalidRank is returned for a rank outside [1, maxRank].
	ErrInvalidRank = fmt.Errorf("buddy: invalid rank: %w", syscall.EINVAL)

	// ErrInvalidArgument is returned for a pointer outside the pool, a misaligned
	// pointer, or a pointer that is not the head of a currently allocated block.
	ErrInvalidArgument = fmt.Errorf("buddy: invalid argument: %w", syscall.EINVAL)

	// ErrOutOfMemory is returned when no free block at or above the requested rank exists.
	ErrOutOfMemory = fmt.Errorf("buddy: out of memory: %w", syscall.ENOSPC)

	// ErrCorrupt is returned by Check when the bookkeeping violates an invariant.
	ErrCorrupt = errors.New("buddy: corrupt state")
)

// Errno maps err to a negative errno value: 0 for nil, -EINVAL or -ENOSPC
// for the sentinels above, and -EINVAL for anything without an errno.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(syscall.EINVAL)
}
