// Package closerange wraps close_range(2) to strip inherited file
// descriptors before execve.
//
// close_range requires kernel >= 5.9, CLOSE_RANGE_CLOEXEC >= 5.11
package closerange

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// close_range flags
const (
	FlagUnshare = unix.CLOSE_RANGE_UNSHARE
	FlagCloexec = unix.CLOSE_RANGE_CLOEXEC
)

// MaxFd is the largest descriptor number accepted as the end of a range
const MaxFd = ^uint(0)

// Closer performs the close_range call
type Closer interface {
	CloseRange(first, last uint, flags uint) syscall.Errno
}

// Range describes every descriptor in [first, last]
type Range struct {
	first, last uint
	flags       uint
}

// New creates a range closing [first, last]
func New(first, last uint) Range {
	return Range{first: first, last: last}
}

// CloseOnExec marks the descriptors close-on-exec instead of closing them
// immediately, so descriptors still in use survive until execve.
func (r Range) CloseOnExec() Range {
	r.flags |= FlagCloexec
	return r
}

// UnshareFirst detaches the descriptor table from any other process or
// thread sharing it before closing, so no sharer can close or reuse a
// number in the middle of the operation.
func (r Range) UnshareFirst() Range {
	r.flags |= FlagUnshare
	return r
}

// Flags returns the close_range flags.
func (r Range) Flags() uint {
	return r.flags
}

// Close performs the operation through c.
//
//go:nosplit
//go:norace
func (r Range) Close(c Closer) syscall.Errno {
	return c.CloseRange(r.first, r.last, r.flags)
}

// Host issues the real syscall.
type Host struct{}

var _ Closer = (*Host)(nil)

// CloseRange calls close_range(first, last, flags).
//
//go:nosplit
//go:norace
func (*Host) CloseRange(first, last uint, flags uint) syscall.Errno {
	_, _, err := syscall.RawSyscall(unix.SYS_CLOSE_RANGE, uintptr(first), uintptr(last), uintptr(flags))
	return err
}
