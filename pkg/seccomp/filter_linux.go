// Package seccomp builds seccomp BPF filters loaded by a process before
// execve.
package seccomp

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// seccomp(2) operation
const setModeFilter = 1 // SECCOMP_SET_MODE_FILTER

// Filter is the BPF seccomp filter value
type Filter []unix.SockFilter

// SockFprog converts Filter to SockFprog for seccomp syscall. It returns
// nil for an empty filter.
func (f Filter) SockFprog() *unix.SockFprog {
	if len(f) == 0 {
		return nil
	}
	return &unix.SockFprog{
		Len:    uint16(len(f)),
		Filter: &f[0],
	}
}

// Loader installs a filter on the calling process. An unprivileged process
// has to set no_new_privs first.
type Loader interface {
	SetNoNewPrivs() syscall.Errno
	LoadSeccomp(prog *unix.SockFprog) syscall.Errno
}

// Host installs filters with the real syscalls
type Host struct{}

var _ Loader = (*Host)(nil)

// SetNoNewPrivs calls prctl(PR_SET_NO_NEW_PRIVS, 1)
//
//go:nosplit
//go:norace
func (*Host) SetNoNewPrivs() syscall.Errno {
	_, _, err := syscall.RawSyscall6(unix.SYS_PRCTL, unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0, 0)
	return err
}

// LoadSeccomp calls seccomp(SECCOMP_SET_MODE_FILTER, 0, prog)
//
//go:nosplit
//go:norace
func (*Host) LoadSeccomp(prog *unix.SockFprog) syscall.Errno {
	_, _, err := syscall.RawSyscall(unix.SYS_SECCOMP, setModeFilter, 0, uintptr(unsafe.Pointer(prog)))
	return err
}
