package handshake

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Host uses the real socket calls. It is used through a pointer so an
// interface call lands on the method itself.
type Host struct{}

var (
	_ Socketer = (*Host)(nil)
	_ Conn     = (*Host)(nil)
)

// Socketpair calls socketpair(2)
func (*Host) Socketpair(domain, typ, proto int) ([2]int, error) {
	return unix.Socketpair(domain, typ, proto)
}

// SetsockoptTimeval calls setsockopt(2)
func (*Host) SetsockoptTimeval(fd, level, opt int, tv *unix.Timeval) error {
	return unix.SetsockoptTimeval(fd, level, opt, tv)
}

// Read calls read(2)
//
//go:nosplit
//go:norace
func (*Host) Read(fd int, p []byte) (int, syscall.Errno) {
	if len(p) == 0 {
		return 0, 0
	}
	n, _, err := syscall.RawSyscall(unix.SYS_READ, uintptr(fd), uintptr(unsafe.Pointer(&p[0])), uintptr(len(p)))
	return int(n), err
}

// Write calls write(2)
//
//go:nosplit
//go:norace
func (*Host) Write(fd int, p []byte) (int, syscall.Errno) {
	if len(p) == 0 {
		return 0, 0
	}
	n, _, err := syscall.RawSyscall(unix.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&p[0])), uintptr(len(p)))
	return int(n), err
}

// Close calls close(2)
//
//go:nosplit
//go:norace
func (*Host) Close(fd int) syscall.Errno {
	_, _, err := syscall.RawSyscall(unix.SYS_CLOSE, uintptr(fd), 0, 0)
	return err
}

// SetRecvTimeout calls setsockopt(fd, SOL_SOCKET, SO_RCVTIMEO)
//
//go:nosplit
//go:norace
func (*Host) SetRecvTimeout(fd int, nsec int64) syscall.Errno {
	tv := unix.NsecToTimeval(nsec)
	_, _, err := syscall.RawSyscall6(unix.SYS_SETSOCKOPT, uintptr(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO,
		uintptr(unsafe.Pointer(&tv)), unsafe.Sizeof(tv), 0)
	return err
}

// monotonic returns CLOCK_MONOTONIC in nanoseconds
//
//go:nosplit
//go:norace
func monotonic() int64 {
	var ts unix.Timespec
	syscall.RawSyscall(unix.SYS_CLOCK_GETTIME, unix.CLOCK_MONOTONIC, uintptr(unsafe.Pointer(&ts)), 0)
	return int64(ts.Sec)*1e9 + int64(ts.Nsec)
}
