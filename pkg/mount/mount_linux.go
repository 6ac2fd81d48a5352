package mount

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const atFdcwd = unix.AT_FDCWD

// Host issues the real syscalls. Every method is safe to call between
// clone and execve.
type Host struct{}

var _ Syscaller = (*Host)(nil)

// Mount calls mount(2)
//
//go:nosplit
//go:norace
func (*Host) Mount(source, target, fsType *byte, flags uintptr, data *byte) syscall.Errno {
	_, _, err := syscall.RawSyscall6(unix.SYS_MOUNT, uintptr(unsafe.Pointer(source)), uintptr(unsafe.Pointer(target)),
		uintptr(unsafe.Pointer(fsType)), flags, uintptr(unsafe.Pointer(data)), 0)
	return err
}

// Mkdir calls mkdirat(2) relative to the working directory
//
//go:nosplit
//go:norace
func (*Host) Mkdir(path *byte, mode uint32) syscall.Errno {
	dirfd := atFdcwd
	_, _, err := syscall.RawSyscall(unix.SYS_MKDIRAT, uintptr(dirfd), uintptr(unsafe.Pointer(path)), uintptr(mode))
	return err
}

// PivotRoot calls pivot_root(2)
//
//go:nosplit
//go:norace
func (*Host) PivotRoot(newRoot, putOld *byte) syscall.Errno {
	_, _, err := syscall.RawSyscall(unix.SYS_PIVOT_ROOT, uintptr(unsafe.Pointer(newRoot)), uintptr(unsafe.Pointer(putOld)), 0)
	return err
}

// Unmount calls umount2(2)
//
//go:nosplit
//go:norace
func (*Host) Unmount(target *byte, flags int) syscall.Errno {
	_, _, err := syscall.RawSyscall(unix.SYS_UMOUNT2, uintptr(unsafe.Pointer(target)), uintptr(flags), 0)
	return err
}

// Rmdir calls unlinkat(2) with AT_REMOVEDIR
//
//go:nosplit
//go:norace
func (*Host) Rmdir(path *byte) syscall.Errno {
	dirfd := atFdcwd
	_, _, err := syscall.RawSyscall(unix.SYS_UNLINKAT, uintptr(dirfd), uintptr(unsafe.Pointer(path)), unix.AT_REMOVEDIR)
	return err
}

// Chdir calls chdir(2)
//
//go:nosplit
//go:norace
func (*Host) Chdir(path *byte) syscall.Errno {
	_, _, err := syscall.RawSyscall(unix.SYS_CHDIR, uintptr(unsafe.Pointer(path)), 0, 0)
	return err
}
