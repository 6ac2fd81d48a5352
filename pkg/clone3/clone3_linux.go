// Package clone3 wraps the clone3 syscall used to duplicate the calling
// process into new namespaces.
//
// The child returned by Clone shares nothing with the Go runtime of the
// parent except a copy of its memory. Until execve the child may only call
// functions marked go:nosplit that neither allocate nor lock.
//
// clone3 requires kernel >= 5.3, CLONE_CLEAR_SIGHAND >= 5.5 and
// CLONE_INTO_CGROUP >= 5.7
package clone3

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// cloneArgs holds arguments for clone3 Linux syscall.
// from src/syscall/exec_linux.go:196
type cloneArgs struct {
	flags      uint64 // Flags bit mask
	pidFD      uint64 // Where to store PID file descriptor (int *)
	childTID   uint64 // Where to store child TID, in child's memory (pid_t *)
	parentTID  uint64 // Where to store child TID, in parent's memory (pid_t *)
	exitSignal uint64 // Signal to deliver to parent on child termination
	stack      uint64 // Pointer to lowest byte of stack
	stackSize  uint64 // Size of stack
	tls        uint64 // Location of new TLS
	setTID     uint64 // Pointer to a pid_t array (since Linux 5.5)
	setTIDSize uint64 // Number of elements in set_tid (since Linux 5.5)
	cgroup     uint64 // File descriptor for target cgroup of child (since Linux 5.7)
}

// Args is a prepared clone3 argument block. It lives on the heap so the
// kernel populated parent tid slot stays valid and no allocation happens at
// clone time.
type Args struct {
	raw cloneArgs
	tid int32
}

// NewArgs prepares the arguments for flags. cgroupFD is only used when
// IntoCgroup is requested. CLONE_PARENT_SETTID is always added.
func NewArgs(flags Flags, cgroupFD int) *Args {
	a := &Args{}
	a.raw.flags = uint64(flags | parentSetTID)
	a.raw.exitSignal = uint64(unix.SIGCHLD)
	a.raw.parentTID = uint64(uintptr(unsafe.Pointer(&a.tid)))
	if flags.Has(IntoCgroup) {
		a.raw.cgroup = uint64(cgroupFD)
	}
	return a
}

// Flags returns the flags passed to the kernel.
func (a *Args) Flags() Flags {
	return Flags(a.raw.flags)
}

// Clone calls clone3 with a. On failure no process was created and the
// outcome is zero. In the child it returns an outcome whose IsChild is true
// and the caller is bound by the package level restrictions.
//
//go:nosplit
//go:norace
func Clone(a *Args) (Outcome, syscall.Errno) {
	a.tid = 0
	r1, _, err1 := syscall.RawSyscall(unix.SYS_CLONE3, uintptr(unsafe.Pointer(&a.raw)), unsafe.Sizeof(a.raw), 0)
	if err1 != 0 {
		return Outcome{}, err1
	}
	if r1 == 0 {
		return Outcome{Kind: KindChild}, 0
	}
	// the kernel has populated the parent tid slot only after success
	return Outcome{Kind: KindParent, Pid: int(r1), Tid: int(a.tid)}, 0
}
