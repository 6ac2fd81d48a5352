package container

import (
	"syscall"
	"unsafe" // required for go:linkname.

	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/closerange"
	"github.com/criyle/go-curium/pkg/handshake"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/criyle/go-curium/pkg/mount"
	"github.com/criyle/go-curium/pkg/seccomp"
	"golang.org/x/sys/unix"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// host implements the calls no package backend covers
type host struct {
	k *Kernel
}

// HostKernel returns the Kernel of the running system. The backends are
// pointers so every call from the child lands on the raw syscall method
// without a wrapper frame.
func HostKernel() *Kernel {
	var (
		h  = &host{}
		hs = &handshake.Host{}
	)
	k := &Kernel{
		Clone:   h,
		Files:   &closerange.Host{},
		Mounts:  &mount.Host{},
		Sockets: hs,
		Conn:    hs,
		IDs:     &idmap.Host{},
		Limits:  h,
		Filter:  &seccomp.Host{},
		Proc:    h,
		Reaper:  h,
	}
	h.k = k
	return k
}

// Clone holds syscall.ForkLock over the clone so no descriptor created by a
// concurrent os/exec leaks into the child without close-on-exec.
func (h *host) Clone(a *clone3.Args, c Continuation) (clone3.Outcome, syscall.Errno) {
	syscall.ForkLock.Lock()
	out, err := h.fork(a, c)
	syscall.ForkLock.Unlock()
	return out, err
}

// fork follows forkAndExecInChild1 from src/syscall/exec_linux.go
//
//go:noinline
//go:norace
func (h *host) fork(a *clone3.Args, c Continuation) (clone3.Outcome, syscall.Errno) {
	beforeFork()
	out, err := clone3.Clone(a)
	if err != 0 {
		afterFork()
		return out, err
	}
	if out.IsChild() {
		afterForkInChild()
		c.Run(h.k)
		// Run ends in execve or exit_group
		for {
			syscall.RawSyscall(unix.SYS_EXIT_GROUP, ExitCodeSetupFailed, 0, 0)
		}
	}
	afterFork()
	return out, 0
}

// Setrlimit calls prlimit64(2) on the calling process
//
//go:nosplit
//go:norace
func (h *host) Setrlimit(resource int, rlim *syscall.Rlimit) syscall.Errno {
	_, _, err := syscall.RawSyscall6(unix.SYS_PRLIMIT64, 0, uintptr(resource), uintptr(unsafe.Pointer(rlim)), 0, 0, 0)
	return err
}

// Sethostname calls sethostname(2)
//
//go:nosplit
//go:norace
func (h *host) Sethostname(name []byte) syscall.Errno {
	var p unsafe.Pointer
	if len(name) > 0 {
		p = unsafe.Pointer(&name[0])
	}
	_, _, err := syscall.RawSyscall(unix.SYS_SETHOSTNAME, uintptr(p), uintptr(len(name)), 0)
	return err
}

// Exec calls execve(2). argv and envv are nil terminated.
//
//go:nosplit
//go:norace
func (h *host) Exec(path *byte, argv, envv []*byte) syscall.Errno {
	_, _, err := syscall.RawSyscall(unix.SYS_EXECVE, uintptr(unsafe.Pointer(path)),
		uintptr(unsafe.Pointer(&argv[0])), uintptr(unsafe.Pointer(&envv[0])))
	return err
}

// Exit calls exit_group(2)
//
//go:nosplit
//go:norace
func (h *host) Exit(code int) {
	for {
		syscall.RawSyscall(unix.SYS_EXIT_GROUP, uintptr(code), 0, 0)
	}
}

func (h *host) Wait4(pid int, status *syscall.WaitStatus) (int, error) {
	return syscall.Wait4(pid, status, syscall.WALL, nil)
}

func (h *host) Kill(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
