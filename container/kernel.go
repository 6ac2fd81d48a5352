package container

import (
	"syscall"

	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/closerange"
	"github.com/criyle/go-curium/pkg/handshake"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/criyle/go-curium/pkg/mount"
	"github.com/criyle/go-curium/pkg/rlimit"
	"github.com/criyle/go-curium/pkg/seccomp"
)

// Continuation is the code the child runs after the clone. It is called
// through a pointer receiver so no wrapper or closure is involved.
type Continuation interface {
	Run(k *Kernel)
}

// Cloner creates the child. In the child it must call c.Run and never
// return.
type Cloner interface {
	Clone(a *clone3.Args, c Continuation) (clone3.Outcome, syscall.Errno)
}

// Process covers the calls that replace or end the calling process
type Process interface {
	Sethostname(name []byte) syscall.Errno
	Exec(path *byte, argv, envv []*byte) syscall.Errno
	Exit(code int)
}

// Reaper waits for and kills the child from the parent
type Reaper interface {
	Wait4(pid int, status *syscall.WaitStatus) (int, error)
	Kill(pid int, sig syscall.Signal) error
}

// Kernel is the set of kernel calls a spawn uses. Each field has its own
// interface type so the child only ever calls through the exact interface
// it was given.
type Kernel struct {
	Clone   Cloner
	Files   closerange.Closer
	Mounts  mount.Syscaller
	Sockets handshake.Socketer
	Conn    handshake.Conn
	IDs     idmap.Sys
	Limits  rlimit.Setter
	Filter  seccomp.Loader
	Proc    Process
	Reaper  Reaper
}
