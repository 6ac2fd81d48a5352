package container

import (
	"syscall"
	"time"

	"github.com/criyle/go-curium/pkg/closerange"
	"github.com/criyle/go-curium/pkg/fixedbuf"
	"github.com/criyle/go-curium/pkg/handshake"
	"github.com/criyle/go-curium/pkg/mount"
	"github.com/criyle/go-curium/pkg/rlimit"
	"golang.org/x/sys/unix"
)

// childState is everything the child needs, prepared by the parent before
// the clone. The child only reads it, except for buf and report.
type childState struct {
	parentFd, childFd int
	syncTimeout       time.Duration

	closeRange closerange.Range
	rootfs     *mount.Rootfs
	hostname   []byte
	dir        *byte
	rlimits    []rlimit.RLimit
	prog       *unix.SockFprog

	path       *byte
	argv, envv []*byte

	buf       [1]byte
	report    fixedbuf.Writer
	reportBuf [128]byte
}

var _ Continuation = (*childState)(nil)

// Run is the child side of the spawn. It ends in execve or exit_group.
//
//go:nosplit
//go:norace
func (c *childState) Run(k *Kernel) {
	if err := k.Conn.Close(c.parentFd); err != 0 {
		c.fail(k, LocCloseParent, "", err)
	}
	if err := c.closeRange.Close(k.Files); err != 0 {
		c.fail(k, LocCloseRange, "", err)
	}

	// wait for the parent to finish the mapping and setup
	switch st, err := handshake.Wait(k.Conn, c.childFd, c.buf[:], c.syncTimeout); st {
	case handshake.StatusOK:
	case handshake.StatusEOF:
		c.fail(k, LocSyncEOF, "", 0)
	case handshake.StatusTimeout:
		c.fail(k, LocSyncTimeout, "", err)
	default:
		c.fail(k, LocSyncRead, "", err)
	}

	if c.rootfs != nil {
		if step, err := c.rootfs.Setup(k.Mounts); err != 0 {
			c.fail(k, LocRootfs, step.Name(), err)
		}
	}
	if len(c.hostname) > 0 {
		if err := k.Proc.Sethostname(c.hostname); err != 0 {
			c.fail(k, LocSetHostname, "", err)
		}
	}
	if c.dir != nil {
		if err := k.Mounts.Chdir(c.dir); err != 0 {
			c.fail(k, LocChdir, "", err)
		}
	}
	if _, err := rlimit.Apply(k.Limits, c.rlimits); err != 0 {
		c.fail(k, LocSetRlimit, "", err)
	}
	if c.prog != nil {
		if err := k.Filter.SetNoNewPrivs(); err != 0 {
			c.fail(k, LocSetNoNewPrivs, "", err)
		}
		if err := k.Filter.LoadSeccomp(c.prog); err != 0 {
			c.fail(k, LocSeccomp, "", err)
		}
	}

	err := k.Proc.Exec(c.path, c.argv, c.envv)
	c.fail(k, LocExecve, "", err)
}

// fail reports the failed location on fd 2 and exits. detail is appended
// in parentheses when not empty and the errno only when set.
//
//go:nosplit
//go:norace
func (c *childState) fail(k *Kernel, loc ErrorLocation, detail string, err syscall.Errno) {
	w := &c.report
	w.Reset()
	w.WriteString("curium: ")
	w.WriteString(loc.name())
	if detail != "" {
		w.WriteString("(")
		w.WriteString(detail)
		w.WriteString(")")
	}
	if err != 0 {
		w.WriteString(": errno ")
		w.WriteUint(uint64(err))
	}
	w.WriteByte('\n')
	k.Conn.Write(2, w.Bytes())
	k.Proc.Exit(ExitCodeSetupFailed)
}
