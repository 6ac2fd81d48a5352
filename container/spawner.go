package container

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/closerange"
	"github.com/criyle/go-curium/pkg/fixedbuf"
	"github.com/criyle/go-curium/pkg/handshake"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/criyle/go-curium/pkg/mount"
	"go.uber.org/zap"
)

// Spawner runs one Spec
type Spawner struct {
	spec   Spec
	kernel *Kernel
	logger *zap.Logger
}

// Option configures a Spawner
type Option func(*Spawner)

// WithKernel replaces the host kernel, mostly for tests
func WithKernel(k *Kernel) Option {
	return func(s *Spawner) {
		s.kernel = k
	}
}

// WithLogger sets the logger of the parent side
func WithLogger(l *zap.Logger) Option {
	return func(s *Spawner) {
		s.logger = l
	}
}

// New creates a Spawner for spec. The spec is copied.
func New(spec Spec, opts ...Option) *Spawner {
	s := &Spawner{spec: spec}
	for _, o := range opts {
		o(s)
	}
	if s.kernel == nil {
		s.kernel = HostKernel()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Spec returns the spec the Spawner runs
func (s *Spawner) Spec() Spec {
	return s.spec
}

// prepare converts the spec into the child state. Everything the child
// reads is allocated here.
func (s *Spawner) prepare() (*childState, error) {
	var (
		spec = &s.spec
		c    = &childState{
			closeRange: closerange.New(3, closerange.MaxFd).CloseOnExec(),
			rlimits:    spec.RLimits,
			prog:       spec.Seccomp.SockFprog(),
		}
		err error
	)
	if c.path, err = syscall.BytePtrFromString(spec.Path); err != nil {
		return nil, err
	}
	if c.argv, err = syscall.SlicePtrFromStrings(spec.args()); err != nil {
		return nil, err
	}
	if c.envv, err = syscall.SlicePtrFromStrings(spec.Env); err != nil {
		return nil, err
	}
	if spec.Root != "" {
		if c.rootfs, err = mount.NewRootfs(spec.Root); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
	}
	if spec.HostName != "" {
		c.hostname = []byte(spec.HostName)
	}
	if spec.Dir != "" {
		if c.dir, err = syscall.BytePtrFromString(spec.Dir); err != nil {
			return nil, err
		}
	}
	c.report = fixedbuf.New(c.reportBuf[:])
	return c, nil
}

// Spawn clones the child, finishes the setup from the parent, releases the
// child and waits for it to exit.
func (s *Spawner) Spawn() (*Result, error) {
	if err := s.spec.Validate(); err != nil {
		return nil, err
	}
	c, err := s.prepare()
	if err != nil {
		return nil, err
	}
	k := s.kernel

	p, err := handshake.NewPair(k.Sockets, s.spec.SyncTimeout)
	if err != nil {
		return nil, err
	}
	c.parentFd, c.childFd, c.syncTimeout = p.Parent, p.Child, p.Timeout

	args := clone3.NewArgs(s.spec.flags(), s.spec.Cgroup)
	out, errno := k.Clone.Clone(args, c)
	if errno != 0 {
		p.Close(k.Sockets)
		return nil, &KernelError{Op: "clone3", Err: errno}
	}
	pid := out.Pid
	s.logger.Debug("cloned", zap.Int("pid", pid), zap.Int("tid", out.Tid), zap.Stringer("flags", args.Flags()))

	// the child endpoint now only lives in the child
	k.Sockets.Close(p.Child)

	if err := s.setupChild(pid, p.Parent); err != nil {
		return nil, s.abort(pid, p.Parent, err)
	}
	s.logger.Debug("signaled", zap.Int("pid", pid))

	var ws syscall.WaitStatus
	if err := s.wait(pid, &ws); err != nil {
		return nil, err
	}
	r := &Result{Pid: pid, Tid: out.Tid, Status: ws}
	s.logger.Debug("child exited", zap.Int("pid", pid), zap.Stringer("result", r))
	return r, nil
}

// setupChild does the work that has to happen outside the new namespaces
// and releases the child. It closes the parent endpoint on success.
func (s *Spawner) setupChild(pid, fd int) error {
	k := s.kernel
	if s.spec.UIDMap != nil || s.spec.GIDMap != nil {
		m := idmap.NewMapper(k.IDs)
		if s.spec.UIDMap != nil {
			if err := m.MapUser(pid, *s.spec.UIDMap); err != nil {
				return err
			}
		}
		if s.spec.GIDMap != nil {
			if err := m.DenySetgroups(pid); err != nil {
				return err
			}
			if err := m.MapGroup(pid, *s.spec.GIDMap); err != nil {
				return err
			}
		}
		s.logger.Debug("identity mapped", zap.Int("pid", pid),
			zap.String("uid", mappingString(s.spec.UIDMap)), zap.String("gid", mappingString(s.spec.GIDMap)))
	}
	if s.spec.Setup != nil {
		if err := s.spec.Setup(pid); err != nil {
			return fmt.Errorf("curium: setup: %w", err)
		}
	}
	if err := handshake.Signal(k.Conn, fd); err != nil {
		return err
	}
	k.Conn.Close(fd)
	return nil
}

// abort releases the child with EOF, kills it and reaps it
func (s *Spawner) abort(pid, fd int, err error) error {
	k := s.kernel
	k.Conn.Close(fd)
	k.Reaper.Kill(pid, syscall.SIGKILL)
	var ws syscall.WaitStatus
	if werr := s.wait(pid, &ws); werr != nil {
		err = errors.Join(err, werr)
	}
	s.logger.Debug("child aborted", zap.Int("pid", pid), zap.Error(err))
	return err
}

func (s *Spawner) wait(pid int, ws *syscall.WaitStatus) error {
	for {
		_, err := s.kernel.Reaper.Wait4(pid, ws)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("curium: wait4: %w", err)
		}
		return nil
	}
}

func mappingString(m *idmap.Mapping) string {
	if m == nil {
		return "none"
	}
	return m.String()
}
