package container

import (
	"fmt"
	"strings"
	"time"

	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/criyle/go-curium/pkg/rlimit"
	"github.com/criyle/go-curium/pkg/seccomp"
)

// Spec describes the process to spawn
type Spec struct {
	// Path is the executable, resolved inside Root when Root is set
	Path string

	// Args is argv including argv[0]. Empty means [Path].
	Args []string

	// Env is the environment as KEY=VALUE
	Env []string

	// Root is the new root directory. It must contain proc and sys.
	// Empty keeps the current root and skips the mount sequence.
	Root string

	// Flags selects the namespaces to create
	Flags clone3.Flags

	// UIDMap and GIDMap are written by the parent before the handshake.
	// Both require clone3.NewUser.
	UIDMap *idmap.Mapping
	GIDMap *idmap.Mapping

	// HostName is set in the new UTS namespace
	HostName string

	// Dir is the working directory after the root switch
	Dir string

	// Cgroup is a cgroup v2 directory descriptor the child starts in, 0 for
	// none
	Cgroup int

	// RLimits are applied in order before execve
	RLimits []rlimit.RLimit

	// Seccomp is loaded after no_new_privs right before execve
	Seccomp seccomp.Filter

	// SyncTimeout bounds the wait of the child for the handshake.
	// Zero means handshake.DefaultTimeout.
	SyncTimeout time.Duration

	// Setup runs in the parent after the identity mapping and before the
	// handshake. An error aborts the spawn.
	Setup func(pid int) error
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

func checkNul(field, s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return invalid("%s contains NUL byte", field)
	}
	return nil
}

// Validate checks the spec before anything is created
func (s *Spec) Validate() error {
	if s.Path == "" {
		return invalid("path is empty")
	}
	if err := checkNul("path", s.Path); err != nil {
		return err
	}
	for i, a := range s.Args {
		if err := checkNul(fmt.Sprintf("args[%d]", i), a); err != nil {
			return err
		}
	}
	for i, e := range s.Env {
		if err := checkNul(fmt.Sprintf("env[%d]", i), e); err != nil {
			return err
		}
		if k, _, ok := strings.Cut(e, "="); !ok || k == "" {
			return invalid("env[%d] %q is not KEY=VALUE", i, e)
		}
	}
	for _, f := range []struct{ name, v string }{
		{"root", s.Root}, {"hostname", s.HostName}, {"dir", s.Dir},
	} {
		if err := checkNul(f.name, f.v); err != nil {
			return err
		}
	}

	if err := s.Flags.Validate(); err != nil {
		return invalid("%v", err)
	}
	if s.Root != "" && !s.Flags.Has(clone3.NewNS) {
		return invalid("root requires a new mount namespace")
	}
	if s.HostName != "" && !s.Flags.Has(clone3.NewUTS) {
		return invalid("hostname requires a new uts namespace")
	}
	for _, m := range []*idmap.Mapping{s.UIDMap, s.GIDMap} {
		if m == nil {
			continue
		}
		if !s.Flags.Has(clone3.NewUser) {
			return invalid("identity mapping requires a new user namespace")
		}
		if err := m.Validate(); err != nil {
			return invalid("%v", err)
		}
	}
	if s.Flags.Has(clone3.IntoCgroup) && s.Cgroup <= 0 {
		return invalid("into_cgroup requires a cgroup descriptor")
	}
	if s.Cgroup < 0 {
		return invalid("negative cgroup descriptor")
	}
	if s.SyncTimeout < 0 {
		return invalid("negative sync timeout")
	}
	return nil
}

// flags returns the clone flags including IntoCgroup when a cgroup is set
func (s *Spec) flags() clone3.Flags {
	f := s.Flags
	if s.Cgroup > 0 {
		f |= clone3.IntoCgroup
	}
	return f
}

func (s *Spec) args() []string {
	if len(s.Args) == 0 {
		return []string{s.Path}
	}
	return s.Args
}
