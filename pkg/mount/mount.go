// Package mount prepares mount(2) calls for a process that is about to
// switch its root.
//
// A request starts at a target with At and becomes ready through exactly one
// of the action entry points. Each action returns its own type, so a
// propagation change can never carry a source or a filesystem type and a
// bind mount can never carry a filesystem type. Ready values hold their
// arguments as C strings and can be mounted without allocating.
package mount

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Syscaller is the set of calls issued by the ready requests and by the
// root switch
type Syscaller interface {
	Mount(source, target, fsType *byte, flags uintptr, data *byte) syscall.Errno
	Mkdir(path *byte, mode uint32) syscall.Errno
	PivotRoot(newRoot, putOld *byte) syscall.Errno
	Unmount(target *byte, flags int) syscall.Errno
	Rmdir(path *byte) syscall.Errno
	Chdir(path *byte) syscall.Errno
}

// PropagationType is the propagation applied by SetPropagation
type PropagationType uintptr

// Propagation types
const (
	Private    PropagationType = unix.MS_PRIVATE
	Slave      PropagationType = unix.MS_SLAVE
	Shared     PropagationType = unix.MS_SHARED
	Unbindable PropagationType = unix.MS_UNBINDABLE
)

func (p PropagationType) String() string {
	switch p {
	case Private:
		return "private"
	case Slave:
		return "slave"
	case Shared:
		return "shared"
	case Unbindable:
		return "unbindable"
	default:
		return fmt.Sprintf("propagation(%#x)", uintptr(p))
	}
}

// Target is a mount point with access modifiers that is not yet bound to
// an action
type Target struct {
	target string
	flags  uintptr
}

// At starts a request on target
func At(target string) Target {
	return Target{target: target}
}

// ReadOnly adds MS_RDONLY
func (t Target) ReadOnly() Target {
	t.flags |= unix.MS_RDONLY
	return t
}

// NoDev adds MS_NODEV
func (t Target) NoDev() Target {
	t.flags |= unix.MS_NODEV
	return t
}

// NoSuid adds MS_NOSUID
func (t Target) NoSuid() Target {
	t.flags |= unix.MS_NOSUID
	return t
}

// NoExec adds MS_NOEXEC
func (t Target) NoExec() Target {
	t.flags |= unix.MS_NOEXEC
	return t
}

// SetPropagation changes the propagation type of the mount at the target.
// The kernel rejects access modifiers on a propagation change, so the
// modifiers of t are not carried over.
func (t Target) SetPropagation(p PropagationType) (Propagation, error) {
	switch p {
	case Private, Slave, Shared, Unbindable:
	default:
		return Propagation{}, fmt.Errorf("mount: invalid propagation type %#x", uintptr(p))
	}
	target, err := syscall.BytePtrFromString(t.target)
	if err != nil {
		return Propagation{}, fmt.Errorf("mount: target %q: %w", t.target, err)
	}
	return Propagation{
		path:   t.target,
		target: target,
		flags:  uintptr(p),
	}, nil
}

// Bind bind-mounts source onto the target.
func (t Target) Bind(source string) (Bind, error) {
	target, err := syscall.BytePtrFromString(t.target)
	if err != nil {
		return Bind{}, fmt.Errorf("mount: target %q: %w", t.target, err)
	}
	src, err := syscall.BytePtrFromString(source)
	if err != nil {
		return Bind{}, fmt.Errorf("mount: source %q: %w", source, err)
	}
	return Bind{
		path:   t.target,
		src:    source,
		target: target,
		source: src,
		flags:  t.flags | unix.MS_BIND,
	}, nil
}

// Create mounts a new instance of fsType at the target. source is the
// name shown in the mount table.
func (t Target) Create(fsType, source string) (Create, error) {
	if fsType == "" {
		return Create{}, fmt.Errorf("mount: empty filesystem type for %q", t.target)
	}
	target, err := syscall.BytePtrFromString(t.target)
	if err != nil {
		return Create{}, fmt.Errorf("mount: target %q: %w", t.target, err)
	}
	src, err := syscall.BytePtrFromString(source)
	if err != nil {
		return Create{}, fmt.Errorf("mount: source %q: %w", source, err)
	}
	fs, err := syscall.BytePtrFromString(fsType)
	if err != nil {
		return Create{}, fmt.Errorf("mount: filesystem type %q: %w", fsType, err)
	}
	return Create{
		path:   t.target,
		src:    source,
		fs:     fsType,
		target: target,
		source: src,
		fsType: fs,
		flags:  t.flags,
	}, nil
}

// Propagation is a ready propagation change
type Propagation struct {
	path   string
	target *byte
	flags  uintptr
}

// Recursive applies the change to every mount below the target as well
func (p Propagation) Recursive() Propagation {
	p.flags |= unix.MS_REC
	return p
}

// Flags returns the mount flags
func (p Propagation) Flags() uintptr {
	return p.flags
}

// Mount performs the change.
//
//go:nosplit
//go:norace
func (p Propagation) Mount(m Syscaller) syscall.Errno {
	return m.Mount(nil, p.target, nil, p.flags, nil)
}

func (p Propagation) String() string {
	rec := ""
	if p.flags&unix.MS_REC != 0 {
		rec = ",rec"
	}
	return fmt.Sprintf("propagation[%s:%s%s]", p.path, PropagationType(p.flags&^unix.MS_REC), rec)
}

// Bind is a ready bind mount
type Bind struct {
	path, src      string
	target, source *byte
	flags          uintptr
}

// Recursive binds the whole subtree under the source
func (b Bind) Recursive() Bind {
	b.flags |= unix.MS_REC
	return b
}

// Flags returns the mount flags
func (b Bind) Flags() uintptr {
	return b.flags
}

// Mount performs the bind mount. A read-only bind mount is remounted since
// the kernel ignores MS_RDONLY on the initial bind.
//
//go:nosplit
//go:norace
func (b Bind) Mount(m Syscaller) syscall.Errno {
	if err := m.Mount(b.source, b.target, nil, b.flags, nil); err != 0 {
		return err
	}
	if b.flags&unix.MS_RDONLY != 0 {
		return m.Mount(nil, b.target, nil, b.flags|unix.MS_REMOUNT, nil)
	}
	return 0
}

func (b Bind) String() string {
	flag := "rw"
	if b.flags&unix.MS_RDONLY != 0 {
		flag = "ro"
	}
	return fmt.Sprintf("bind[%s:%s:%s]", b.src, b.path, flag)
}

// Create is a ready filesystem creation
type Create struct {
	path, src, fs          string
	target, source, fsType *byte
	flags                  uintptr
}

// Flags returns the mount flags
func (c Create) Flags() uintptr {
	return c.flags
}

// Mount creates the filesystem.
//
//go:nosplit
//go:norace
func (c Create) Mount(m Syscaller) syscall.Errno {
	return m.Mount(c.source, c.target, c.fsType, c.flags, nil)
}

func (c Create) String() string {
	flag := "rw"
	if c.flags&unix.MS_RDONLY != 0 {
		flag = "ro"
	}
	return fmt.Sprintf("%s[%s:%s:%s]", c.fs, c.src, c.path, flag)
}
