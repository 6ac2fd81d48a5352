package idmap

import (
	"github.com/criyle/go-curium/pkg/fixedbuf"
	"golang.org/x/sys/unix"
)

// longest is /proc/<uint64>/setgroups plus NUL
const pathSize = 64

var setgroupsDeny = []byte("deny")

// Mapper writes the mapping files of another process. Paths and lines are
// formatted in fixed buffers owned by the Mapper.
type Mapper struct {
	Sys Sys

	path [pathSize]byte
	line [64]byte
}

// NewMapper creates a Mapper writing through sys
func NewMapper(sys Sys) *Mapper {
	return &Mapper{Sys: sys}
}

// MapUser writes m to /proc/<pid>/uid_map
func (p *Mapper) MapUser(pid int, m Mapping) error {
	return p.writeMapping(pid, "uid_map", m)
}

// MapGroup writes m to /proc/<pid>/gid_map. An unprivileged parent has to
// call DenySetgroups first.
func (p *Mapper) MapGroup(pid int, m Mapping) error {
	return p.writeMapping(pid, "gid_map", m)
}

// DenySetgroups writes "deny" to /proc/<pid>/setgroups
func (p *Mapper) DenySetgroups(pid int) error {
	return p.writeFile(pid, "setgroups", setgroupsDeny)
}

func (p *Mapper) writeMapping(pid int, name string, m Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	w := fixedbuf.New(p.line[:])
	if err := m.Format(&w); err != nil {
		return err
	}
	return p.writeFile(pid, name, w.Bytes())
}

func (p *Mapper) writeFile(pid int, name string, content []byte) error {
	w := fixedbuf.New(p.path[:])
	w.WriteString("/proc/")
	w.WriteUint(uint64(pid))
	w.WriteByte('/')
	w.WriteString(name)
	if err := w.WriteByte(0); err != nil {
		return err
	}
	path := string(w.Bytes()[:w.Len()-1])

	fd, err := p.Sys.Open(&w.Bytes()[0], unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != 0 {
		return &Error{Op: "open", Path: path, Err: err}
	}
	// one write only: a mapping split over several writes is rejected
	n, err := p.Sys.Write(fd, content)
	if err != 0 {
		p.Sys.Close(fd)
		return &Error{Op: "write", Path: path, Err: err}
	}
	if n != len(content) {
		p.Sys.Close(fd)
		return &Error{Op: "write", Path: path, Err: unix.EIO}
	}
	if err := p.Sys.Close(fd); err != 0 {
		return &Error{Op: "close", Path: path, Err: err}
	}
	return nil
}

// Host writes the real procfs files
type Host struct{}

var _ Sys = (*Host)(nil)

// Open calls open(2)
func (*Host) Open(path *byte, flags int, mode uint32) (int, unix.Errno) {
	fd, err := unix.Open(unix.BytePtrToString(path), flags, mode)
	if err != nil {
		return -1, err.(unix.Errno)
	}
	return fd, 0
}

// Write calls write(2)
func (*Host) Write(fd int, p []byte) (int, unix.Errno) {
	n, err := unix.Write(fd, p)
	if err != nil {
		return n, err.(unix.Errno)
	}
	return n, 0
}

// Close calls close(2)
func (*Host) Close(fd int) unix.Errno {
	if err := unix.Close(fd); err != nil {
		return err.(unix.Errno)
	}
	return 0
}
