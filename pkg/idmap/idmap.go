// Package idmap writes user and group identity mappings of a user
// namespace.
//
// The kernel accepts exactly one write to uid_map and gid_map for the
// lifetime of a namespace. Mapper performs that write and surfaces a second
// attempt as an error matching ErrMappingDenied. Nothing is cached here.
package idmap

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/criyle/go-curium/pkg/fixedbuf"
	"golang.org/x/sys/unix"
)

// ErrMappingDenied matches a rejected mapping write, most commonly because
// the namespace is already mapped
var ErrMappingDenied = errors.New("idmap: mapping denied")

// Sys is the file interface used to write the mapping files
type Sys interface {
	Open(path *byte, flags int, mode uint32) (int, syscall.Errno)
	Write(fd int, p []byte) (int, syscall.Errno)
	Close(fd int) syscall.Errno
}

// Mapping maps Count ids starting at Inside in the namespace to ids starting
// at Outside in the parent namespace
type Mapping struct {
	Inside  uint32 `yaml:"inside"`
	Outside uint32 `yaml:"outside"`
	Count   uint32 `yaml:"count"`
}

// Root maps root in the namespace to id outside
func Root(id int) Mapping {
	return Mapping{Inside: 0, Outside: uint32(id), Count: 1}
}

// CurrentUser maps root in the namespace to the effective uid
func CurrentUser() Mapping {
	return Root(unix.Geteuid())
}

// CurrentGroup maps root in the namespace to the effective gid
func CurrentGroup() Mapping {
	return Root(unix.Getegid())
}

// Validate rejects an empty range
func (m Mapping) Validate() error {
	if m.Count == 0 {
		return fmt.Errorf("idmap: mapping %v has zero count", m)
	}
	return nil
}

// Format writes "<inside> <outside> <count>" into w. On error w holds the
// bytes written before the field that did not fit.
func (m Mapping) Format(w *fixedbuf.Writer) error {
	if err := w.WriteUint(uint64(m.Inside)); err != nil {
		return err
	}
	if err := w.WriteByte(' '); err != nil {
		return err
	}
	if err := w.WriteUint(uint64(m.Outside)); err != nil {
		return err
	}
	if err := w.WriteByte(' '); err != nil {
		return err
	}
	return w.WriteUint(uint64(m.Count))
}

func (m Mapping) String() string {
	return fmt.Sprintf("%d %d %d", m.Inside, m.Outside, m.Count)
}

// Error is a failed mapping file write
type Error struct {
	Op   string // open, write or close
	Path string
	Err  syscall.Errno
}

func (e *Error) Error() string {
	return fmt.Sprintf("idmap: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports permission failures as ErrMappingDenied
func (e *Error) Is(target error) bool {
	return target == ErrMappingDenied && (e.Err == syscall.EPERM || e.Err == syscall.EACCES)
}
