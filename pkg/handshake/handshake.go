// Package handshake implements the one byte barrier between a parent and
// the child it cloned.
//
// The parent creates a Pair before the clone. After the clone each side
// closes the endpoint of the other. The parent finishes the setup that can
// only be done from outside the new namespaces and calls Signal; the child
// blocks in Wait until the byte arrives, the parent endpoint is closed or
// the deadline derived from the timeout passes.
package handshake

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTimeout bounds the wait of the child when no timeout is given
const DefaultTimeout = 5 * time.Second

// ErrAbandoned is returned by Signal when the child closed its endpoint
// before the signal arrived, after it timed out or failed
var ErrAbandoned = errors.New("handshake: child abandoned the handshake")

var sentinel = [1]byte{1}

// Closer closes a descriptor
type Closer interface {
	Close(fd int) syscall.Errno
}

// Conn reads and writes raw descriptors
type Conn interface {
	Closer
	Read(fd int, p []byte) (int, syscall.Errno)
	Write(fd int, p []byte) (int, syscall.Errno)

	// SetRecvTimeout sets SO_RCVTIMEO of fd to nsec, rounded up to a
	// microsecond
	SetRecvTimeout(fd int, nsec int64) syscall.Errno
}

// Socketer creates the socket pair
type Socketer interface {
	Closer
	Socketpair(domain, typ, proto int) ([2]int, error)
	SetsockoptTimeval(fd, level, opt int, tv *unix.Timeval) error
}

// Pair holds both endpoints. Parent stays with the caller and Child crosses
// the clone together with Timeout, which the child passes to Wait.
type Pair struct {
	Parent, Child int
	Timeout       time.Duration
}

// NewPair creates a connected close-on-exec unix stream pair. Reads on the
// child endpoint time out after timeout, or DefaultTimeout when it is not
// positive.
func NewPair(s Socketer, timeout time.Duration) (Pair, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	fds, err := s.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return Pair{}, fmt.Errorf("handshake: socketpair: %w", err)
	}
	p := Pair{Parent: fds[0], Child: fds[1], Timeout: timeout}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := s.SetsockoptTimeval(p.Child, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		p.Close(s)
		return Pair{}, fmt.Errorf("handshake: set receive timeout: %w", err)
	}
	return p, nil
}

// Close closes both endpoints
func (p Pair) Close(c Closer) {
	c.Close(p.Parent)
	c.Close(p.Child)
}

// Signal tells the child that the parent side setup is complete.
func Signal(w Conn, fd int) error {
	for {
		n, err := w.Write(fd, sentinel[:])
		switch {
		case err == syscall.EINTR:
			continue
		case err == syscall.EPIPE:
			return fmt.Errorf("%w: %w", ErrAbandoned, err)
		case err != 0:
			return fmt.Errorf("handshake: signal: %w", err)
		case n != len(sentinel):
			return fmt.Errorf("handshake: signal: short write")
		}
		return nil
	}
}

// Status is the result of Wait
type Status int

// Wait results
const (
	StatusOK Status = iota
	StatusEOF
	StatusTimeout
	StatusError
)

var statusToString = []string{"ok", "eof", "timeout", "error"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusToString) {
		return statusToString[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Wait reads the signal from fd into buf, which must not be empty. It runs
// in the child between clone and execve. A zero length read is StatusEOF.
// Once timeout has passed since the call the result is StatusTimeout with
// EAGAIN. For StatusError the errno of the failed call is returned as well.
//
// A socket read interrupted by a signal is not restarted and a new read
// waits the full SO_RCVTIMEO again, so after EINTR the receive timeout is
// shortened to what is left before the deadline.
//
//go:nosplit
//go:norace
func Wait(r Conn, fd int, buf []byte, timeout time.Duration) (Status, syscall.Errno) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := monotonic() + int64(timeout)
	for {
		n, err := r.Read(fd, buf[:1])
		switch {
		case err == syscall.EINTR:
			left := deadline - monotonic()
			if left <= 0 {
				return StatusTimeout, syscall.EAGAIN
			}
			if err := r.SetRecvTimeout(fd, left); err != 0 {
				return StatusError, err
			}
			continue
		case err == syscall.EAGAIN:
			return StatusTimeout, err
		case err != 0:
			return StatusError, err
		case n == 0:
			return StatusEOF, 0
		}
		return StatusOK, 0
	}
}
