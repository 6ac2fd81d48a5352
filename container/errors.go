package container

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrInvalidSpec wraps every configuration error reported before the clone
var ErrInvalidSpec = errors.New("curium: invalid spec")

// KernelError is a failed kernel call in the parent
type KernelError struct {
	Op  string
	Err syscall.Errno
}

func (e *KernelError) Error() string {
	return "curium: " + e.Op + ": " + e.Err.Error()
}

func (e *KernelError) Unwrap() error {
	return e.Err
}

// ExitCodeSetupFailed is the exit status of a child that failed before
// execve
const ExitCodeSetupFailed = 1

// Result is the outcome of a completed spawn
type Result struct {
	Pid    int
	Tid    int
	Status syscall.WaitStatus
}

// ExitCode returns the exit status, 128 + signal for a signaled process or
// -1 otherwise
func (r *Result) ExitCode() int {
	switch {
	case r.Status.Exited():
		return r.Status.ExitStatus()
	case r.Status.Signaled():
		return 128 + int(r.Status.Signal())
	default:
		return -1
	}
}

// Success reports a zero exit status
func (r *Result) Success() bool {
	return r.Status.Exited() && r.Status.ExitStatus() == 0
}

func (r *Result) String() string {
	switch {
	case r.Status.Exited():
		return fmt.Sprintf("pid %d exited(%d)", r.Pid, r.Status.ExitStatus())
	case r.Status.Signaled():
		return fmt.Sprintf("pid %d signaled(%v)", r.Pid, r.Status.Signal())
	default:
		return fmt.Sprintf("pid %d status(%#x)", r.Pid, uint32(r.Status))
	}
}
