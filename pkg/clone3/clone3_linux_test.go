package clone3

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewArgs_ParentSetTID(t *testing.T) {
	for _, f := range []Flags{0, NewPID | NewNS, Namespaces | ClearSighand} {
		a := NewArgs(f, -1)
		assert.True(t, a.Flags().Has(parentSetTID), "flags %v", f)
		assert.True(t, a.Flags().Has(f))
		assert.Equal(t, uint64(unix.SIGCHLD), a.raw.exitSignal)
		assert.NotZero(t, a.raw.parentTID)
		assert.Zero(t, a.raw.cgroup)
	}
}

// forkAndExit clones and lets the child exit with status 7 right away
//
//go:nosplit
//go:norace
func forkAndExit(a *Args) (Outcome, syscall.Errno) {
	out, err := Clone(a)
	if out.Kind == KindChild {
		for {
			syscall.RawSyscall(unix.SYS_EXIT_GROUP, 7, 0, 0)
		}
	}
	return out, err
}

func TestClone_Fork(t *testing.T) {
	syscall.ForkLock.Lock()
	out, errno := forkAndExit(NewArgs(0, -1))
	syscall.ForkLock.Unlock()
	if errno == syscall.ENOSYS {
		t.Skip("clone3 not supported")
	}
	require.Zero(t, errno)
	require.True(t, out.IsParent())
	assert.Greater(t, out.Pid, 0)
	assert.Equal(t, out.Pid, out.Tid)

	var ws unix.WaitStatus
	_, err := unix.Wait4(out.Pid, &ws, 0, nil)
	require.NoError(t, err)
	assert.True(t, ws.Exited())
	assert.Equal(t, 7, ws.ExitStatus())
}

func TestNewArgs_Cgroup(t *testing.T) {
	a := NewArgs(IntoCgroup, 7)
	assert.Equal(t, uint64(7), a.raw.cgroup)
}

func TestClone_Failure(t *testing.T) {
	// CLONE_INTO_CGROUP with an invalid descriptor is rejected before any
	// process is created (EINVAL, EBADF or ENOSYS on old kernels)
	a := NewArgs(IntoCgroup, -1)
	out, err := Clone(a)
	require.NotZero(t, err)
	assert.Equal(t, Outcome{}, out)
	assert.False(t, out.IsChild())
	assert.False(t, out.IsParent())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "none", Outcome{}.String())
	assert.Equal(t, "child", Outcome{Kind: KindChild}.String())
	assert.Equal(t, "parent(pid=12,tid=12)", Outcome{Kind: KindParent, Pid: 12, Tid: 12}.String())
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "pid|mount|net", (NewPID | NewNS | NewNet).String())
	assert.Equal(t, "user|0x100", (NewUser | Flags(unix.CLONE_VM)).String())
}

func TestFlags_Validate(t *testing.T) {
	assert.NoError(t, (Namespaces | ClearSighand | IntoCgroup).Validate())
	assert.Error(t, Flags(unix.CLONE_VM).Validate())
	assert.Error(t, (NewPID | Flags(unix.CLONE_FILES)).Validate())
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"pid", "mnt", "UTS", "ipc", "network"})
	require.NoError(t, err)
	assert.Equal(t, NewPID|NewNS|NewUTS|NewIPC|NewNet, f)

	_, err = ParseFlags([]string{"pid", "time"})
	assert.Error(t, err)
}
