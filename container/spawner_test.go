package container

import (
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/criyle/go-curium/internal/kerneltest"
	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/handshake"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/criyle/go-curium/pkg/rlimit"
	"github.com/criyle/go-curium/pkg/seccomp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

// fakeKernel routes every call of p through the in-memory kernel
func fakeKernel(p *kerneltest.Proc) *Kernel {
	return &Kernel{
		Clone:   fakeCloner{p},
		Files:   p,
		Mounts:  p,
		Sockets: p,
		Conn:    p,
		IDs:     p,
		Limits:  p,
		Filter:  p,
		Proc:    p,
		Reaper:  p,
	}
}

type fakeCloner struct {
	p *kerneltest.Proc
}

func (f fakeCloner) Clone(a *clone3.Args, c Continuation) (clone3.Outcome, syscall.Errno) {
	return f.p.Fork(a, func(child *kerneltest.Proc) {
		c.Run(fakeKernel(child))
	})
}

func newFake(t *testing.T, spec Spec) (*kerneltest.Kernel, *Spawner) {
	k := kerneltest.New()
	return k, New(spec, WithKernel(fakeKernel(k.Parent())), WithLogger(zaptest.NewLogger(t)))
}

func isolated() Spec {
	return Spec{
		Path:     "/bin/true",
		Env:      []string{"PATH=/bin"},
		Root:     "/srv/rootfs",
		Flags:    clone3.NewPID | clone3.NewNS | clone3.NewUTS | clone3.NewIPC | clone3.NewNet,
		HostName: "curium",
	}
}

func TestSpawn_Isolated(t *testing.T) {
	k, s := newFake(t, isolated())
	r, err := s.Spawn()
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, 0, r.ExitCode())
	assert.Equal(t, r.Pid, r.Tid)

	assert.Equal(t, []string{
		"socketpair", "setsockopt", "clone3", "close", "write", "close", "wait4",
	}, k.Ops(1))
	assert.Equal(t, []string{
		"close", "close_range", "read",
		"mount", "mount", "mount", "mount", "mkdir", "pivot_root", "umount2", "rmdir", "chdir",
		"sethostname", "execve",
	}, k.Ops(r.Pid))

	calls := k.CallsOf(1)
	assert.True(t, strings.HasPrefix(calls[2].Args[0], "pid|mount|uts|ipc|net|"), calls[2].Args[0])
	child := k.CallsOf(r.Pid)
	assert.Equal(t, fmt.Sprintf("close_range(3,%d,%#x)", uint64(^uint(0)), unix.CLOSE_RANGE_CLOEXEC), child[1].String())
	assert.Equal(t, "sethostname(curium)", child[12].String())
	assert.Equal(t, "execve(/bin/true,/bin/true)", child[13].String())

	// nothing leaks on either side
	assert.Empty(t, k.Parent().Fds())
	assert.Empty(t, k.Proc(r.Pid).Fds())
	assert.Empty(t, k.Proc(r.Pid).Stderr())
}

func TestSpawn_NoNamespaces(t *testing.T) {
	k, s := newFake(t, Spec{Path: "/bin/echo", Args: []string{"echo", "hi"}})
	r, err := s.Spawn()
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, []string{"close", "close_range", "read", "execve"}, k.Ops(r.Pid))
	// only CLONE_PARENT_SETTID
	assert.Equal(t, fmt.Sprintf("%#x", unix.CLONE_PARENT_SETTID), k.CallsOf(1)[2].Args[0])
}

func TestSpawn_ExitCode(t *testing.T) {
	k, s := newFake(t, isolated())
	k.ExitCode = 3
	r, err := s.Spawn()
	require.NoError(t, err)
	assert.False(t, r.Success())
	assert.Equal(t, 3, r.ExitCode())
	assert.Contains(t, r.String(), "exited(3)")
}

func TestSpawn_LimitsAndFilter(t *testing.T) {
	spec := isolated()
	spec.HostName = ""
	spec.Dir = "/w"
	spec.RLimits = []rlimit.RLimit{
		{Res: syscall.RLIMIT_NOFILE, Rlim: syscall.Rlimit{Cur: 64, Max: 64}},
		{Res: syscall.RLIMIT_CORE},
	}
	spec.Seccomp = seccomp.Filter{{Code: unix.BPF_RET | unix.BPF_K, K: unix.SECCOMP_RET_ALLOW}}

	k, s := newFake(t, spec)
	r, err := s.Spawn()
	require.NoError(t, err)
	assert.True(t, r.Success())

	ops := k.Ops(r.Pid)
	assert.Equal(t, []string{
		"chdir", "prlimit64", "prlimit64", "no_new_privs", "seccomp", "execve",
	}, ops[len(ops)-6:])
	child := k.CallsOf(r.Pid)
	assert.Equal(t, "chdir(/w)", child[len(child)-6].String())
	assert.Equal(t, fmt.Sprintf("prlimit64(%d,64,64)", syscall.RLIMIT_NOFILE), child[len(child)-5].String())
	assert.Equal(t, "seccomp(1)", child[len(child)-2].String())
}

func TestSpawn_CgroupFlag(t *testing.T) {
	spec := isolated()
	spec.Cgroup = 42
	k, s := newFake(t, spec)
	_, err := s.Spawn()
	require.NoError(t, err)
	assert.Contains(t, k.CallsOf(1)[2].Args[0], "into_cgroup")
}

func TestSpawn_MappingBeforeSignal(t *testing.T) {
	spec := isolated()
	spec.Flags |= clone3.NewUser
	spec.UIDMap = &idmap.Mapping{Inside: 0, Outside: 1000, Count: 1}
	spec.GIDMap = &idmap.Mapping{Inside: 0, Outside: 1000, Count: 1}

	var k *kerneltest.Kernel
	var seen []string
	spec.Setup = func(pid int) error {
		for _, n := range []string{"uid_map", "setgroups", "gid_map"} {
			c, ok := k.File(fmt.Sprintf("/proc/%d/%s", pid, n))
			require.True(t, ok, n)
			seen = append(seen, c)
		}
		// the child is still blocked in the handshake
		assert.NotContains(t, k.Ops(pid), "mount")
		return nil
	}
	k, s := newFake(t, spec)
	r, err := s.Spawn()
	require.NoError(t, err)
	assert.True(t, r.Success())
	assert.Equal(t, []string{"0 1000 1", "deny", "0 1000 1"}, seen)

	var files []string
	for _, c := range k.CallsOf(1) {
		if c.Op == "open" {
			files = append(files, c.Args[0])
		}
	}
	assert.Equal(t, []string{
		fmt.Sprintf("/proc/%d/uid_map", r.Pid),
		fmt.Sprintf("/proc/%d/setgroups", r.Pid),
		fmt.Sprintf("/proc/%d/gid_map", r.Pid),
	}, files)
	assert.Empty(t, k.Parent().Fds())
}

func TestSpawn_MappingFailure(t *testing.T) {
	spec := isolated()
	spec.Flags |= clone3.NewUser
	spec.UIDMap = &idmap.Mapping{Inside: 0, Outside: 1000, Count: 1}

	k, s := newFake(t, spec)
	k.Fail("open", syscall.EACCES)
	r, err := s.Spawn()
	require.Error(t, err)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, syscall.EACCES)
	assert.ErrorIs(t, err, idmap.ErrMappingDenied)

	pids := k.Pids()
	require.Len(t, pids, 1)
	<-k.Proc(pids[0]).Exited()
	ops := k.Ops(1)
	assert.Contains(t, ops, "kill")
	assert.Equal(t, "wait4", ops[len(ops)-1])
	assert.NotContains(t, k.Ops(pids[0]), "mount")
	assert.NotContains(t, k.Ops(pids[0]), "execve")
	assert.Empty(t, k.Parent().Fds())
}

func TestSpawn_SetupFailure(t *testing.T) {
	spec := isolated()
	spec.Setup = func(int) error { return assert.AnError }
	k, s := newFake(t, spec)
	_, err := s.Spawn()
	assert.ErrorIs(t, err, assert.AnError)

	pids := k.Pids()
	require.Len(t, pids, 1)
	assert.NotContains(t, k.Ops(pids[0]), "execve")
	assert.NotContains(t, k.Ops(1), "write")
}

func TestSpawn_CloneFailure(t *testing.T) {
	k, s := newFake(t, isolated())
	k.Fail("clone3", syscall.EAGAIN)
	_, err := s.Spawn()
	var ke *KernelError
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, "clone3", ke.Op)
	assert.ErrorIs(t, err, syscall.EAGAIN)
	assert.Empty(t, k.Parent().Fds())
	assert.Empty(t, k.Pids())
}

func TestSpawn_SyncTimeout(t *testing.T) {
	spec := isolated()
	spec.SyncTimeout = 20 * time.Millisecond
	var k *kerneltest.Kernel
	spec.Setup = func(pid int) error {
		// hold the handshake until the child gave up
		<-k.Proc(pid).Exited()
		return nil
	}
	k, s := newFake(t, spec)
	_, err := s.Spawn()
	require.Error(t, err)
	assert.ErrorIs(t, err, handshake.ErrAbandoned)
	assert.ErrorIs(t, err, syscall.EPIPE)

	pid := k.Pids()[0]
	assert.Equal(t, "curium: sync_read(timeout): errno 11\n", k.Proc(pid).Stderr())
	assert.Equal(t, ExitCodeSetupFailed, k.Proc(pid).Status().ExitStatus())
	assert.NotContains(t, k.Ops(pid), "mount")
}

func TestSpawn_HandshakeEOF(t *testing.T) {
	spec := isolated()
	var k *kerneltest.Kernel
	spec.Setup = func(pid int) error {
		// drop the parent endpoint without writing the byte
		for _, fd := range k.Parent().Fds() {
			k.Parent().Close(fd)
		}
		<-k.Proc(pid).Exited()
		return nil
	}
	k, s := newFake(t, spec)
	_, err := s.Spawn()
	require.Error(t, err)

	pid := k.Pids()[0]
	assert.Equal(t, "curium: sync_read(eof)\n", k.Proc(pid).Stderr())
	assert.Equal(t, ExitCodeSetupFailed, k.Proc(pid).Status().ExitStatus())
	assert.NotContains(t, k.Ops(pid), "mount")
	assert.NotContains(t, k.Ops(pid), "execve")
	assert.Empty(t, k.Parent().Fds())
}

func TestChild_Failures(t *testing.T) {
	for _, tc := range []struct {
		op     string
		errno  syscall.Errno
		report string
	}{
		{"close_range", syscall.ENOSYS, "curium: close_range: errno 38\n"},
		{"read", syscall.EBADF, "curium: sync_read: errno 9\n"},
		{"mount", syscall.EPERM, "curium: rootfs(mount(private)): errno 1\n"},
		{"pivot_root", syscall.EINVAL, "curium: rootfs(pivot_root): errno 22\n"},
		{"sethostname", syscall.EPERM, "curium: sethostname: errno 1\n"},
		{"execve", syscall.ENOENT, "curium: execve: errno 2\n"},
	} {
		t.Run(tc.op, func(t *testing.T) {
			k, s := newFake(t, isolated())
			k.Fail(tc.op, tc.errno)
			r, err := s.Spawn()
			require.NoError(t, err)
			assert.Equal(t, ExitCodeSetupFailed, r.ExitCode())
			assert.Equal(t, tc.report, k.Proc(r.Pid).Stderr())

			ops := k.Ops(r.Pid)
			assert.Equal(t, "exit_group", ops[len(ops)-1])
			if tc.op != "execve" {
				assert.NotContains(t, ops, "execve")
			}
		})
	}
}

func TestChild_ExecError(t *testing.T) {
	k, s := newFake(t, isolated())
	k.ExecErr = syscall.EACCES
	r, err := s.Spawn()
	require.NoError(t, err)
	assert.Equal(t, 1, r.ExitCode())
	assert.True(t, strings.HasPrefix(k.Proc(r.Pid).Stderr(), "curium: execve: "))
}

func TestSpawn_InvalidSpec(t *testing.T) {
	k, s := newFake(t, Spec{Path: "/bin/true", HostName: "x"})
	_, err := s.Spawn()
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.Empty(t, k.Calls())
}
