package config

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/criyle/go-curium/container"
	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/handshake"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/criyle/go-curium/pkg/rlimit"
	"github.com/criyle/go-curium/pkg/seccomp"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
path: /bin/sh
args: [sh, -c, "exit 0"]
env: [PATH=/bin, HOME=/]
root: /srv/rootfs
hostname: box
dir: /tmp
namespaces: [pid, mount, uts, ipc, net, user]
uid_map: {inside: 0, outside: 1000, count: 1}
map_current_user: true
rlimits:
  cpu: 2
  data: 256m
  open_file: 64
  disable_core: true
seccomp:
  default: allow
  deny: [ptrace]
  deny_action: errno(13)
cgroup: curium/box
sync_timeout: 2s
log:
  level: debug
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "/bin/sh", c.Path)
	assert.Equal(t, []string{"sh", "-c", "exit 0"}, c.Args)
	assert.Equal(t, &idmap.Mapping{Inside: 0, Outside: 1000, Count: 1}, c.UIDMap)
	assert.Equal(t, rlimit.Size(256<<20), c.RLimits.Data)
	assert.Equal(t, seccomp.ActionAllow, c.Seccomp.Default)
	assert.Equal(t, seccomp.ActionErrno.WithReturnCode(13), c.Seccomp.DenyAction)
	assert.Equal(t, 2*time.Second, c.SyncTimeout)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "curium/box", c.Cgroup)
	assert.False(t, c.CgroupAttach)

	s, err := c.Spec()
	require.NoError(t, err)
	assert.True(t, s.Flags.Has(clone3.NewPID|clone3.NewNS|clone3.NewUTS|clone3.NewIPC|clone3.NewNet|clone3.NewUser))
	assert.Equal(t, uint32(1000), s.UIDMap.Outside)
	// filled in from the caller
	require.NotNil(t, s.GIDMap)
	assert.Equal(t, uint32(syscall.Getegid()), s.GIDMap.Outside)
	assert.NotEmpty(t, s.Seccomp)
	assert.Len(t, s.RLimits, 4)
	assert.Zero(t, s.Cgroup)
}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("path: /bin/true\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{defaultEnvPath}, c.Env)
	assert.Equal(t, handshake.DefaultTimeout, c.SyncTimeout)
	assert.Equal(t, defaultLogLevel, c.Log.Level)

	s, err := c.Spec()
	require.NoError(t, err)
	assert.Equal(t, clone3.Flags(0), s.Flags)
	assert.Nil(t, s.Seccomp)

	c, err = Parse(nil)
	require.NoError(t, err)
	assert.Error(t, c.Validate())
}

func TestParse_Errors(t *testing.T) {
	for name, content := range map[string]string{
		"unknown key":    "path: /bin/true\nbogus: 1\n",
		"bad size":       "path: /bin/true\nrlimits: {data: 12x}\n",
		"bad action":     "path: /bin/true\nseccomp: {default: maybe}\n",
		"bad mapping":    "path: /bin/true\nuid_map: {inside: x}\n",
		"not a document": "path: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	for name, c := range map[string]*Config{
		"no path":         {Log: LogConfig{Level: "info"}},
		"bad namespace":   {Path: "/x", Namespaces: []string{"time"}, Log: LogConfig{Level: "info"}},
		"map without ns":  {Path: "/x", MapCurrentUser: true, Log: LogConfig{Level: "info"}},
		"cgroup escape":   {Path: "/x", Cgroup: "../x", Log: LogConfig{Level: "info"}},
		"attach no group": {Path: "/x", CgroupAttach: true, Log: LogConfig{Level: "info"}},
		"bad log level":   {Path: "/x", Log: LogConfig{Level: "loud"}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, c.Validate())
			_, err := c.Spec()
			assert.Error(t, err)
		})
	}

	// constraints checked by the container spec surface through Spec
	c := Default()
	c.Path = "/bin/true"
	c.HostName = "box"
	_, err := c.Spec()
	assert.ErrorIs(t, err, container.ErrInvalidSpec)
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "curium.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0644))
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "box", c.HostName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOverrides(t *testing.T) {
	p := filepath.Join(t.TempDir(), "curium.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0644))

	var o Overrides
	cmd := &cobra.Command{Use: "run"}
	o.Flags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"-c", p,
		"--hostname", "other",
		"-n", "pid,mount",
		"--data", "1g",
		"--gid-map", "0:100:10",
		"--seccomp-allow", "read,write",
		"--log-level", "warn",
		"--cgroup-attach",
	}))

	c, err := o.Load(cmd.Flags(), []string{"/bin/echo", "hi"})
	require.NoError(t, err)
	assert.Equal(t, "other", c.HostName)
	assert.Equal(t, "/srv/rootfs", c.Root) // from the file
	assert.Equal(t, []string{"pid", "mount"}, c.Namespaces)
	assert.Equal(t, rlimit.Size(1<<30), c.RLimits.Data)
	assert.Equal(t, uint64(64), c.RLimits.OpenFile)
	assert.Equal(t, &idmap.Mapping{Inside: 0, Outside: 100, Count: 10}, c.GIDMap)
	assert.Equal(t, []string{"read", "write"}, c.Seccomp.Allow)
	assert.Equal(t, seccomp.ActionAllow, c.Seccomp.Default) // from the file
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "curium/box", c.Cgroup) // from the file
	assert.True(t, c.CgroupAttach)
	assert.Equal(t, "/bin/echo", c.Path)
	assert.Equal(t, []string{"/bin/echo", "hi"}, c.Args)
}

func TestOverrides_NoFile(t *testing.T) {
	var o Overrides
	cmd := &cobra.Command{Use: "run"}
	o.Flags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--seccomp-deny", "ptrace", "--uid-map", "0:1"}))

	_, err := o.Load(cmd.Flags(), []string{"/bin/true"})
	assert.Error(t, err)

	require.NoError(t, cmd.ParseFlags([]string{"--uid-map", "0:1000:1"}))
	c, err := o.Load(cmd.Flags(), []string{"/bin/true"})
	require.NoError(t, err)
	assert.Equal(t, seccomp.ActionAllow, c.Seccomp.Default)
	assert.Equal(t, []string{defaultEnvPath}, c.Env)
}

func TestParseMapping(t *testing.T) {
	m, err := ParseMapping("0:1000:1")
	require.NoError(t, err)
	assert.Equal(t, idmap.Mapping{Inside: 0, Outside: 1000, Count: 1}, *m)

	for _, s := range []string{"", "0:1", "a:b:c", "0:1:0", "0:1:4294967296"} {
		_, err := ParseMapping(s)
		assert.Error(t, err, s)
	}
}

func TestConfig_Logger(t *testing.T) {
	c := Default()
	l, err := c.Logger()
	require.NoError(t, err)
	assert.NotNil(t, l)

	c.Log.Development = true
	c.Log.Level = "debug"
	l, err = c.Logger()
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	c.Log.Level = "loud"
	_, err = c.Logger()
	assert.Error(t, err)
}
