package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelfCgroup(t *testing.T) {
	p, err := parseSelfCgroup([]byte("12:pids:/user.slice\n0::/user.slice/session-1.scope\n"))
	require.NoError(t, err)
	assert.Equal(t, "/user.slice/session-1.scope", p)

	_, err = parseSelfCgroup([]byte("1:name=systemd:/\n"))
	assert.Error(t, err)
}

func TestCleanRelative(t *testing.T) {
	for in, want := range map[string]string{
		"curium/job":     "curium/job",
		"/curium/job/":   "curium/job",
		"../../etc/evil": "etc/evil",
	} {
		got, err := cleanRelative(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := cleanRelative("/")
	assert.Error(t, err)
}

func TestCreateDestroy(t *testing.T) {
	base := t.TempDir()
	g, err := create(base, "curium/job1")
	require.NoError(t, err)
	assert.False(t, g.Existing())
	assert.Equal(t, filepath.Join(base, "curium/job1"), g.Path())

	fd, err := g.FD()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, 0)
	fd2, err := g.FD()
	require.NoError(t, err)
	assert.Equal(t, fd, fd2, "descriptor is opened once")

	require.NoError(t, g.Destroy())
	_, err = os.Stat(g.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestCreate_Existing(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "shared"), dirPerm))
	g, err := create(base, "shared")
	require.NoError(t, err)
	assert.True(t, g.Existing())
	require.NoError(t, g.Destroy())
	_, err = os.Stat(g.Path())
	assert.NoError(t, err, "existing group is kept")
}

func TestGroup_Files(t *testing.T) {
	base := t.TempDir()
	g, err := create(base, "job")
	require.NoError(t, err)
	defer g.Close()

	require.NoError(t, os.WriteFile(filepath.Join(g.Path(), cgroupProcs), []byte("12\n34\n"), filePerm))
	pids, err := g.Processes()
	require.NoError(t, err)
	assert.Equal(t, []int{12, 34}, pids)

	require.NoError(t, g.AddProc(56))
	b, err := os.ReadFile(filepath.Join(g.Path(), cgroupProcs))
	require.NoError(t, err)
	assert.Equal(t, "56", string(b))

	require.NoError(t, os.WriteFile(filepath.Join(g.Path(), cgroupEvents), []byte("populated 1\nfrozen 0\n"), filePerm))
	ok, err := g.Populated()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "v2", TypeV2.String())
	assert.Equal(t, "invalid", Type(0).String())
}
