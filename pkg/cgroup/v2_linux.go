// Package cgroup creates and opens cgroup v2 groups so a process can be
// cloned directly into one with CLONE_INTO_CGROUP.
//
// Only membership is managed here. Resource limits are left to whoever
// owns the hierarchy.
package cgroup

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrNotV2 is returned when the unified hierarchy is not mounted
var ErrNotV2 = errors.New("cgroup: cgroup v2 is not mounted at " + basePath)

// Group is a cgroup v2 directory
type Group struct {
	path     string
	fd       int
	existing bool
}

// Create creates the group name below the hierarchy root. An existing group
// is opened instead and is kept by Destroy.
func Create(name string) (*Group, error) {
	return create(basePath, name)
}

// Open opens an existing group name below the hierarchy root
func Open(name string) (*Group, error) {
	rel, err := cleanRelative(name)
	if err != nil {
		return nil, err
	}
	p := path.Join(basePath, rel)
	fi, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("cgroup: open %s: %w", p, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("cgroup: %s is not a directory", p)
	}
	return &Group{path: p, fd: -1, existing: true}, nil
}

func create(base, name string) (*Group, error) {
	if DetectType() != TypeV2 && base == basePath {
		return nil, ErrNotV2
	}
	rel, err := cleanRelative(name)
	if err != nil {
		return nil, err
	}
	p := path.Join(base, rel)
	err = ensureDirExists(p)
	switch {
	case err == nil:
		return &Group{path: p, fd: -1}, nil
	case errors.Is(err, os.ErrExist):
		return &Group{path: p, fd: -1, existing: true}, nil
	default:
		return nil, fmt.Errorf("cgroup: create %s: %w", p, err)
	}
}

// Path returns the directory of the group
func (g *Group) Path() string {
	return g.path
}

// Existing returns true if the group was opened rather than created
func (g *Group) Existing() bool {
	return g.existing
}

// FD returns a directory descriptor for CLONE_INTO_CGROUP. It is opened
// once and stays valid until Close.
func (g *Group) FD() (int, error) {
	if g.fd >= 0 {
		return g.fd, nil
	}
	fd, err := unix.Open(g.path, unix.O_PATH|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("cgroup: open %s: %w", g.path, err)
	}
	g.fd = fd
	return fd, nil
}

// AddProc moves pid into the group
func (g *Group) AddProc(pid int) error {
	return writeFile(path.Join(g.path, cgroupProcs), []byte(strconv.Itoa(pid)))
}

// Processes lists pids in the group
func (g *Group) Processes() ([]int, error) {
	b, err := readFile(path.Join(g.path, cgroupProcs))
	if err != nil {
		return nil, err
	}
	var ret []int
	for _, f := range strings.Fields(string(b)) {
		pid, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		ret = append(ret, pid)
	}
	return ret, nil
}

// Populated reads the populated key of cgroup.events
func (g *Group) Populated() (bool, error) {
	b, err := readFile(path.Join(g.path, cgroupEvents))
	if err != nil {
		return false, err
	}
	for _, l := range strings.Split(string(b), "\n") {
		if v, ok := strings.CutPrefix(l, "populated "); ok {
			return strings.TrimSpace(v) == "1", nil
		}
	}
	return false, fmt.Errorf("cgroup: no populated key in %s", cgroupEvents)
}

// Close releases the directory descriptor
func (g *Group) Close() error {
	if g.fd < 0 {
		return nil
	}
	err := unix.Close(g.fd)
	g.fd = -1
	return err
}

// Destroy closes the descriptor and removes a group created by Create.
// The group must be empty.
func (g *Group) Destroy() error {
	if err := g.Close(); err != nil {
		return err
	}
	if g.existing {
		return nil
	}
	return remove(g.path)
}

func (g *Group) String() string {
	return "cgroup2[" + g.path + "]"
}
