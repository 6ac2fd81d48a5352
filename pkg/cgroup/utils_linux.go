package cgroup

import (
	"bytes"
	"errors"
	"os"
	"path"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// DetectType detects current mounted cgroup type in systemd default path
func DetectType() Type {
	// if /sys/fs/cgroup is mounted as CGROUPV2 or TMPFS (V1)
	var st unix.Statfs_t
	if err := unix.Statfs(basePath, &st); err != nil {
		// ignore errors, defalting to CgroupV1
		return TypeV1
	}
	if st.Type == unix.CGROUP2_SUPER_MAGIC {
		return TypeV2
	}
	return TypeV1
}

// Current returns the path of the cgroup v2 group of the calling process
// relative to the hierarchy root
func Current() (string, error) {
	b, err := readFile(procSelfCgroup)
	if err != nil {
		return "", err
	}
	return parseSelfCgroup(b)
}

// parseSelfCgroup finds the unified hierarchy entry "0::<path>"
func parseSelfCgroup(b []byte) (string, error) {
	for _, l := range bytes.Split(b, []byte{'\n'}) {
		if p, ok := strings.CutPrefix(string(l), "0::"); ok {
			return p, nil
		}
	}
	return "", errors.New("cgroup: no unified hierarchy entry in /proc/self/cgroup")
}

// ensureDirExists creates directories if the path not exists
func ensureDirExists(p string) error {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return os.MkdirAll(p, dirPerm)
	}
	return os.ErrExist
}

func remove(name string) error {
	if name != "" {
		return os.Remove(name)
	}
	return nil
}

func readFile(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	for err != nil && errors.Is(err, syscall.EINTR) {
		data, err = os.ReadFile(p)
	}
	return data, err
}

func writeFile(p string, content []byte) error {
	err := os.WriteFile(p, content, filePerm)
	for err != nil && errors.Is(err, syscall.EINTR) {
		err = os.WriteFile(p, content, filePerm)
	}
	return err
}

// cleanRelative rejects paths escaping the hierarchy root
func cleanRelative(p string) (string, error) {
	c := path.Clean("/" + p)
	if c == "/" {
		return "", errors.New("cgroup: empty group path")
	}
	return c[1:], nil
}
