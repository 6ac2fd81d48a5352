package cgroup

const (
	// systemd mounted cgroups
	basePath       = "/sys/fs/cgroup"
	cgroupProcs    = "cgroup.procs"
	cgroupEvents   = "cgroup.events"
	procSelfCgroup = "/proc/self/cgroup"

	filePerm = 0644
	dirPerm  = 0755
)

// Type is the cgroup hierarchy mounted at /sys/fs/cgroup
type Type int

// Hierarchy types
const (
	TypeV1 Type = iota + 1
	TypeV2
)

func (t Type) String() string {
	switch t {
	case TypeV1:
		return "v1"
	case TypeV2:
		return "v2"
	default:
		return "invalid"
	}
}
