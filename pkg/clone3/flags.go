package clone3

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Flags selects the namespaces and attributes requested for the new process
type Flags uint64

// Clone flags accepted by the engine
const (
	NewNS        Flags = unix.CLONE_NEWNS
	NewCgroup    Flags = unix.CLONE_NEWCGROUP
	NewUTS       Flags = unix.CLONE_NEWUTS
	NewIPC       Flags = unix.CLONE_NEWIPC
	NewUser      Flags = unix.CLONE_NEWUSER
	NewPID       Flags = unix.CLONE_NEWPID
	NewNet       Flags = unix.CLONE_NEWNET
	ClearSighand Flags = 0x100000000 // clone3 only
	IntoCgroup   Flags = 0x200000000 // clone3 only

	// Namespaces is every namespace flag
	Namespaces = NewNS | NewCgroup | NewUTS | NewIPC | NewUser | NewPID | NewNet

	// parentSetTID is always added so the parent learns the child tid
	parentSetTID Flags = unix.CLONE_PARENT_SETTID

	allowed = Namespaces | ClearSighand | IntoCgroup
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{NewPID, "pid"},
	{NewNS, "mount"},
	{NewUTS, "uts"},
	{NewIPC, "ipc"},
	{NewNet, "net"},
	{NewUser, "user"},
	{NewCgroup, "cgroup"},
	{IntoCgroup, "into_cgroup"},
	{ClearSighand, "clear_sighand"},
}

// Validate rejects bits outside of the supported set. Flags such as
// CLONE_VM or CLONE_FILES would share state with the parent and are never
// accepted.
func (f Flags) Validate() error {
	if extra := f &^ allowed; extra != 0 {
		return fmt.Errorf("clone3: unsupported flags %#x", uint64(extra))
	}
	return nil
}

// Has reports whether all bits of o are set.
//
//go:nosplit
func (f Flags) Has(o Flags) bool {
	return f&o == o
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var sb strings.Builder
	rest := f
	for _, n := range flagNames {
		if f&n.f == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(n.name)
		rest &^= n.f
	}
	if rest != 0 {
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		fmt.Fprintf(&sb, "%#x", uint64(rest))
	}
	return sb.String()
}

// ParseFlag converts a name used by String (plus the aliases mnt, ns and
// network) into its flag.
func ParseFlag(name string) (Flags, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mnt", "ns":
		return NewNS, nil
	case "network":
		return NewNet, nil
	}
	for _, n := range flagNames {
		if strings.EqualFold(n.name, name) {
			return n.f, nil
		}
	}
	return 0, fmt.Errorf("clone3: unknown flag %q", name)
}

// ParseFlags ORs the flags named in names.
func ParseFlags(names []string) (Flags, error) {
	var f Flags
	for _, n := range names {
		v, err := ParseFlag(n)
		if err != nil {
			return 0, err
		}
		f |= v
	}
	return f, nil
}
