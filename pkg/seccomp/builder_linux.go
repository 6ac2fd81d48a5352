package seccomp

import (
	"fmt"
	"sync"

	libseccomp "github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-seccomp-bpf/arch"
	"golang.org/x/net/bpf"
)

// Builder is used to build the filter
type Builder struct {
	Allow   []string `yaml:"allow"`
	Trace   []string `yaml:"trace"`
	Deny    []string `yaml:"deny"` // answered with DenyAction
	Default Action   `yaml:"default"`

	// DenyAction defaults to errno(EPERM)
	DenyAction Action `yaml:"deny_action"`
}

// Empty reports whether the builder describes no filter at all
func (b *Builder) Empty() bool {
	return b.Default == 0 && len(b.Allow) == 0 && len(b.Trace) == 0 && len(b.Deny) == 0
}

// Build assembles the filter for the native architecture
func (b *Builder) Build() (Filter, error) {
	if b.Default == 0 {
		return nil, fmt.Errorf("seccomp: default action is required")
	}
	for _, names := range [][]string{b.Allow, b.Trace, b.Deny} {
		for _, n := range names {
			if _, err := SyscallNumber(n); err != nil {
				return nil, err
			}
		}
	}
	deny := b.DenyAction
	if deny == 0 {
		deny = ActionErrno.WithReturnCode(int16(1)) // EPERM
	}

	policy := libseccomp.Policy{
		DefaultAction: ToSeccompAction(b.Default),
	}
	for _, g := range []struct {
		names  []string
		action Action
	}{
		{b.Allow, ActionAllow},
		{b.Trace, ActionTrace.WithReturnCode(MsgHandle)},
		{b.Deny, deny},
	} {
		if len(g.names) == 0 {
			continue
		}
		policy.Syscalls = append(policy.Syscalls, libseccomp.SyscallGroup{
			Names:  g.names,
			Action: ToSeccompAction(g.action),
		})
	}

	insts, err := policy.Assemble()
	if err != nil {
		return nil, fmt.Errorf("seccomp: assemble policy: %w", err)
	}
	return ExportBPF(insts)
}

// ExportBPF converts instructions to the kernel readable filter
func ExportBPF(insts []bpf.Instruction) (Filter, error) {
	raw, err := bpf.Assemble(insts)
	if err != nil {
		return nil, fmt.Errorf("seccomp: assemble bpf: %w", err)
	}
	f := make(Filter, len(raw))
	for i, r := range raw {
		f[i].Code = r.Op
		f[i].Jt = r.Jt
		f[i].Jf = r.Jf
		f[i].K = r.K
	}
	return f, nil
}

// MsgDisallow, MsgHandle defines the action needed when traped by
// seccomp filter
const (
	MsgDisallow int16 = iota + 1
	MsgHandle
)

// ToSeccompAction convert action to go-seccomp-bpf compatible action
func ToSeccompAction(a Action) libseccomp.Action {
	var action libseccomp.Action
	switch a.Action() {
	case ActionAllow:
		action = libseccomp.ActionAllow
	case ActionErrno:
		action = libseccomp.ActionErrno
	case ActionTrace:
		action = libseccomp.ActionTrace
	case ActionLog:
		action = libseccomp.ActionLog
	default:
		action = libseccomp.ActionKillProcess
	}
	// the least 16 bit of ret value is SECCOMP_RET_DATA
	// although it might not officially supported by go-seccomp-bpf
	action = action.WithReturnData(int(a.ReturnCode()))
	return action
}

var (
	nativeOnce  sync.Once
	nativeNames map[string]int
	nativeErr   error
)

// SyscallNumber resolves name on the native architecture
func SyscallNumber(name string) (int, error) {
	nativeOnce.Do(func() {
		info, err := arch.GetInfo("")
		if err != nil {
			nativeErr = err
			return
		}
		nativeNames = make(map[string]int, len(info.SyscallNumbers))
		for nr, n := range info.SyscallNumbers {
			nativeNames[n] = nr
		}
	})
	if nativeErr != nil {
		return 0, nativeErr
	}
	nr, ok := nativeNames[name]
	if !ok {
		return 0, fmt.Errorf("seccomp: syscall %q does not exist", name)
	}
	return nr, nil
}
