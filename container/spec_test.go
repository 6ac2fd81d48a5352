package container

import (
	"syscall"
	"testing"
	"time"

	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/stretchr/testify/assert"
)

func TestSpec_Validate(t *testing.T) {
	ok := Spec{
		Path:     "/bin/true",
		Env:      []string{"A=b", "EMPTY="},
		Root:     "/srv/rootfs",
		Flags:    clone3.NewNS | clone3.NewUTS | clone3.NewUser,
		HostName: "h",
		UIDMap:   &idmap.Mapping{Count: 1},
	}
	assert.NoError(t, ok.Validate())

	for name, mod := range map[string]func(*Spec){
		"empty path":        func(s *Spec) { s.Path = "" },
		"nul path":          func(s *Spec) { s.Path = "/bin/\x00true" },
		"nul arg":           func(s *Spec) { s.Args = []string{"a\x00"} },
		"env without equal": func(s *Spec) { s.Env = []string{"A"} },
		"env empty key":     func(s *Spec) { s.Env = []string{"=b"} },
		"unknown flag":      func(s *Spec) { s.Flags |= clone3.Flags(syscall.CLONE_VM) },
		"root without ns":   func(s *Spec) { s.Flags &^= clone3.NewNS },
		"host without uts":  func(s *Spec) { s.Flags &^= clone3.NewUTS },
		"map without user":  func(s *Spec) { s.Flags &^= clone3.NewUser },
		"zero count map":    func(s *Spec) { s.GIDMap = &idmap.Mapping{} },
		"into cgroup no fd": func(s *Spec) { s.Flags |= clone3.IntoCgroup },
		"negative cgroup":   func(s *Spec) { s.Cgroup = -1 },
		"negative timeout":  func(s *Spec) { s.SyncTimeout = -time.Second },
		"nul hostname":      func(s *Spec) { s.HostName = "a\x00" },
	} {
		t.Run(name, func(t *testing.T) {
			s := ok
			mod(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSpec)
		})
	}
}

func TestSpec_Defaults(t *testing.T) {
	s := Spec{Path: "/bin/true", Cgroup: 5}
	assert.Equal(t, []string{"/bin/true"}, s.args())
	assert.True(t, s.flags().Has(clone3.IntoCgroup))

	s.Args = []string{"true", "-x"}
	s.Cgroup = 0
	assert.Equal(t, []string{"true", "-x"}, s.args())
	assert.False(t, s.flags().Has(clone3.IntoCgroup))
}

func TestResult_ExitCode(t *testing.T) {
	assert.Equal(t, 2, (&Result{Status: syscall.WaitStatus(2 << 8)}).ExitCode())
	assert.Equal(t, 128+9, (&Result{Status: syscall.WaitStatus(syscall.SIGKILL)}).ExitCode())
	assert.Equal(t, "execve", LocExecve.String())
	assert.Equal(t, "location(99)", ErrorLocation(99).String())
}
