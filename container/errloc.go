package container

import "fmt"

// ErrorLocation defines the location where child process failed to exec
type ErrorLocation int

// Location constants
const (
	LocCloseParent ErrorLocation = iota + 1
	LocCloseRange
	LocSyncRead
	LocSyncEOF
	LocSyncTimeout
	LocRootfs
	LocSetHostname
	LocChdir
	LocSetRlimit
	LocSetNoNewPrivs
	LocSeccomp
	LocExecve
)

var locToString = []string{
	"unknown",
	"close(parent)",
	"close_range",
	"sync_read",
	"sync_read(eof)",
	"sync_read(timeout)",
	"rootfs",
	"sethostname",
	"chdir",
	"setrlimit",
	"set_no_new_privs",
	"seccomp",
	"execve",
}

// name is String without formatting so it can run in the child
//
//go:nosplit
func (e ErrorLocation) name() string {
	if e >= 0 && int(e) < len(locToString) {
		return locToString[e]
	}
	return locToString[0]
}

func (e ErrorLocation) String() string {
	if e >= 0 && int(e) < len(locToString) {
		return locToString[e]
	}
	return fmt.Sprintf("location(%d)", int(e))
}
