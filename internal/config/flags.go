package config

import (
	"time"

	"github.com/criyle/go-curium/pkg/rlimit"
	"github.com/criyle/go-curium/pkg/seccomp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Overrides holds the command line values that replace the file values
// when the flag was given
type Overrides struct {
	File string

	root, hostname, dir, cgroup string
	env, namespaces             []string
	uidMap, gidMap              string
	mapUser, cgroupAttach       bool
	syncTimeout                 time.Duration
	cpu, openFile               uint64
	data, stack, fileSize       rlimit.Size
	addressSpace                rlimit.Size
	disableCore                 bool
	allow, deny                 []string
	logLevel                    string
	development                 bool
}

// Flags registers the override flags on cmd
func (o *Overrides) Flags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&o.File, "config", "c", "", "yaml config file")

	fs.StringVar(&o.root, "root", "", "new root directory (requires mount namespace)")
	fs.StringVar(&o.hostname, "hostname", "", "hostname in the new uts namespace")
	fs.StringVar(&o.dir, "dir", "", "working directory after the root switch")
	fs.StringVar(&o.cgroup, "cgroup", "", "cgroup v2 group the process starts in")
	fs.BoolVar(&o.cgroupAttach, "cgroup-attach", false, "move the process into the cgroup after clone")
	fs.StringArrayVarP(&o.env, "env", "e", nil, "environment KEY=VALUE, repeatable")
	fs.StringSliceVarP(&o.namespaces, "ns", "n", nil, "namespaces: pid,mount,uts,ipc,net,user,cgroup")
	fs.StringVar(&o.uidMap, "uid-map", "", "uid mapping inside:outside:count")
	fs.StringVar(&o.gidMap, "gid-map", "", "gid mapping inside:outside:count")
	fs.BoolVar(&o.mapUser, "map-user", false, "map root in the user namespace to the caller")
	fs.DurationVar(&o.syncTimeout, "sync-timeout", 0, "bound of the child wait for the parent setup")

	fs.Uint64Var(&o.cpu, "cpu", 0, "cpu time limit in seconds")
	fs.Uint64Var(&o.openFile, "nofile", 0, "open file limit")
	fs.Var(&o.data, "data", "data segment limit (e.g. 256m)")
	fs.Var(&o.stack, "stack", "stack limit (e.g. 8m)")
	fs.Var(&o.fileSize, "fsize", "output file size limit (e.g. 64m)")
	fs.Var(&o.addressSpace, "as", "address space limit (e.g. 1g)")
	fs.BoolVar(&o.disableCore, "no-core", false, "disable core dumps")

	fs.StringSliceVar(&o.allow, "seccomp-allow", nil, "syscalls allowed when the default is deny")
	fs.StringSliceVar(&o.deny, "seccomp-deny", nil, "syscalls answered with EPERM")

	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&o.development, "log-dev", false, "development logger")
}

// Load reads the config file if given and applies the changed flags.
// args after the flags replace path and argv.
func (o *Overrides) Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	c := Default()
	if o.File != "" {
		var err error
		if c, err = Load(o.File); err != nil {
			return nil, err
		}
	}
	if err := o.Apply(fs, c); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		c.Path = args[0]
		c.Args = args
	}
	return c, nil
}

// Apply copies every flag given on the command line into c
func (o *Overrides) Apply(fs *pflag.FlagSet, c *Config) error {
	changed := fs.Changed
	if changed("root") {
		c.Root = o.root
	}
	if changed("hostname") {
		c.HostName = o.hostname
	}
	if changed("dir") {
		c.Dir = o.dir
	}
	if changed("cgroup") {
		c.Cgroup = o.cgroup
	}
	if changed("cgroup-attach") {
		c.CgroupAttach = o.cgroupAttach
	}
	if changed("env") {
		c.Env = o.env
	}
	if changed("ns") {
		c.Namespaces = o.namespaces
	}
	if changed("uid-map") {
		m, err := ParseMapping(o.uidMap)
		if err != nil {
			return err
		}
		c.UIDMap = m
	}
	if changed("gid-map") {
		m, err := ParseMapping(o.gidMap)
		if err != nil {
			return err
		}
		c.GIDMap = m
	}
	if changed("map-user") {
		c.MapCurrentUser = o.mapUser
	}
	if changed("sync-timeout") {
		c.SyncTimeout = o.syncTimeout
	}

	if changed("cpu") {
		c.RLimits.CPU = o.cpu
	}
	if changed("nofile") {
		c.RLimits.OpenFile = o.openFile
	}
	if changed("data") {
		c.RLimits.Data = o.data
	}
	if changed("stack") {
		c.RLimits.Stack = o.stack
	}
	if changed("fsize") {
		c.RLimits.FileSize = o.fileSize
	}
	if changed("as") {
		c.RLimits.AddressSpace = o.addressSpace
	}
	if changed("no-core") {
		c.RLimits.DisableCore = o.disableCore
	}

	if changed("seccomp-allow") {
		c.Seccomp.Allow = o.allow
		if c.Seccomp.Default == 0 {
			c.Seccomp.Default = seccomp.ActionKill
		}
	}
	if changed("seccomp-deny") {
		c.Seccomp.Deny = o.deny
		if c.Seccomp.Default == 0 {
			c.Seccomp.Default = seccomp.ActionAllow
		}
	}

	if changed("log-level") {
		c.Log.Level = o.logLevel
	}
	if changed("log-dev") {
		c.Log.Development = o.development
	}
	return nil
}
