// Package config loads the description of a spawn from YAML and command
// line flags and turns it into a container.Spec.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/criyle/go-curium/container"
	"github.com/criyle/go-curium/pkg/clone3"
	"github.com/criyle/go-curium/pkg/handshake"
	"github.com/criyle/go-curium/pkg/idmap"
	"github.com/criyle/go-curium/pkg/rlimit"
	"github.com/criyle/go-curium/pkg/seccomp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the file form of a spawn
type Config struct {
	Path     string   `yaml:"path"`
	Args     []string `yaml:"args"`
	Env      []string `yaml:"env"`
	Root     string   `yaml:"root"`
	HostName string   `yaml:"hostname"`
	Dir      string   `yaml:"dir"`

	// Namespaces are names accepted by clone3.ParseFlag
	Namespaces []string `yaml:"namespaces"`

	UIDMap *idmap.Mapping `yaml:"uid_map"`
	GIDMap *idmap.Mapping `yaml:"gid_map"`

	// MapCurrentUser maps root in the new user namespace to the caller when
	// no explicit mapping is given
	MapCurrentUser bool `yaml:"map_current_user"`

	// Cgroup is a cgroup v2 group relative to the mount point. It is
	// created if missing and removed afterwards unless it existed.
	Cgroup string `yaml:"cgroup"`

	// CgroupAttach writes the pid into the group before the child is
	// released instead of cloning into it, for kernels without
	// CLONE_INTO_CGROUP
	CgroupAttach bool `yaml:"cgroup_attach"`

	RLimits rlimit.RLimits  `yaml:"rlimits"`
	Seccomp seccomp.Builder `yaml:"seccomp"`

	SyncTimeout time.Duration `yaml:"sync_timeout"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the zap logger
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

const (
	defaultLogLevel = "info"
	defaultEnvPath  = "PATH=/usr/local/bin:/usr/bin:/bin"
)

// Default returns the configuration used without a file
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Env == nil {
		c.Env = []string{defaultEnvPath}
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = handshake.DefaultTimeout
	}
}

// Flags returns the clone flags named by Namespaces
func (c *Config) Flags() (clone3.Flags, error) {
	return clone3.ParseFlags(c.Namespaces)
}

// Validate checks the parts of the configuration that are not checked by
// container.Spec
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("config: path is required")
	}
	flags, err := c.Flags()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.MapCurrentUser && !flags.Has(clone3.NewUser) {
		return errors.New("config: map_current_user requires the user namespace")
	}
	if c.Cgroup != "" && strings.Contains(c.Cgroup, "..") {
		return fmt.Errorf("config: cgroup %q escapes the hierarchy", c.Cgroup)
	}
	if c.CgroupAttach && c.Cgroup == "" {
		return errors.New("config: cgroup_attach requires cgroup")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	return nil
}

// Spec converts the configuration. The cgroup descriptor is left for the
// caller to fill in.
func (c *Config) Spec() (container.Spec, error) {
	if err := c.Validate(); err != nil {
		return container.Spec{}, err
	}
	flags, _ := c.Flags()
	s := container.Spec{
		Path:        c.Path,
		Args:        c.Args,
		Env:         c.Env,
		Root:        c.Root,
		Flags:       flags,
		UIDMap:      c.UIDMap,
		GIDMap:      c.GIDMap,
		HostName:    c.HostName,
		Dir:         c.Dir,
		RLimits:     c.RLimits.PrepareRLimit(),
		SyncTimeout: c.SyncTimeout,
	}
	if c.MapCurrentUser {
		if s.UIDMap == nil {
			m := idmap.CurrentUser()
			s.UIDMap = &m
		}
		if s.GIDMap == nil {
			m := idmap.CurrentGroup()
			s.GIDMap = &m
		}
	}
	if !c.Seccomp.Empty() {
		f, err := c.Seccomp.Build()
		if err != nil {
			return container.Spec{}, err
		}
		s.Seccomp = f
	}
	return s, s.Validate()
}

// Logger builds the zap logger described by Log
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	// stdout belongs to the spawned process
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// ParseMapping parses "inside:outside:count"
func ParseMapping(s string) (*idmap.Mapping, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("config: mapping %q is not inside:outside:count", s)
	}
	var v [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("config: mapping %q: %w", s, err)
		}
		v[i] = uint32(n)
	}
	m := &idmap.Mapping{Inside: v[0], Outside: v[1], Count: v[2]}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
