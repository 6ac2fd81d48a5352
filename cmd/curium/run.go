package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/criyle/go-curium/container"
	"github.com/criyle/go-curium/internal/config"
	"github.com/criyle/go-curium/pkg/cgroup"
	"github.com/criyle/go-curium/pkg/mount"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runCommand() *cobra.Command {
	var o config.Overrides
	cmd := cobra.Command{
		Use:   "run [flags] [-- command [args]...]",
		Short: "Run a program and exit with its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Load(cmd.Flags(), args)
			if err != nil {
				return err
			}
			return runSpawn(c)
		},
	}
	o.Flags(&cmd)
	return &cmd
}

func runSpawn(c *config.Config) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	spec, err := c.Spec()
	if err != nil {
		return err
	}

	if spec.Root != "" {
		r, err := mount.NewRootfs(spec.Root)
		if err != nil {
			return err
		}
		if err := r.MkdirAll(); err != nil {
			return fmt.Errorf("prepare root: %w", err)
		}
		logger.Debug("root prepared", zap.Stringer("rootfs", r))
	}

	if c.Cgroup != "" {
		g, err := cgroup.Create(c.Cgroup)
		if err != nil {
			return err
		}
		defer func() {
			if derr := g.Destroy(); derr != nil {
				logger.Warn("remove cgroup", zap.Stringer("cgroup", g), zap.Error(derr))
			}
		}()
		if !c.CgroupAttach {
			fd, err := g.FD()
			if err != nil {
				return err
			}
			spec.Cgroup = fd
		}
		spec.Setup = func(pid int) error {
			if err := joinCgroup(g, pid, c.CgroupAttach); err != nil {
				return err
			}
			logger.Debug("cgroup joined", zap.Stringer("cgroup", g), zap.Int("pid", pid), zap.Bool("attach", c.CgroupAttach))
			return nil
		}
	}

	r, err := container.New(spec, container.WithLogger(logger)).Spawn()
	if err != nil {
		var ke *container.KernelError
		if errors.As(err, &ke) {
			logger.Error("kernel call failed", zap.String("op", ke.Op), zap.Error(ke.Err))
		}
		return err
	}
	logger.Info("finished", zap.Stringer("result", r))
	if code := r.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// member is the part of a cgroup the setup hook touches
type member interface {
	Processes() ([]int, error)
	AddProc(pid int) error
}

// joinCgroup makes sure pid is in g before the child is released. In attach
// mode the pid is written first; otherwise it is only written when
// CLONE_INTO_CGROUP did not place it there.
func joinCgroup(g member, pid int, attach bool) error {
	if attach {
		if err := g.AddProc(pid); err != nil {
			return fmt.Errorf("cgroup: attach %d: %w", pid, err)
		}
	}
	procs, err := g.Processes()
	if err != nil {
		return err
	}
	if slices.Contains(procs, pid) {
		return nil
	}
	if attach {
		return fmt.Errorf("cgroup: %d missing after attach", pid)
	}
	if err := g.AddProc(pid); err != nil {
		return fmt.Errorf("cgroup: attach %d: %w", pid, err)
	}
	return nil
}
