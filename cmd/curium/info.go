package main

import (
	"fmt"
	"io"

	"github.com/criyle/go-curium/internal/config"
	"github.com/criyle/go-curium/pkg/cgroup"
	"github.com/spf13/cobra"
)

func infoCommand() *cobra.Command {
	var o config.Overrides
	cmd := cobra.Command{
		Use:   "info [flags] [-- command [args]...]",
		Short: "Show the host cgroup setup and the resolved spawn",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Load(cmd.Flags(), args)
			if err != nil {
				return err
			}
			return printInfo(cmd.OutOrStdout(), c)
		},
	}
	o.Flags(&cmd)
	return &cmd
}

func printInfo(w io.Writer, c *config.Config) error {
	fmt.Fprintf(w, "cgroup:     %v\n", cgroup.DetectType())
	if cur, err := cgroup.Current(); err == nil {
		fmt.Fprintf(w, "current:    %s\n", cur)
	}
	if c.Cgroup != "" {
		printGroup(w, c.Cgroup)
	}
	if c.Path == "" {
		return nil
	}

	s, err := c.Spec()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "path:       %s\n", s.Path)
	fmt.Fprintf(w, "args:       %q\n", s.Args)
	fmt.Fprintf(w, "namespaces: %v\n", s.Flags)
	if s.Root != "" {
		fmt.Fprintf(w, "root:       %s\n", s.Root)
	}
	if s.UIDMap != nil {
		fmt.Fprintf(w, "uid_map:    %v\n", *s.UIDMap)
	}
	if s.GIDMap != nil {
		fmt.Fprintf(w, "gid_map:    %v\n", *s.GIDMap)
	}
	for _, r := range s.RLimits {
		fmt.Fprintf(w, "rlimit:     %v\n", r)
	}
	if len(s.Seccomp) > 0 {
		fmt.Fprintf(w, "seccomp:    %d instructions\n", len(s.Seccomp))
	}
	return nil
}

func printGroup(w io.Writer, name string) {
	g, err := cgroup.Open(name)
	if err != nil {
		fmt.Fprintf(w, "group:      %v\n", err)
		return
	}
	fmt.Fprintf(w, "group:      %s\n", g)
	if p, err := g.Populated(); err == nil {
		fmt.Fprintf(w, "populated:  %v\n", p)
	} else {
		fmt.Fprintf(w, "populated:  %v\n", err)
	}
}
