// Command curium runs a single program in new Linux namespaces.
//
//	curium run -n pid,mount,uts,ipc,net --root /srv/rootfs --hostname box -- /bin/sh -c 'echo hi'
//	curium run -c curium.yaml
//	curium info -c curium.yaml
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// exitError carries the exit status of the spawned program
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// usageError is a command line the flag parser rejected
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		var eerr *exitError
		if errors.As(err, &eerr) {
			os.Exit(eerr.code)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	root := cobra.Command{
		Use:   "curium",
		Short: "Spawn a process in new linux namespaces",

		// the exit status of the program is passed through without any
		// additional output
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(runCommand())
	root.AddCommand(infoCommand())

	cmd, err := root.ExecuteC()
	var eerr *exitError
	if err == nil || errors.As(err, &eerr) {
		return err
	}
	var uerr *usageError
	if errors.As(err, &uerr) {
		fmt.Fprint(stderr, cmd.UsageString())
	}
	root.PrintErrln(root.ErrPrefix(), err.Error())
	return err
}
