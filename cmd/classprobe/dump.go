package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"classprobe/internal/classfile"
	"classprobe/internal/pipeline"
)

func newDumpCmd(a *app) *cobra.Command {
	var (
		sel          selection
		instrumented bool
	)
	cmd := &cobra.Command{
		Use:   "dump <class>",
		Short: "Print a javap-like listing of a class file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sel.apply(cmd, a.cfg); err != nil {
				return err
			}
			cm, err := loadClass(a, args[0], instrumented)
			if err != nil {
				return err
			}
			text, err := classfile.Dump(cm)
			if err != nil {
				return fmt.Errorf("dump: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&instrumented, "instrumented", false, "list the class as instrument would write it")
	return cmd
}

// loadClass parses a class file, optionally after running it through the
// instrumentation pipeline in memory.
func loadClass(a *app, path string, instrumented bool) (*classfile.ClassModel, error) {
	if !instrumented {
		return classfile.ReadFile(path)
	}
	data, err := classfile.ReadBytes(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	out, _, err := pipeline.Run(data, a.cfg.Pipeline(), a.log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return classfile.Parse(out)
}
