package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"classprobe/internal/classfile"
	"classprobe/internal/output"
	"classprobe/internal/pipeline"
)

func newInstrumentCmd(a *app) *cobra.Command {
	var (
		sel    selection
		out    string
		report string
	)
	cmd := &cobra.Command{
		Use:   "instrument <in.class> --out <out.class>",
		Short: "Time the target method(s) of a class file",
		Long: `Rewrites every method named by --target so that it records the time on
entry and prints "<label><elapsed ms>" to System.out before each return.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sel.apply(cmd, a.cfg); err != nil {
				return err
			}
			return runInstrument(a, args[0], out, report)
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output class file")
	cmd.Flags().StringVar(&report, "report", "", "write a JSON run report")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func runInstrument(a *app, in, out, report string) error {
	data, err := classfile.ReadBytes(in)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	classBytes, rep, err := pipeline.Run(data, a.cfg.Pipeline(), a.log)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}

	if err := output.WriteClass(out, classBytes); err != nil {
		return err
	}
	rep.Input, rep.Output = in, out
	a.log.Info().Str("path", out).Int("bytes", len(classBytes)).Msg("wrote class")

	if report != "" {
		if err := output.WriteReportJSON(report, rep); err != nil {
			return err
		}
		a.log.Info().Str("path", report).Msg("wrote report")
	}
	return nil
}
