package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	lrender "github.com/zboralski/lattice/render"

	"classprobe/internal/cfg"
	"classprobe/internal/classfile"
	"classprobe/internal/dispatch"
	"classprobe/internal/output"
	"classprobe/internal/render"
)

func newCFGCmd(a *app) *cobra.Command {
	var (
		sel          selection
		outDir       string
		instrumented bool
		all          bool
	)
	cmd := &cobra.Command{
		Use:   "cfg <class> --out <dir>",
		Short: "Write DOT control flow graphs of the target method(s)",
		Long: `Writes one themed DOT file per selected method, a combined lattice CFG
(cfg.dot) and the class call graph (callgraph.dot) to --out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sel.apply(cmd, a.cfg); err != nil {
				return err
			}
			cm, err := loadClass(a, args[0], instrumented)
			if err != nil {
				return err
			}
			return runCFG(a, cm, outDir, all)
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory")
	cmd.Flags().BoolVar(&instrumented, "instrumented", false, "graph the class as instrument would write it")
	cmd.Flags().BoolVar(&all, "all", false, "graph every method with code")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// isProbe reports whether an instruction is one of the probe's calls.
func isProbe(in cfg.Inst) bool {
	return strings.Contains(in.Text, "java/lang/System.currentTimeMillis") ||
		strings.Contains(in.Text, "java/io/PrintStream.println")
}

func runCFG(a *app, cm *classfile.ClassModel, outDir string, all bool) error {
	mt := dispatch.Matcher{Name: a.cfg.Target, Descriptor: a.cfg.Descriptor}
	keep := func(m *classfile.MethodModel) bool {
		return all || mt.Match(m) == dispatch.Matched
	}

	count := 0
	for _, m := range cm.Methods {
		if m.Code == nil || !keep(m) {
			continue
		}
		f, err := cfg.Build(cm, m)
		if err != nil {
			return err
		}
		path, err := output.WriteDOT(filepath.Join(outDir, "methods"), m.Name+m.Descriptor, render.CFGDOT(f, render.NASA, isProbe))
		if err != nil {
			return err
		}
		a.log.Debug().Str("method", f.Name).Int("blocks", len(f.Blocks)).Str("path", path).Msg("wrote cfg")
		count++
	}
	if count == 0 {
		if a.cfg.Strict {
			return fmt.Errorf("%w: %s in %s", dispatch.ErrTargetNotFound, mt, cm.Name)
		}
		a.log.Warn().Str("target", mt.String()).Msg("no method matched")
	}

	g, err := cfg.BuildGraph(cm, keep)
	if err != nil {
		return err
	}
	if _, err := output.WriteDOT(outDir, "cfg", lrender.DOTCFG(g, cm.Name)); err != nil {
		return err
	}
	cg := cfg.BuildCallGraph(cm)
	if _, err := output.WriteDOT(outDir, "callgraph", lrender.DOT(cg, cm.Name)); err != nil {
		return err
	}
	a.log.Info().
		Str("dir", outDir).
		Int("methods", count).
		Int("nodes", len(cg.Nodes)).
		Int("edges", len(cg.Edges)).
		Msg("wrote graphs")
	return nil
}
