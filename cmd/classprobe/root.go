package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"classprobe/internal/config"
	"classprobe/internal/logging"
)

// app is the state shared by subcommands after flag parsing.
type app struct {
	configPath string
	logLevel   string
	logPretty  bool

	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "classprobe",
		Short:         "Inject method timing probes into JVM class files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&a.logPretty, "log-pretty", true, "human-readable log output")

	root.AddCommand(
		newInstrumentCmd(a),
		newDumpCmd(a),
		newCFGCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the config file and applies the global flag overrides.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-pretty") {
		cfg.Log.Pretty = a.logPretty
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.NewWithComponent(cfg.Logging(cmd.ErrOrStderr()), cmd.Name())
	return nil
}

// selection holds the method selection flags shared by subcommands.
type selection struct {
	target     string
	descriptor string
	label      string
	unwind     bool
	strict     bool
}

func (s *selection) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&s.target, "target", "t", "", "method name to instrument (default from config, onCreate)")
	f.StringVarP(&s.descriptor, "descriptor", "d", "", "restrict to one method descriptor, e.g. (I)V")
	f.StringVar(&s.label, "label", "", "printed label (default \"execute <target>() use time: \")")
	f.BoolVar(&s.unwind, "unwind", false, "also time exits by athrow")
	f.BoolVar(&s.strict, "strict", false, "fail when no method matches")
}

// apply copies the changed selection flags into cfg.
func (s *selection) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("target") {
		cfg.Target = s.target
	}
	if f.Changed("descriptor") {
		cfg.Descriptor = s.descriptor
	}
	if f.Changed("label") {
		cfg.Label = s.label
	}
	if f.Changed("unwind") {
		cfg.Unwind = s.unwind
	}
	if f.Changed("strict") {
		cfg.Strict = s.strict
	}
	return cfg.Validate()
}
