// Package pipeline runs one class through read, dispatch, instrumentation
// and write.
package pipeline

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"classprobe/internal/classfile"
	"classprobe/internal/dispatch"
	"classprobe/internal/probe"
)

// Options selects and configures the instrumentation.
type Options struct {
	Target     string
	Descriptor string
	Label      string
	Unwind     bool
	Strict     bool
}

// Report is the JSON run report.
type Report struct {
	Input    string          `json:"input,omitempty"`
	Output   string          `json:"output,omitempty"`
	InSize   int             `json:"in_size"`
	OutSize  int             `json:"out_size"`
	Modified bool            `json:"modified"`
	Duration string          `json:"duration"`
	Dispatch dispatch.Report `json:"dispatch"`
}

// Run instruments the class in data and returns the rewritten bytes.
// When no method matches (and Strict is off) the class is re-emitted
// unmodified. Nothing is returned on error.
func Run(data []byte, opts Options, log zerolog.Logger) ([]byte, Report, error) {
	start := time.Now()
	rep := Report{InSize: len(data)}

	cm, err := classfile.Parse(data)
	if err != nil {
		return nil, Report{}, fmt.Errorf("read: %w", err)
	}
	log.Debug().
		Str("class", cm.Name).
		Uint16("major", cm.Major).
		Int("methods", len(cm.Methods)).
		Int("pool", cm.Pool.Count()).
		Msg("parsed")

	engine := probe.NewEngine(probe.Options{Label: opts.Label, Unwind: opts.Unwind}, log)
	mt := dispatch.Matcher{Name: opts.Target, Descriptor: opts.Descriptor, Strict: opts.Strict}
	rep.Dispatch, err = dispatch.Dispatch(cm, mt, engine, log)
	if err != nil {
		return nil, Report{}, err
	}
	rep.Modified = len(rep.Dispatch.Results) > 0

	out, err := classfile.Write(cm, classfile.WriteOptions{ComputeMaxs: true})
	if err != nil {
		return nil, Report{}, fmt.Errorf("write: %w", err)
	}

	// Record the exact values the writer settled on.
	for i := range rep.Dispatch.Results {
		r := &rep.Dispatch.Results[i]
		if m := cm.Method(r.Method, r.Descriptor); m != nil && m.Code != nil {
			r.MaxStackAfter, r.MaxLocalsAfter = m.Code.MaxStack, m.Code.MaxLocals
		}
	}

	rep.OutSize = len(out)
	rep.Duration = time.Since(start).String()
	log.Info().
		Str("class", cm.Name).
		Str("target", mt.String()).
		Int("matched", rep.Dispatch.Matched).
		Int("instrumented", len(rep.Dispatch.Results)).
		Int("in", rep.InSize).
		Int("out", rep.OutSize).
		Msg("done")
	return out, rep, nil
}
