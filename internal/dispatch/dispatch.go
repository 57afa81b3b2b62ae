// Package dispatch walks a class's methods and hands the selected ones to a
// transformer. Everything else is left as parsed.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"classprobe/internal/classfile"
	"classprobe/internal/probe"
)

// ErrTargetNotFound is returned in strict mode when no method matches.
var ErrTargetNotFound = errors.New("dispatch: target method not found")

// Matcher selects methods by name, and by descriptor when one is given.
type Matcher struct {
	Name       string
	Descriptor string
	// Strict turns an empty selection into ErrTargetNotFound.
	Strict bool
}

// Match classifies one method.
type Match uint8

const (
	NoMatch Match = iota
	Matched
	MatchedNoCode
)

func (m Match) String() string {
	switch m {
	case Matched:
		return "matched"
	case MatchedNoCode:
		return "matched-no-code"
	}
	return "no-match"
}

// Match reports how m relates to the selection.
func (mt Matcher) Match(m *classfile.MethodModel) Match {
	if m.Name != mt.Name {
		return NoMatch
	}
	if mt.Descriptor != "" && m.Descriptor != mt.Descriptor {
		return NoMatch
	}
	if m.Code == nil {
		return MatchedNoCode
	}
	return Matched
}

func (mt Matcher) String() string { return mt.Name + mt.Descriptor }

// Transformer rewrites one method body in place.
type Transformer interface {
	Transform(c *classfile.ClassModel, m *classfile.MethodModel) (probe.Result, error)
}

// Skipped is a matched method that has no code.
type Skipped struct {
	Method     string                `json:"method"`
	Descriptor string                `json:"descriptor"`
	Access     classfile.AccessFlags `json:"access"`
}

// Report summarizes one dispatch.
type Report struct {
	Class   string         `json:"class"`
	Target  string         `json:"target"`
	Methods int            `json:"methods"`
	Matched int            `json:"matched"`
	Skipped []Skipped      `json:"skipped,omitempty"`
	Results []probe.Result `json:"results"`
}

// Dispatch visits every method of c in order. Matching methods with code
// go through t; a transformer error aborts the walk.
func Dispatch(c *classfile.ClassModel, mt Matcher, t Transformer, log zerolog.Logger) (Report, error) {
	rep := Report{Class: c.Name, Target: mt.String(), Methods: len(c.Methods)}
	log.Debug().Str("class", c.Name).Str("super", c.SuperName).Msg("visit")

	for _, m := range c.Methods {
		match := mt.Match(m)
		log.Debug().
			Str("method", m.Name).
			Str("desc", m.Descriptor).
			Stringer("match", match).
			Msg("visitMethod")

		switch match {
		case Matched:
			res, err := t.Transform(c, m)
			if err != nil {
				return Report{}, fmt.Errorf("%s.%s%s: %w", c.Name, m.Name, m.Descriptor, err)
			}
			rep.Matched++
			rep.Results = append(rep.Results, res)
		case MatchedNoCode:
			rep.Matched++
			rep.Skipped = append(rep.Skipped, Skipped{Method: m.Name, Descriptor: m.Descriptor, Access: m.Access})
			log.Warn().Str("method", m.Name+m.Descriptor).Msg("target has no code, skipped")
		case NoMatch:
			// copied as parsed
		}
	}

	if rep.Matched == 0 {
		if mt.Strict {
			return Report{}, fmt.Errorf("%w: %s in %s", ErrTargetNotFound, mt, c.Name)
		}
		log.Warn().Str("class", c.Name).Str("target", mt.String()).Msg("no method matched; class left unmodified")
	}
	return rep, nil
}
