// Package probe injects timing code into method bodies: the time is taken
// on entry, and before every exit the elapsed milliseconds are printed to
// System.out behind a label.
package probe

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"classprobe/internal/bytecode"
	"classprobe/internal/classfile"
)

// ProbePeak is the operand stack the exit probe needs above the stack at
// the exit point.
const ProbePeak = 4

// entryPeak is the operand stack the entry probe needs.
const entryPeak = 2

// ErrNoCode is returned when the method is abstract or native.
var ErrNoCode = errors.New("probe: method has no code")

// offsetAttributes are Code attributes that address the code array by byte
// offset and are not decoded into labels. They go stale once probes shift
// the code, so instrumented methods lose them.
var offsetAttributes = []string{
	"RuntimeVisibleTypeAnnotations",
	"RuntimeInvisibleTypeAnnotations",
}

// DefaultLabel returns the message prefix used when none is configured.
func DefaultLabel(method string) string {
	return fmt.Sprintf("execute %s() use time: ", method)
}

// Options configures the probe.
type Options struct {
	// Label prefixes the printed duration. Empty means DefaultLabel.
	Label string
	// Unwind also instruments athrow exits.
	Unwind bool
}

// Result describes one instrumented method.
type Result struct {
	Method          string      `json:"method"`
	Descriptor      string      `json:"descriptor"`
	Label           string      `json:"label"`
	Returns         int         `json:"returns"`
	Throws          int         `json:"throws"`
	Dropped         []string    `json:"dropped_attributes,omitempty"`
	Start           LocalSlot   `json:"start_slot"`
	Slots           []LocalSlot `json:"slots"`
	MaxStackBefore  int         `json:"max_stack_before"`
	MaxLocalsBefore int         `json:"max_locals_before"`
	MaxStackAfter   int         `json:"max_stack_after"`
	MaxLocalsAfter  int         `json:"max_locals_after"`
}

// Engine rewrites matched methods.
type Engine struct {
	opts Options
	log  zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(opts Options, log zerolog.Logger) *Engine {
	return &Engine{opts: opts, log: log}
}

// refs are the constant pool entries the probe code uses.
type refs struct {
	currentTimeMillis uint16
	out               uint16
	stringBuilder     uint16
	sbInit            uint16
	appendString      uint16
	appendLong        uint16
	toString          uint16
	println           uint16
	label             uint16
}

func resolveRefs(p *classfile.Pool, label string) (*refs, error) {
	const sb = "java/lang/StringBuilder"
	r := &refs{}
	steps := []struct {
		dst *uint16
		add func() (uint16, error)
	}{
		{&r.currentTimeMillis, func() (uint16, error) {
			return p.AddMethodref("java/lang/System", "currentTimeMillis", "()J")
		}},
		{&r.out, func() (uint16, error) {
			return p.AddFieldref("java/lang/System", "out", "Ljava/io/PrintStream;")
		}},
		{&r.stringBuilder, func() (uint16, error) { return p.AddClass(sb) }},
		{&r.sbInit, func() (uint16, error) { return p.AddMethodref(sb, "<init>", "()V") }},
		{&r.appendString, func() (uint16, error) {
			return p.AddMethodref(sb, "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;")
		}},
		{&r.appendLong, func() (uint16, error) {
			return p.AddMethodref(sb, "append", "(J)Ljava/lang/StringBuilder;")
		}},
		{&r.toString, func() (uint16, error) { return p.AddMethodref(sb, "toString", "()Ljava/lang/String;") }},
		{&r.println, func() (uint16, error) {
			return p.AddMethodref("java/io/PrintStream", "println", "(Ljava/lang/String;)V")
		}},
		{&r.label, func() (uint16, error) { return p.AddString(label) }},
	}
	for _, s := range steps {
		idx, err := s.add()
		if err != nil {
			return nil, fmt.Errorf("probe: constant pool: %w", err)
		}
		*s.dst = idx
	}
	return r, nil
}

func (r *refs) entry(start LocalSlot) []bytecode.Insn {
	return []bytecode.Insn{
		&bytecode.MemberInsn{Op: bytecode.INVOKESTATIC, Index: r.currentTimeMillis},
		&bytecode.VarInsn{Op: bytecode.LSTORE, Var: start.Index},
	}
}

// exit is stack neutral and leaves any pending return value or exception
// below it untouched.
func (r *refs) exit(start, end, delta LocalSlot) []bytecode.Insn {
	return []bytecode.Insn{
		&bytecode.MemberInsn{Op: bytecode.INVOKESTATIC, Index: r.currentTimeMillis},
		&bytecode.VarInsn{Op: bytecode.LSTORE, Var: end.Index},
		&bytecode.VarInsn{Op: bytecode.LLOAD, Var: end.Index},
		&bytecode.VarInsn{Op: bytecode.LLOAD, Var: start.Index},
		&bytecode.Simple{Op: bytecode.LSUB},
		&bytecode.VarInsn{Op: bytecode.LSTORE, Var: delta.Index},
		&bytecode.MemberInsn{Op: bytecode.GETSTATIC, Index: r.out},
		&bytecode.TypeInsn{Op: bytecode.NEW, Index: r.stringBuilder},
		&bytecode.Simple{Op: bytecode.DUP},
		&bytecode.MemberInsn{Op: bytecode.INVOKESPECIAL, Index: r.sbInit},
		&bytecode.LdcInsn{Op: bytecode.LDC, Index: r.label},
		&bytecode.MemberInsn{Op: bytecode.INVOKEVIRTUAL, Index: r.appendString},
		&bytecode.VarInsn{Op: bytecode.LLOAD, Var: delta.Index},
		&bytecode.MemberInsn{Op: bytecode.INVOKEVIRTUAL, Index: r.appendLong},
		&bytecode.MemberInsn{Op: bytecode.INVOKEVIRTUAL, Index: r.toString},
		&bytecode.MemberInsn{Op: bytecode.INVOKEVIRTUAL, Index: r.println},
	}
}

// ExitProbeLen is the number of instructions emitted before each exit.
const ExitProbeLen = 16

// Transform instruments m in place. The entry probe becomes the first code
// of the method; an exit probe is placed immediately before every exit, so
// labels that pointed at an exit now point at its probe. Slots are
// allocated and pool entries resolved before the body is touched.
func (e *Engine) Transform(c *classfile.ClassModel, m *classfile.MethodModel) (Result, error) {
	if m.Code == nil {
		return Result{}, fmt.Errorf("%w: %s%s", ErrNoCode, m.Name, m.Descriptor)
	}
	code := m.Code
	res := Result{
		Method:          m.Name,
		Descriptor:      m.Descriptor,
		MaxStackBefore:  code.MaxStack,
		MaxLocalsBefore: code.MaxLocals,
	}

	exits := FindExits(code.Insns, e.opts.Unwind)

	alloc := NewAllocator(m.Name+m.Descriptor, code.MaxLocals)
	start, err := alloc.New(bytecode.KindLong)
	if err != nil {
		return Result{}, err
	}
	type exitSlots struct{ end, delta LocalSlot }
	perExit := make([]exitSlots, len(exits))
	for i := range exits {
		if perExit[i].end, err = alloc.New(bytecode.KindLong); err != nil {
			return Result{}, err
		}
		if perExit[i].delta, err = alloc.New(bytecode.KindLong); err != nil {
			return Result{}, err
		}
	}

	label := e.opts.Label
	if label == "" {
		label = DefaultLabel(m.Name)
	}
	r, err := resolveRefs(c.Pool, label)
	if err != nil {
		return Result{}, err
	}

	out := make([]bytecode.Insn, 0, len(code.Insns)+2+len(exits)*ExitProbeLen)
	out = append(out, r.entry(start)...)
	next := 0
	for i, in := range code.Insns {
		if next < len(exits) && exits[next].Index == i {
			s := perExit[next]
			out = append(out, r.exit(start, s.end, s.delta)...)
			if exits[next].Kind == ExitThrow {
				res.Throws++
			} else {
				res.Returns++
			}
			next++
		}
		out = append(out, in)
	}
	code.Insns = out

	kept := code.Attributes[:0]
	for _, a := range code.Attributes {
		if slices.Contains(offsetAttributes, a.Name) {
			res.Dropped = append(res.Dropped, a.Name)
			continue
		}
		kept = append(kept, a)
	}
	code.Attributes = kept

	long := bytecode.VType{Tag: bytecode.VLong}
	for i := range code.Frames {
		code.Frames[i].Locals = bytecode.WithLocal(code.Frames[i].Locals, start.Index, long)
	}

	code.MaxLocals = alloc.MaxLocals()
	if len(exits) > 0 {
		code.MaxStack += ProbePeak
	}
	code.MaxStack = max(code.MaxStack, entryPeak)

	res.Label = label
	res.Start = start
	res.Slots = alloc.Slots()
	res.MaxStackAfter = code.MaxStack
	res.MaxLocalsAfter = code.MaxLocals

	e.log.Debug().
		Str("method", m.Name+m.Descriptor).
		Int("returns", res.Returns).
		Int("throws", res.Throws).
		Int("start_slot", start.Index).
		Int("max_locals", code.MaxLocals).
		Strs("dropped", res.Dropped).
		Msg("instrumented")
	return res, nil
}
