package bytecode

import (
	"errors"
	"fmt"
)

var (
	ErrUnderflow    = errors.New("operand stack underflow")
	ErrInconsistent = errors.New("inconsistent stack depth at join")
	ErrFallOff      = errors.New("execution falls off the end of the code")
	ErrHandler      = errors.New("exception handler label not in method")
)

// Resolver answers the constant-pool questions stack analysis needs. Each
// method fails if the index is out of range or names the wrong kind of entry.
type Resolver interface {
	// FieldType returns the descriptor of a CONSTANT_Fieldref.
	FieldType(index uint16) (string, error)
	// MethodType returns the descriptor of the method reference invoked by op.
	MethodType(op Opcode, index uint16) (string, error)
	// InvokeDynamicType returns the descriptor of a CONSTANT_InvokeDynamic.
	InvokeDynamicType(index uint16) (string, error)
	// LdcWords returns the stack words of a loadable constant for ldc or ldc2_w.
	LdcWords(op Opcode, index uint16) (int, error)
	// ClassRef checks that index is a CONSTANT_Class.
	ClassRef(index uint16) error
}

// AnalysisError locates a failed check in the code array.
type AnalysisError struct {
	Offset int
	Op     Opcode
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("offset %d (%s): %v", e.Offset, e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Maxs is the computed operand stack and local variable requirement.
type Maxs struct {
	Stack  int
	Locals int
}

// Effect returns the words an instruction pops and pushes, resolving
// descriptor-dependent instructions through r.
func Effect(in Instruction, r Resolver) (pop, push int, err error) {
	switch i := in.(type) {
	case *LdcInsn:
		w, err := r.LdcWords(i.Op, i.Index)
		return 0, w, err
	case *MemberInsn:
		switch i.Op {
		case GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD:
			desc, err := r.FieldType(i.Index)
			if err != nil {
				return 0, 0, err
			}
			w := TypeWords(desc)
			switch i.Op {
			case GETSTATIC:
				return 0, w, nil
			case PUTSTATIC:
				return w, 0, nil
			case GETFIELD:
				return 1, w, nil
			}
			return 1 + w, 0, nil
		}
		desc, err := r.MethodType(i.Op, i.Index)
		if err != nil {
			return 0, 0, err
		}
		args, ret, err := ArgWords(desc)
		if err != nil {
			return 0, 0, err
		}
		if i.Op != INVOKESTATIC {
			args++
		}
		if i.Op == INVOKEINTERFACE && int(i.Count) != args {
			return 0, 0, fmt.Errorf("invokeinterface count %d, descriptor needs %d", i.Count, args)
		}
		return args, ret, nil
	case *InvokeDynamicInsn:
		desc, err := r.InvokeDynamicType(i.Index)
		if err != nil {
			return 0, 0, err
		}
		return ArgWords(desc)
	case *TypeInsn:
		if err := r.ClassRef(i.Index); err != nil {
			return 0, 0, err
		}
		if i.Op == NEW {
			return 0, 1, nil
		}
		return 1, 1, nil
	case *MultiANewArrayInsn:
		if err := r.ClassRef(i.Index); err != nil {
			return 0, 0, err
		}
		return int(i.Dims), 1, nil
	}
	info := in.Opcode().Info()
	if info.Pop == Variable || info.Push == Variable {
		return 0, 0, fmt.Errorf("no stack effect for %s", in.Opcode())
	}
	return info.Pop, info.Push, nil
}

// LocalUse returns one past the highest local slot an instruction touches,
// or 0 if it touches none.
func LocalUse(in Insn) int {
	switch i := in.(type) {
	case *VarInsn:
		return i.Var + VarWords(i.Op)
	case *IincInsn:
		return i.Var + 1
	}
	return 0
}

// Analyze runs a stack-depth data-flow pass over an instruction list and
// returns the maximum depth and the highest local slot touched. pos holds
// each element's byte offset (from Assemble) for error reporting. Handler
// entries start at depth 1; a jsr target starts one deeper than the jsr.
func Analyze(insns []Insn, pos []int, handlers []Handler, r Resolver) (Maxs, error) {
	var m Maxs
	labelIdx := make(map[*Label]int)
	for i, in := range insns {
		if l, ok := in.(*Label); ok {
			labelIdx[l] = i
		}
		if n := LocalUse(in); n > m.Locals {
			m.Locals = n
		}
	}
	for _, in := range insns {
		for _, t := range Targets(in) {
			if _, ok := labelIdx[t]; !ok {
				return m, &AnalysisError{Offset: -1, Op: in.(Instruction).Opcode(), Err: ErrUnplaced}
			}
		}
	}

	offsetOf := func(i int) int {
		if i < len(pos) {
			return pos[i]
		}
		return -1
	}

	depth := make([]int, len(insns))
	for i := range depth {
		depth[i] = -1
	}
	type item struct{ idx, depth int }
	var work []item
	push := func(idx, d int, from int, op Opcode) error {
		if depth[idx] == d {
			return nil
		}
		if depth[idx] >= 0 {
			return &AnalysisError{Offset: offsetOf(from), Op: op,
				Err: fmt.Errorf("%w: %d vs %d at offset %d", ErrInconsistent, depth[idx], d, offsetOf(idx))}
		}
		depth[idx] = d
		work = append(work, item{idx, d})
		return nil
	}

	if len(insns) == 0 {
		return m, &AnalysisError{Offset: 0, Err: ErrFallOff}
	}
	if err := push(0, 0, 0, NOP); err != nil {
		return m, err
	}
	for _, h := range handlers {
		for _, l := range []*Label{h.Start, h.End, h.Handler} {
			if _, ok := labelIdx[l]; !ok {
				return m, &AnalysisError{Offset: -1, Err: ErrHandler}
			}
		}
		if labelIdx[h.Start] >= labelIdx[h.End] {
			return m, &AnalysisError{Offset: offsetOf(labelIdx[h.Start]), Err: fmt.Errorf("%w: empty range", ErrHandler)}
		}
		if err := push(labelIdx[h.Handler], 1, labelIdx[h.Handler], NOP); err != nil {
			return m, err
		}
		m.Stack = max(m.Stack, 1)
	}

	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]
		idx, d := it.idx, it.depth

		for {
			in := insns[idx]
			var op Opcode
			next := d
			fallsThrough := true
			if ins, ok := in.(Instruction); ok {
				op = ins.Opcode()
				pop, pushed, err := Effect(ins, r)
				if err != nil {
					return m, &AnalysisError{Offset: offsetOf(idx), Op: op, Err: err}
				}
				if d < pop {
					return m, &AnalysisError{Offset: offsetOf(idx), Op: op,
						Err: fmt.Errorf("%w: need %d words, have %d", ErrUnderflow, pop, d)}
				}
				next = d - pop + pushed
				m.Stack = max(m.Stack, next)

				switch i := in.(type) {
				case *JumpInsn:
					if i.Op == JSR {
						// the return address is on the stack at the target only
						next = d
						m.Stack = max(m.Stack, d+1)
						if err := push(labelIdx[i.Target], d+1, idx, op); err != nil {
							return m, err
						}
					} else if err := push(labelIdx[i.Target], next, idx, op); err != nil {
						return m, err
					}
				case *SwitchInsn:
					for _, t := range Targets(i) {
						if err := push(labelIdx[t], next, idx, op); err != nil {
							return m, err
						}
					}
				}
				fallsThrough = !op.EndsBlock()
			}
			if !fallsThrough {
				break
			}
			if idx+1 >= len(insns) {
				return m, &AnalysisError{Offset: offsetOf(idx), Op: op, Err: ErrFallOff}
			}
			idx++
			if depth[idx] == next {
				break
			}
			if err := push(idx, next, idx-1, op); err != nil {
				return m, err
			}
			// push queued it; continue inline instead
			work = work[:len(work)-1]
			d = next
		}
	}
	return m, nil
}
