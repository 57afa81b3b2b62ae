package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxCodeSize is the largest code array a method may have.
const MaxCodeSize = 65535

var (
	ErrBranchRange  = errors.New("bytecode: branch offset out of range")
	ErrCodeTooLarge = errors.New("bytecode: code array exceeds 65535 bytes")
	ErrUnplaced     = errors.New("bytecode: label referenced but not placed")
	ErrDuplicate    = errors.New("bytecode: label placed twice")
	ErrOperand      = errors.New("bytecode: operand out of range")
)

// AssembleError locates a failure at a position in the instruction list.
type AssembleError struct {
	Index  int // position in the instruction list
	Offset int // byte offset, when known
	Err    error
}

func (e *AssembleError) Error() string {
	return fmt.Sprintf("bytecode: insn %d (offset %d): %v", e.Index, e.Offset, e.Err)
}

func (e *AssembleError) Unwrap() error { return e.Err }

// Layout is an assembled method body.
type Layout struct {
	Code []byte
	Pos  []int // byte offset of each element of the instruction list
}

// Assemble lays out and encodes an instruction list. Every label in the list
// gets its offset assigned. Unconditional branches whose offsets do not fit
// in 16 bits are widened to goto_w/jsr_w; a conditional branch that does not
// fit is an error.
func Assemble(insns []Insn) (*Layout, error) {
	placed := make(map[*Label]bool)
	for i, in := range insns {
		if l, ok := in.(*Label); ok {
			if placed[l] {
				return nil, &AssembleError{Index: i, Offset: -1, Err: ErrDuplicate}
			}
			placed[l] = true
		}
	}
	for i, in := range insns {
		for _, t := range Targets(in) {
			if t == nil || !placed[t] {
				return nil, &AssembleError{Index: i, Offset: -1, Err: ErrUnplaced}
			}
		}
	}

	wide := make(map[*JumpInsn]bool)
	pos := make([]int, len(insns))
	for {
		off := 0
		for i, in := range insns {
			pos[i] = off
			if l, ok := in.(*Label); ok {
				l.setOffset(off)
				continue
			}
			n, err := size(in, off, wide)
			if err != nil {
				return nil, &AssembleError{Index: i, Offset: off, Err: err}
			}
			off += n
		}
		if off > MaxCodeSize {
			return nil, &AssembleError{Index: len(insns) - 1, Offset: off, Err: ErrCodeTooLarge}
		}

		grew := false
		for i, in := range insns {
			j, ok := in.(*JumpInsn)
			if !ok || wide[j] {
				continue
			}
			rel := j.Target.offset - pos[i]
			if rel >= math.MinInt16 && rel <= math.MaxInt16 {
				continue
			}
			if j.Op != GOTO && j.Op != JSR {
				return nil, &AssembleError{Index: i, Offset: pos[i], Err: ErrBranchRange}
			}
			wide[j] = true
			grew = true
		}
		if !grew {
			break
		}
	}

	code := make([]byte, 0, 64)
	for i, in := range insns {
		if _, ok := in.(*Label); ok {
			continue
		}
		var err error
		code, err = encode(code, in, pos[i], wide)
		if err != nil {
			return nil, &AssembleError{Index: i, Offset: pos[i], Err: err}
		}
	}
	return &Layout{Code: code, Pos: pos}, nil
}

func switchPad(off int) int {
	return (4 - (off+1)%4) % 4
}

func size(in Insn, off int, wide map[*JumpInsn]bool) (int, error) {
	switch i := in.(type) {
	case *Simple:
		return 1, nil
	case *IntInsn:
		if i.Op == SIPUSH {
			return 3, nil
		}
		return 2, nil
	case *VarInsn:
		if _, ok := shortForm(i.Op, i.Var); ok {
			return 1, nil
		}
		if i.Var <= math.MaxUint8 {
			return 2, nil
		}
		return 4, nil
	case *IincInsn:
		if i.Var <= math.MaxUint8 && i.Delta >= math.MinInt8 && i.Delta <= math.MaxInt8 {
			return 3, nil
		}
		return 6, nil
	case *JumpInsn:
		if wide[i] {
			return 5, nil
		}
		return 3, nil
	case *LdcInsn:
		if i.Op == LDC && i.Index <= math.MaxUint8 {
			return 2, nil
		}
		return 3, nil
	case *MemberInsn:
		if i.Op == INVOKEINTERFACE {
			return 5, nil
		}
		return 3, nil
	case *TypeInsn:
		return 3, nil
	case *SwitchInsn:
		if i.Op == TABLESWITCH {
			return 1 + switchPad(off) + 12 + 4*len(i.Targets), nil
		}
		return 1 + switchPad(off) + 8 + 8*len(i.Targets), nil
	case *MultiANewArrayInsn:
		return 4, nil
	case *InvokeDynamicInsn:
		return 5, nil
	}
	return 0, fmt.Errorf("bytecode: unknown instruction %T", in)
}

func u2(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func s4(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

func encode(b []byte, in Insn, off int, wide map[*JumpInsn]bool) ([]byte, error) {
	switch i := in.(type) {
	case *Simple:
		if i.Op.Info().Format != FmtNone {
			return nil, fmt.Errorf("%w: %s is not an operand-free opcode", ErrOperand, i.Op)
		}
		return append(b, byte(i.Op)), nil

	case *IntInsn:
		switch i.Op {
		case BIPUSH:
			if i.Value < math.MinInt8 || i.Value > math.MaxInt8 {
				return nil, fmt.Errorf("%w: bipush %d", ErrOperand, i.Value)
			}
			return append(b, byte(i.Op), byte(int8(i.Value))), nil
		case SIPUSH:
			if i.Value < math.MinInt16 || i.Value > math.MaxInt16 {
				return nil, fmt.Errorf("%w: sipush %d", ErrOperand, i.Value)
			}
			return u2(append(b, byte(i.Op)), uint16(int16(i.Value))), nil
		case NEWARRAY:
			if i.Value < 4 || i.Value > 11 {
				return nil, fmt.Errorf("%w: newarray type %d", ErrOperand, i.Value)
			}
			return append(b, byte(i.Op), byte(i.Value)), nil
		}
		return nil, fmt.Errorf("%w: %s is not an int instruction", ErrOperand, i.Op)

	case *VarInsn:
		if i.Var < 0 || i.Var > math.MaxUint16 {
			return nil, fmt.Errorf("%w: local %d", ErrOperand, i.Var)
		}
		if i.Op.Info().Format != FmtLocal {
			return nil, fmt.Errorf("%w: %s is not a local variable instruction", ErrOperand, i.Op)
		}
		if short, ok := shortForm(i.Op, i.Var); ok {
			return append(b, byte(short)), nil
		}
		if i.Var <= math.MaxUint8 {
			return append(b, byte(i.Op), byte(i.Var)), nil
		}
		return u2(append(b, byte(WIDE), byte(i.Op)), uint16(i.Var)), nil

	case *IincInsn:
		if i.Var < 0 || i.Var > math.MaxUint16 || i.Delta < math.MinInt16 || i.Delta > math.MaxInt16 {
			return nil, fmt.Errorf("%w: iinc %d %d", ErrOperand, i.Var, i.Delta)
		}
		if i.Var <= math.MaxUint8 && i.Delta >= math.MinInt8 && i.Delta <= math.MaxInt8 {
			return append(b, byte(IINC), byte(i.Var), byte(int8(i.Delta))), nil
		}
		b = u2(append(b, byte(WIDE), byte(IINC)), uint16(i.Var))
		return u2(b, uint16(int16(i.Delta))), nil

	case *JumpInsn:
		rel := i.Target.offset - off
		if wide[i] {
			op := GOTO_W
			if i.Op == JSR {
				op = JSR_W
			}
			return s4(append(b, byte(op)), int32(rel)), nil
		}
		if i.Op.Info().Format != FmtBranch {
			return nil, fmt.Errorf("%w: %s is not a branch", ErrOperand, i.Op)
		}
		return u2(append(b, byte(i.Op)), uint16(int16(rel))), nil

	case *LdcInsn:
		switch {
		case i.Op == LDC2_W:
			return u2(append(b, byte(LDC2_W)), i.Index), nil
		case i.Op != LDC:
			return nil, fmt.Errorf("%w: %s is not ldc", ErrOperand, i.Op)
		case i.Index <= math.MaxUint8:
			return append(b, byte(LDC), byte(i.Index)), nil
		}
		return u2(append(b, byte(LDC_W)), i.Index), nil

	case *MemberInsn:
		switch i.Op {
		case INVOKEINTERFACE:
			return append(u2(append(b, byte(i.Op)), i.Index), i.Count, 0), nil
		case GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD, INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC:
			return u2(append(b, byte(i.Op)), i.Index), nil
		}
		return nil, fmt.Errorf("%w: %s is not a member instruction", ErrOperand, i.Op)

	case *TypeInsn:
		switch i.Op {
		case NEW, ANEWARRAY, CHECKCAST, INSTANCEOF:
			return u2(append(b, byte(i.Op)), i.Index), nil
		}
		return nil, fmt.Errorf("%w: %s is not a type instruction", ErrOperand, i.Op)

	case *SwitchInsn:
		b = append(b, byte(i.Op))
		for n := switchPad(off); n > 0; n-- {
			b = append(b, 0)
		}
		b = s4(b, int32(i.Default.offset-off))
		if i.Op == TABLESWITCH {
			high := int64(i.Low) + int64(len(i.Targets)) - 1
			if len(i.Targets) == 0 || high > math.MaxInt32 {
				return nil, fmt.Errorf("%w: tableswitch range", ErrOperand)
			}
			b = s4(s4(b, i.Low), int32(high))
			for _, t := range i.Targets {
				b = s4(b, int32(t.offset-off))
			}
			return b, nil
		}
		if len(i.Keys) != len(i.Targets) {
			return nil, fmt.Errorf("%w: lookupswitch has %d keys for %d targets", ErrOperand, len(i.Keys), len(i.Targets))
		}
		b = s4(b, int32(len(i.Keys)))
		for k, key := range i.Keys {
			if k > 0 && key <= i.Keys[k-1] {
				return nil, fmt.Errorf("%w: lookupswitch keys not sorted", ErrOperand)
			}
			b = s4(s4(b, key), int32(i.Targets[k].offset-off))
		}
		return b, nil

	case *MultiANewArrayInsn:
		if i.Dims == 0 {
			return nil, fmt.Errorf("%w: multianewarray with zero dimensions", ErrOperand)
		}
		return append(u2(append(b, byte(MULTIANEWARRAY)), i.Index), i.Dims), nil

	case *InvokeDynamicInsn:
		return append(u2(append(b, byte(INVOKEDYNAMIC)), i.Index), 0, 0), nil
	}
	return nil, fmt.Errorf("bytecode: unknown instruction %T", in)
}
