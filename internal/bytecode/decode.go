package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when the code array ends inside an instruction.
var ErrTruncated = errors.New("bytecode: truncated instruction")

// DecodeError reports a malformed code array.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bytecode: offset %d: %s", e.Offset, e.Msg)
}

// codeReader reads big-endian operands from a code array.
type codeReader struct {
	code []byte
	pos  int
}

func (r *codeReader) need(n int) error {
	if r.pos+n > len(r.code) {
		return &DecodeError{Offset: r.pos, Msg: ErrTruncated.Error()}
	}
	return nil
}

func (r *codeReader) u1() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.code[r.pos]
	r.pos++
	return b, nil
}

func (r *codeReader) u2() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.code[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *codeReader) s4() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.code[r.pos:]))
	r.pos += 4
	return v, nil
}

type pendingJump struct {
	from   int   // offset of the branching instruction
	rel    int32 // relative target
	assign func(*Label)
}

type decoded struct {
	off  int
	insn Instruction
}

// Decoded is the result of decoding a code array. Labels are created on
// demand with LabelAt; Insns interleaves them with the instructions.
type Decoded struct {
	size   int
	insns  []decoded
	index  map[int]int // offset → position in insns
	labels map[int]*Label
}

// Decode parses a code array into instructions and resolves branch targets.
func Decode(code []byte) (*Decoded, error) {
	if len(code) == 0 {
		return nil, &DecodeError{Offset: 0, Msg: "empty code array"}
	}
	d := &Decoded{
		size:   len(code),
		index:  make(map[int]int),
		labels: make(map[int]*Label),
	}
	r := &codeReader{code: code}
	var jumps []pendingJump

	for r.pos < len(code) {
		start := r.pos
		in, js, err := decodeOne(r, start)
		if err != nil {
			return nil, err
		}
		d.index[start] = len(d.insns)
		d.insns = append(d.insns, decoded{off: start, insn: in})
		jumps = append(jumps, js...)
	}

	for _, j := range jumps {
		l, err := d.LabelAt(j.from + int(j.rel))
		if err != nil {
			return nil, &DecodeError{Offset: j.from, Msg: fmt.Sprintf("branch target %d: %v", j.from+int(j.rel), err)}
		}
		j.assign(l)
	}
	return d, nil
}

func decodeOne(r *codeReader, start int) (Instruction, []pendingJump, error) {
	b, err := r.u1()
	if err != nil {
		return nil, nil, err
	}
	op := Opcode(b)
	info := op.Info()

	switch info.Format {
	case FmtNone:
		return &Simple{Op: op}, nil, nil

	case FmtByte:
		v, err := r.u1()
		if err != nil {
			return nil, nil, err
		}
		if op == BIPUSH {
			return &IntInsn{Op: op, Value: int32(int8(v))}, nil, nil
		}
		return &IntInsn{Op: op, Value: int32(v)}, nil, nil

	case FmtShort:
		v, err := r.u2()
		if err != nil {
			return nil, nil, err
		}
		return &IntInsn{Op: op, Value: int32(int16(v))}, nil, nil

	case FmtLocal:
		v, err := r.u1()
		if err != nil {
			return nil, nil, err
		}
		return &VarInsn{Op: op, Var: int(v)}, nil, nil

	case FmtLocalImplicit:
		long, v := longForm(op)
		return &VarInsn{Op: long, Var: v}, nil, nil

	case FmtIinc:
		v, err := r.u1()
		if err != nil {
			return nil, nil, err
		}
		delta, err := r.u1()
		if err != nil {
			return nil, nil, err
		}
		return &IincInsn{Var: int(v), Delta: int32(int8(delta))}, nil, nil

	case FmtBranch, FmtBranchWide:
		var rel int32
		if info.Format == FmtBranch {
			v, err := r.u2()
			if err != nil {
				return nil, nil, err
			}
			rel = int32(int16(v))
		} else {
			if rel, err = r.s4(); err != nil {
				return nil, nil, err
			}
			// goto_w/jsr_w are re-chosen by the assembler.
			if op == GOTO_W {
				op = GOTO
			} else {
				op = JSR
			}
		}
		j := &JumpInsn{Op: op}
		return j, []pendingJump{{from: start, rel: rel, assign: func(l *Label) { j.Target = l }}}, nil

	case FmtConst1:
		v, err := r.u1()
		if err != nil {
			return nil, nil, err
		}
		return &LdcInsn{Op: LDC, Index: uint16(v)}, nil, nil

	case FmtConst2:
		v, err := r.u2()
		if err != nil {
			return nil, nil, err
		}
		switch op {
		case LDC_W:
			return &LdcInsn{Op: LDC, Index: v}, nil, nil
		case LDC2_W:
			return &LdcInsn{Op: LDC2_W, Index: v}, nil, nil
		case NEW, ANEWARRAY, CHECKCAST, INSTANCEOF:
			return &TypeInsn{Op: op, Index: v}, nil, nil
		}
		return &MemberInsn{Op: op, Index: v}, nil, nil

	case FmtInterface:
		v, err := r.u2()
		if err != nil {
			return nil, nil, err
		}
		count, err := r.u1()
		if err != nil {
			return nil, nil, err
		}
		if _, err := r.u1(); err != nil {
			return nil, nil, err
		}
		return &MemberInsn{Op: op, Index: v, Count: count}, nil, nil

	case FmtDynamic:
		v, err := r.u2()
		if err != nil {
			return nil, nil, err
		}
		if _, err := r.u2(); err != nil {
			return nil, nil, err
		}
		return &InvokeDynamicInsn{Index: v}, nil, nil

	case FmtMultiArray:
		v, err := r.u2()
		if err != nil {
			return nil, nil, err
		}
		dims, err := r.u1()
		if err != nil {
			return nil, nil, err
		}
		if dims == 0 {
			return nil, nil, &DecodeError{Offset: start, Msg: "multianewarray with zero dimensions"}
		}
		return &MultiANewArrayInsn{Index: v, Dims: dims}, nil, nil

	case FmtTableSwitch, FmtLookupSwitch:
		return decodeSwitch(r, op, start)

	case FmtWide:
		return decodeWide(r, start)
	}
	return nil, nil, &DecodeError{Offset: start, Msg: fmt.Sprintf("invalid opcode 0x%02x", b)}
}

func decodeSwitch(r *codeReader, op Opcode, start int) (Instruction, []pendingJump, error) {
	// Operands are 4-byte aligned relative to the start of the code array.
	for r.pos%4 != 0 {
		if _, err := r.u1(); err != nil {
			return nil, nil, err
		}
	}
	def, err := r.s4()
	if err != nil {
		return nil, nil, err
	}
	sw := &SwitchInsn{Op: op}
	jumps := []pendingJump{{from: start, rel: def, assign: func(l *Label) { sw.Default = l }}}

	addTarget := func(rel int32) {
		i := len(sw.Targets)
		sw.Targets = append(sw.Targets, nil)
		jumps = append(jumps, pendingJump{from: start, rel: rel, assign: func(l *Label) { sw.Targets[i] = l }})
	}

	if op == TABLESWITCH {
		low, err := r.s4()
		if err != nil {
			return nil, nil, err
		}
		high, err := r.s4()
		if err != nil {
			return nil, nil, err
		}
		if high < low {
			return nil, nil, &DecodeError{Offset: start, Msg: fmt.Sprintf("tableswitch high %d < low %d", high, low)}
		}
		n := int64(high) - int64(low) + 1
		if n > int64(len(r.code)) || r.need(int(n)*4) != nil {
			return nil, nil, &DecodeError{Offset: start, Msg: ErrTruncated.Error()}
		}
		sw.Low = low
		for i := int64(0); i < n; i++ {
			rel, _ := r.s4()
			addTarget(rel)
		}
		return sw, jumps, nil
	}

	npairs, err := r.s4()
	if err != nil {
		return nil, nil, err
	}
	if npairs < 0 {
		return nil, nil, &DecodeError{Offset: start, Msg: "lookupswitch with negative npairs"}
	}
	if int64(npairs)*8 > int64(len(r.code)) {
		return nil, nil, &DecodeError{Offset: start, Msg: ErrTruncated.Error()}
	}
	for i := int32(0); i < npairs; i++ {
		key, err := r.s4()
		if err != nil {
			return nil, nil, err
		}
		rel, err := r.s4()
		if err != nil {
			return nil, nil, err
		}
		if i > 0 && key <= sw.Keys[i-1] {
			return nil, nil, &DecodeError{Offset: start, Msg: "lookupswitch keys not sorted"}
		}
		sw.Keys = append(sw.Keys, key)
		addTarget(rel)
	}
	return sw, jumps, nil
}

func decodeWide(r *codeReader, start int) (Instruction, []pendingJump, error) {
	b, err := r.u1()
	if err != nil {
		return nil, nil, err
	}
	op := Opcode(b)
	v, err := r.u2()
	if err != nil {
		return nil, nil, err
	}
	switch {
	case op == IINC:
		delta, err := r.u2()
		if err != nil {
			return nil, nil, err
		}
		return &IincInsn{Var: int(v), Delta: int32(int16(delta))}, nil, nil
	case op >= ILOAD && op <= ALOAD, op >= ISTORE && op <= ASTORE, op == RET:
		return &VarInsn{Op: op, Var: int(v)}, nil, nil
	}
	return nil, nil, &DecodeError{Offset: start, Msg: fmt.Sprintf("wide applied to %s", op)}
}

// LabelAt returns the label for an instruction boundary or for the end of
// the code array, creating it on first use.
func (d *Decoded) LabelAt(off int) (*Label, error) {
	if l, ok := d.labels[off]; ok {
		return l, nil
	}
	if _, ok := d.index[off]; !ok && off != d.size {
		return nil, fmt.Errorf("offset %d is not an instruction boundary", off)
	}
	l := NewLabel()
	l.setOffset(off)
	d.labels[off] = l
	return l, nil
}

// Size returns the length of the decoded code array.
func (d *Decoded) Size() int { return d.size }

// Len returns the number of decoded instructions.
func (d *Decoded) Len() int { return len(d.insns) }

// Insns returns the instruction list with every requested label placed
// before the instruction at its offset. A label at the end of the code
// array is placed last.
func (d *Decoded) Insns() []Insn {
	out := make([]Insn, 0, len(d.insns)+len(d.labels))
	for _, di := range d.insns {
		if l, ok := d.labels[di.off]; ok {
			out = append(out, l)
		}
		out = append(out, di.insn)
	}
	if l, ok := d.labels[d.size]; ok {
		out = append(out, l)
	}
	return out
}
