package bytecode

// Insn is one element of a method's instruction list: either a real
// instruction or a *Label marking a position. The set of variants is closed;
// callers switch on the concrete type.
type Insn interface {
	insn()
}

// Instruction is an Insn that occupies bytes in the code array.
type Instruction interface {
	Insn
	Opcode() Opcode
}

// Label marks a position in an instruction list. Branch targets, exception
// ranges, line numbers, local variable scopes and frames refer to labels,
// so inserting instructions never invalidates them.
type Label struct {
	offset int
	placed bool
}

// NewLabel returns an unplaced label.
func NewLabel() *Label { return &Label{offset: -1} }

// Offset returns the byte offset assigned by the last decode or assembly,
// or -1 if the label was never placed.
func (l *Label) Offset() int {
	if !l.placed {
		return -1
	}
	return l.offset
}

func (l *Label) setOffset(off int) {
	l.offset = off
	l.placed = true
}

// Simple is an instruction without operands.
type Simple struct {
	Op Opcode
}

// IntInsn is bipush, sipush or newarray.
type IntInsn struct {
	Op    Opcode
	Value int32
}

// VarInsn loads, stores or rets a local variable. Op is always the explicit
// form (ILOAD, not ILOAD_0); the assembler picks the shortest encoding.
type VarInsn struct {
	Op  Opcode
	Var int
}

// IincInsn increments an int local.
type IincInsn struct {
	Var   int
	Delta int32
}

// JumpInsn is a conditional or unconditional branch, or jsr.
type JumpInsn struct {
	Op     Opcode
	Target *Label
}

// LdcInsn pushes a constant. Op is LDC for one-word constants (the
// assembler chooses ldc or ldc_w) and LDC2_W for long and double.
type LdcInsn struct {
	Op    Opcode
	Index uint16
}

// MemberInsn accesses a field or invokes a method through a constant-pool
// reference. Count is the invokeinterface argument-word count.
type MemberInsn struct {
	Op    Opcode
	Index uint16
	Count uint8
}

// TypeInsn is new, anewarray, checkcast or instanceof.
type TypeInsn struct {
	Op    Opcode
	Index uint16
}

// SwitchInsn is tableswitch (Low..Low+len(Targets)-1) or lookupswitch
// (Keys[i] → Targets[i]).
type SwitchInsn struct {
	Op      Opcode
	Default *Label
	Low     int32
	Keys    []int32
	Targets []*Label
}

// MultiANewArrayInsn creates a multi-dimensional array.
type MultiANewArrayInsn struct {
	Index uint16
	Dims  uint8
}

// InvokeDynamicInsn invokes a call site.
type InvokeDynamicInsn struct {
	Index uint16
}

func (*Label) insn()              {}
func (*Simple) insn()             {}
func (*IntInsn) insn()            {}
func (*VarInsn) insn()            {}
func (*IincInsn) insn()           {}
func (*JumpInsn) insn()           {}
func (*LdcInsn) insn()            {}
func (*MemberInsn) insn()         {}
func (*TypeInsn) insn()           {}
func (*SwitchInsn) insn()         {}
func (*MultiANewArrayInsn) insn() {}
func (*InvokeDynamicInsn) insn()  {}

func (i *Simple) Opcode() Opcode           { return i.Op }
func (i *IntInsn) Opcode() Opcode          { return i.Op }
func (i *VarInsn) Opcode() Opcode          { return i.Op }
func (*IincInsn) Opcode() Opcode           { return IINC }
func (i *JumpInsn) Opcode() Opcode         { return i.Op }
func (i *LdcInsn) Opcode() Opcode          { return i.Op }
func (i *MemberInsn) Opcode() Opcode       { return i.Op }
func (i *TypeInsn) Opcode() Opcode         { return i.Op }
func (i *SwitchInsn) Opcode() Opcode       { return i.Op }
func (*MultiANewArrayInsn) Opcode() Opcode { return MULTIANEWARRAY }
func (*InvokeDynamicInsn) Opcode() Opcode  { return INVOKEDYNAMIC }

// Handler is an exception table entry. CatchType 0 catches everything.
type Handler struct {
	Start     *Label
	End       *Label
	Handler   *Label
	CatchType uint16
}

// Targets returns every label an instruction may transfer control to.
func Targets(in Insn) []*Label {
	switch i := in.(type) {
	case *JumpInsn:
		return []*Label{i.Target}
	case *SwitchInsn:
		out := make([]*Label, 0, len(i.Targets)+1)
		out = append(out, i.Default)
		return append(out, i.Targets...)
	}
	return nil
}
