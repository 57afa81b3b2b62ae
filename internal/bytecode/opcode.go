// Package bytecode models JVM method bodies: a closed opcode enumeration,
// an instruction sum type with symbolic labels, decoding and assembly of the
// code array, StackMapTable frames, and operand-stack analysis.
package bytecode

import "fmt"

// Opcode is a JVM instruction opcode.
type Opcode byte

// Constants and loads.
const (
	NOP         Opcode = 0x00
	ACONST_NULL Opcode = 0x01
	ICONST_M1   Opcode = 0x02
	ICONST_0    Opcode = 0x03
	ICONST_1    Opcode = 0x04
	ICONST_2    Opcode = 0x05
	ICONST_3    Opcode = 0x06
	ICONST_4    Opcode = 0x07
	ICONST_5    Opcode = 0x08
	LCONST_0    Opcode = 0x09
	LCONST_1    Opcode = 0x0a
	FCONST_0    Opcode = 0x0b
	FCONST_1    Opcode = 0x0c
	FCONST_2    Opcode = 0x0d
	DCONST_0    Opcode = 0x0e
	DCONST_1    Opcode = 0x0f
	BIPUSH      Opcode = 0x10
	SIPUSH      Opcode = 0x11
	LDC         Opcode = 0x12
	LDC_W       Opcode = 0x13
	LDC2_W      Opcode = 0x14
	ILOAD       Opcode = 0x15
	LLOAD       Opcode = 0x16
	FLOAD       Opcode = 0x17
	DLOAD       Opcode = 0x18
	ALOAD       Opcode = 0x19
	ILOAD_0     Opcode = 0x1a
	ILOAD_1     Opcode = 0x1b
	ILOAD_2     Opcode = 0x1c
	ILOAD_3     Opcode = 0x1d
	LLOAD_0     Opcode = 0x1e
	LLOAD_1     Opcode = 0x1f
	LLOAD_2     Opcode = 0x20
	LLOAD_3     Opcode = 0x21
	FLOAD_0     Opcode = 0x22
	FLOAD_1     Opcode = 0x23
	FLOAD_2     Opcode = 0x24
	FLOAD_3     Opcode = 0x25
	DLOAD_0     Opcode = 0x26
	DLOAD_1     Opcode = 0x27
	DLOAD_2     Opcode = 0x28
	DLOAD_3     Opcode = 0x29
	ALOAD_0     Opcode = 0x2a
	ALOAD_1     Opcode = 0x2b
	ALOAD_2     Opcode = 0x2c
	ALOAD_3     Opcode = 0x2d
	IALOAD      Opcode = 0x2e
	LALOAD      Opcode = 0x2f
	FALOAD      Opcode = 0x30
	DALOAD      Opcode = 0x31
	AALOAD      Opcode = 0x32
	BALOAD      Opcode = 0x33
	CALOAD      Opcode = 0x34
	SALOAD      Opcode = 0x35
)

// Stores.
const (
	ISTORE   Opcode = 0x36
	LSTORE   Opcode = 0x37
	FSTORE   Opcode = 0x38
	DSTORE   Opcode = 0x39
	ASTORE   Opcode = 0x3a
	ISTORE_0 Opcode = 0x3b
	ISTORE_1 Opcode = 0x3c
	ISTORE_2 Opcode = 0x3d
	ISTORE_3 Opcode = 0x3e
	LSTORE_0 Opcode = 0x3f
	LSTORE_1 Opcode = 0x40
	LSTORE_2 Opcode = 0x41
	LSTORE_3 Opcode = 0x42
	FSTORE_0 Opcode = 0x43
	FSTORE_1 Opcode = 0x44
	FSTORE_2 Opcode = 0x45
	FSTORE_3 Opcode = 0x46
	DSTORE_0 Opcode = 0x47
	DSTORE_1 Opcode = 0x48
	DSTORE_2 Opcode = 0x49
	DSTORE_3 Opcode = 0x4a
	ASTORE_0 Opcode = 0x4b
	ASTORE_1 Opcode = 0x4c
	ASTORE_2 Opcode = 0x4d
	ASTORE_3 Opcode = 0x4e
	IASTORE  Opcode = 0x4f
	LASTORE  Opcode = 0x50
	FASTORE  Opcode = 0x51
	DASTORE  Opcode = 0x52
	AASTORE  Opcode = 0x53
	BASTORE  Opcode = 0x54
	CASTORE  Opcode = 0x55
	SASTORE  Opcode = 0x56
)

// Stack manipulation and arithmetic.
const (
	POP     Opcode = 0x57
	POP2    Opcode = 0x58
	DUP     Opcode = 0x59
	DUP_X1  Opcode = 0x5a
	DUP_X2  Opcode = 0x5b
	DUP2    Opcode = 0x5c
	DUP2_X1 Opcode = 0x5d
	DUP2_X2 Opcode = 0x5e
	SWAP    Opcode = 0x5f
	IADD    Opcode = 0x60
	LADD    Opcode = 0x61
	FADD    Opcode = 0x62
	DADD    Opcode = 0x63
	ISUB    Opcode = 0x64
	LSUB    Opcode = 0x65
	FSUB    Opcode = 0x66
	DSUB    Opcode = 0x67
	IMUL    Opcode = 0x68
	LMUL    Opcode = 0x69
	FMUL    Opcode = 0x6a
	DMUL    Opcode = 0x6b
	IDIV    Opcode = 0x6c
	LDIV    Opcode = 0x6d
	FDIV    Opcode = 0x6e
	DDIV    Opcode = 0x6f
	IREM    Opcode = 0x70
	LREM    Opcode = 0x71
	FREM    Opcode = 0x72
	DREM    Opcode = 0x73
	INEG    Opcode = 0x74
	LNEG    Opcode = 0x75
	FNEG    Opcode = 0x76
	DNEG    Opcode = 0x77
	ISHL    Opcode = 0x78
	LSHL    Opcode = 0x79
	ISHR    Opcode = 0x7a
	LSHR    Opcode = 0x7b
	IUSHR   Opcode = 0x7c
	LUSHR   Opcode = 0x7d
	IAND    Opcode = 0x7e
	LAND    Opcode = 0x7f
	IOR     Opcode = 0x80
	LOR     Opcode = 0x81
	IXOR    Opcode = 0x82
	LXOR    Opcode = 0x83
	IINC    Opcode = 0x84
	I2L     Opcode = 0x85
	I2F     Opcode = 0x86
	I2D     Opcode = 0x87
	L2I     Opcode = 0x88
	L2F     Opcode = 0x89
	L2D     Opcode = 0x8a
	F2I     Opcode = 0x8b
	F2L     Opcode = 0x8c
	F2D     Opcode = 0x8d
	D2I     Opcode = 0x8e
	D2L     Opcode = 0x8f
	D2F     Opcode = 0x90
	I2B     Opcode = 0x91
	I2C     Opcode = 0x92
	I2S     Opcode = 0x93
	LCMP    Opcode = 0x94
	FCMPL   Opcode = 0x95
	FCMPG   Opcode = 0x96
	DCMPL   Opcode = 0x97
	DCMPG   Opcode = 0x98
)

// Control flow.
const (
	IFEQ         Opcode = 0x99
	IFNE         Opcode = 0x9a
	IFLT         Opcode = 0x9b
	IFGE         Opcode = 0x9c
	IFGT         Opcode = 0x9d
	IFLE         Opcode = 0x9e
	IF_ICMPEQ    Opcode = 0x9f
	IF_ICMPNE    Opcode = 0xa0
	IF_ICMPLT    Opcode = 0xa1
	IF_ICMPGE    Opcode = 0xa2
	IF_ICMPGT    Opcode = 0xa3
	IF_ICMPLE    Opcode = 0xa4
	IF_ACMPEQ    Opcode = 0xa5
	IF_ACMPNE    Opcode = 0xa6
	GOTO         Opcode = 0xa7
	JSR          Opcode = 0xa8
	RET          Opcode = 0xa9
	TABLESWITCH  Opcode = 0xaa
	LOOKUPSWITCH Opcode = 0xab
	IRETURN      Opcode = 0xac
	LRETURN      Opcode = 0xad
	FRETURN      Opcode = 0xae
	DRETURN      Opcode = 0xaf
	ARETURN      Opcode = 0xb0
	RETURN       Opcode = 0xb1
)

// References, objects and misc.
const (
	GETSTATIC       Opcode = 0xb2
	PUTSTATIC       Opcode = 0xb3
	GETFIELD        Opcode = 0xb4
	PUTFIELD        Opcode = 0xb5
	INVOKEVIRTUAL   Opcode = 0xb6
	INVOKESPECIAL   Opcode = 0xb7
	INVOKESTATIC    Opcode = 0xb8
	INVOKEINTERFACE Opcode = 0xb9
	INVOKEDYNAMIC   Opcode = 0xba
	NEW             Opcode = 0xbb
	NEWARRAY        Opcode = 0xbc
	ANEWARRAY       Opcode = 0xbd
	ARRAYLENGTH     Opcode = 0xbe
	ATHROW          Opcode = 0xbf
	CHECKCAST       Opcode = 0xc0
	INSTANCEOF      Opcode = 0xc1
	MONITORENTER    Opcode = 0xc2
	MONITOREXIT     Opcode = 0xc3
	WIDE            Opcode = 0xc4
	MULTIANEWARRAY  Opcode = 0xc5
	IFNULL          Opcode = 0xc6
	IFNONNULL       Opcode = 0xc7
	GOTO_W          Opcode = 0xc8
	JSR_W           Opcode = 0xc9
)

// OperandFormat describes the operand layout following an opcode in the code array.
type OperandFormat uint8

const (
	FmtInvalid OperandFormat = iota
	FmtNone           // no operands
	FmtByte           // bipush, newarray: one byte
	FmtShort          // sipush: s2
	FmtLocal          // xload/xstore/ret: u1 local index (u2 under wide)
	FmtLocalImplicit  // xload_n/xstore_n: index encoded in the opcode
	FmtIinc           // iinc: u1 index, s1 delta (u2, s2 under wide)
	FmtBranch         // s2 branch offset
	FmtBranchWide     // s4 branch offset
	FmtConst1         // ldc: u1 constant index
	FmtConst2         // u2 constant index
	FmtInterface      // invokeinterface: u2 index, u1 count, u1 zero
	FmtDynamic        // invokedynamic: u2 index, u2 zero
	FmtMultiArray     // multianewarray: u2 index, u1 dims
	FmtTableSwitch
	FmtLookupSwitch
	FmtWide
)

// Variable is the stack-effect marker for instructions whose effect
// depends on a constant-pool descriptor or an operand.
const Variable = -1

// OpcodeInfo holds metadata about an opcode. Pop and Push count operand
// stack words (long and double take two).
type OpcodeInfo struct {
	Name   string
	Format OperandFormat
	Pop    int
	Push   int
}

var opcodeTable [256]OpcodeInfo

func def(op Opcode, name string, f OperandFormat, pop, push int) {
	opcodeTable[op] = OpcodeInfo{Name: name, Format: f, Pop: pop, Push: push}
}

func init() {
	def(NOP, "nop", FmtNone, 0, 0)
	def(ACONST_NULL, "aconst_null", FmtNone, 0, 1)
	for i, n := range []string{"iconst_m1", "iconst_0", "iconst_1", "iconst_2", "iconst_3", "iconst_4", "iconst_5"} {
		def(ICONST_M1+Opcode(i), n, FmtNone, 0, 1)
	}
	def(LCONST_0, "lconst_0", FmtNone, 0, 2)
	def(LCONST_1, "lconst_1", FmtNone, 0, 2)
	def(FCONST_0, "fconst_0", FmtNone, 0, 1)
	def(FCONST_1, "fconst_1", FmtNone, 0, 1)
	def(FCONST_2, "fconst_2", FmtNone, 0, 1)
	def(DCONST_0, "dconst_0", FmtNone, 0, 2)
	def(DCONST_1, "dconst_1", FmtNone, 0, 2)
	def(BIPUSH, "bipush", FmtByte, 0, 1)
	def(SIPUSH, "sipush", FmtShort, 0, 1)
	def(LDC, "ldc", FmtConst1, 0, Variable)
	def(LDC_W, "ldc_w", FmtConst2, 0, Variable)
	def(LDC2_W, "ldc2_w", FmtConst2, 0, 2)

	kinds := []struct {
		prefix string
		words  int
	}{{"i", 1}, {"l", 2}, {"f", 1}, {"d", 2}, {"a", 1}}
	for k, kind := range kinds {
		def(ILOAD+Opcode(k), kind.prefix+"load", FmtLocal, 0, kind.words)
		def(ISTORE+Opcode(k), kind.prefix+"store", FmtLocal, kind.words, 0)
		for n := 0; n < 4; n++ {
			def(ILOAD_0+Opcode(k*4+n), fmt.Sprintf("%sload_%d", kind.prefix, n), FmtLocalImplicit, 0, kind.words)
			def(ISTORE_0+Opcode(k*4+n), fmt.Sprintf("%sstore_%d", kind.prefix, n), FmtLocalImplicit, kind.words, 0)
		}
	}

	arrays := []struct {
		prefix string
		words  int
	}{{"i", 1}, {"l", 2}, {"f", 1}, {"d", 2}, {"a", 1}, {"b", 1}, {"c", 1}, {"s", 1}}
	for k, a := range arrays {
		def(IALOAD+Opcode(k), a.prefix+"aload", FmtNone, 2, a.words)
		def(IASTORE+Opcode(k), a.prefix+"astore", FmtNone, 2+a.words, 0)
	}

	def(POP, "pop", FmtNone, 1, 0)
	def(POP2, "pop2", FmtNone, 2, 0)
	def(DUP, "dup", FmtNone, 1, 2)
	def(DUP_X1, "dup_x1", FmtNone, 2, 3)
	def(DUP_X2, "dup_x2", FmtNone, 3, 4)
	def(DUP2, "dup2", FmtNone, 2, 4)
	def(DUP2_X1, "dup2_x1", FmtNone, 3, 5)
	def(DUP2_X2, "dup2_x2", FmtNone, 4, 6)
	def(SWAP, "swap", FmtNone, 2, 2)

	// Binary arithmetic in i, l, f, d order.
	numeric := []struct {
		prefix string
		words  int
	}{{"i", 1}, {"l", 2}, {"f", 1}, {"d", 2}}
	for g, name := range []string{"add", "sub", "mul", "div", "rem"} {
		for k, n := range numeric {
			def(IADD+Opcode(g*4+k), n.prefix+name, FmtNone, 2*n.words, n.words)
		}
	}
	for k, n := range numeric {
		def(INEG+Opcode(k), n.prefix+"neg", FmtNone, n.words, n.words)
	}
	for g, name := range []string{"shl", "shr", "ushr"} {
		def(ISHL+Opcode(g*2), "i"+name, FmtNone, 2, 1)
		def(ISHL+Opcode(g*2+1), "l"+name, FmtNone, 3, 2)
	}
	for g, name := range []string{"and", "or", "xor"} {
		def(IAND+Opcode(g*2), "i"+name, FmtNone, 2, 1)
		def(IAND+Opcode(g*2+1), "l"+name, FmtNone, 4, 2)
	}
	def(IINC, "iinc", FmtIinc, 0, 0)

	def(I2L, "i2l", FmtNone, 1, 2)
	def(I2F, "i2f", FmtNone, 1, 1)
	def(I2D, "i2d", FmtNone, 1, 2)
	def(L2I, "l2i", FmtNone, 2, 1)
	def(L2F, "l2f", FmtNone, 2, 1)
	def(L2D, "l2d", FmtNone, 2, 2)
	def(F2I, "f2i", FmtNone, 1, 1)
	def(F2L, "f2l", FmtNone, 1, 2)
	def(F2D, "f2d", FmtNone, 1, 2)
	def(D2I, "d2i", FmtNone, 2, 1)
	def(D2L, "d2l", FmtNone, 2, 2)
	def(D2F, "d2f", FmtNone, 2, 1)
	def(I2B, "i2b", FmtNone, 1, 1)
	def(I2C, "i2c", FmtNone, 1, 1)
	def(I2S, "i2s", FmtNone, 1, 1)
	def(LCMP, "lcmp", FmtNone, 4, 1)
	def(FCMPL, "fcmpl", FmtNone, 2, 1)
	def(FCMPG, "fcmpg", FmtNone, 2, 1)
	def(DCMPL, "dcmpl", FmtNone, 4, 1)
	def(DCMPG, "dcmpg", FmtNone, 4, 1)

	for i, n := range []string{"ifeq", "ifne", "iflt", "ifge", "ifgt", "ifle"} {
		def(IFEQ+Opcode(i), n, FmtBranch, 1, 0)
	}
	for i, n := range []string{"if_icmpeq", "if_icmpne", "if_icmplt", "if_icmpge", "if_icmpgt", "if_icmple", "if_acmpeq", "if_acmpne"} {
		def(IF_ICMPEQ+Opcode(i), n, FmtBranch, 2, 0)
	}
	def(GOTO, "goto", FmtBranch, 0, 0)
	def(JSR, "jsr", FmtBranch, 0, 1)
	def(RET, "ret", FmtLocal, 0, 0)
	def(TABLESWITCH, "tableswitch", FmtTableSwitch, 1, 0)
	def(LOOKUPSWITCH, "lookupswitch", FmtLookupSwitch, 1, 0)
	def(IRETURN, "ireturn", FmtNone, 1, 0)
	def(LRETURN, "lreturn", FmtNone, 2, 0)
	def(FRETURN, "freturn", FmtNone, 1, 0)
	def(DRETURN, "dreturn", FmtNone, 2, 0)
	def(ARETURN, "areturn", FmtNone, 1, 0)
	def(RETURN, "return", FmtNone, 0, 0)

	def(GETSTATIC, "getstatic", FmtConst2, Variable, Variable)
	def(PUTSTATIC, "putstatic", FmtConst2, Variable, Variable)
	def(GETFIELD, "getfield", FmtConst2, Variable, Variable)
	def(PUTFIELD, "putfield", FmtConst2, Variable, Variable)
	def(INVOKEVIRTUAL, "invokevirtual", FmtConst2, Variable, Variable)
	def(INVOKESPECIAL, "invokespecial", FmtConst2, Variable, Variable)
	def(INVOKESTATIC, "invokestatic", FmtConst2, Variable, Variable)
	def(INVOKEINTERFACE, "invokeinterface", FmtInterface, Variable, Variable)
	def(INVOKEDYNAMIC, "invokedynamic", FmtDynamic, Variable, Variable)
	def(NEW, "new", FmtConst2, 0, 1)
	def(NEWARRAY, "newarray", FmtByte, 1, 1)
	def(ANEWARRAY, "anewarray", FmtConst2, 1, 1)
	def(ARRAYLENGTH, "arraylength", FmtNone, 1, 1)
	def(ATHROW, "athrow", FmtNone, 1, 0)
	def(CHECKCAST, "checkcast", FmtConst2, 1, 1)
	def(INSTANCEOF, "instanceof", FmtConst2, 1, 1)
	def(MONITORENTER, "monitorenter", FmtNone, 1, 0)
	def(MONITOREXIT, "monitorexit", FmtNone, 1, 0)
	def(WIDE, "wide", FmtWide, 0, 0)
	def(MULTIANEWARRAY, "multianewarray", FmtMultiArray, Variable, 1)
	def(IFNULL, "ifnull", FmtBranch, 1, 0)
	def(IFNONNULL, "ifnonnull", FmtBranch, 1, 0)
	def(GOTO_W, "goto_w", FmtBranchWide, 0, 0)
	def(JSR_W, "jsr_w", FmtBranchWide, 0, 1)
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	return opcodeTable[op]
}

// Valid reports whether op is a defined JVM opcode.
func (op Opcode) Valid() bool {
	return opcodeTable[op].Format != FmtInvalid
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	if info := opcodeTable[op]; info.Format != FmtInvalid {
		return info.Name
	}
	return fmt.Sprintf("unknown_%02x", byte(op))
}

// IsReturn reports whether op returns from the method normally.
func (op Opcode) IsReturn() bool {
	return op >= IRETURN && op <= RETURN
}

// IsConditional reports whether op is a two-way branch.
func (op Opcode) IsConditional() bool {
	return (op >= IFEQ && op <= IF_ACMPNE) || op == IFNULL || op == IFNONNULL
}

// EndsBlock reports whether control never falls through op.
func (op Opcode) EndsBlock() bool {
	switch op {
	case GOTO, GOTO_W, RET, TABLESWITCH, LOOKUPSWITCH, ATHROW:
		return true
	}
	return op.IsReturn()
}

// shortForm returns the implicit-index opcode for a load/store of var 0-3,
// e.g. ILOAD,2 → ILOAD_2. ok is false when no short form exists.
func shortForm(op Opcode, v int) (Opcode, bool) {
	if v < 0 || v > 3 {
		return 0, false
	}
	switch {
	case op >= ILOAD && op <= ALOAD:
		return ILOAD_0 + Opcode(int(op-ILOAD)*4+v), true
	case op >= ISTORE && op <= ASTORE:
		return ISTORE_0 + Opcode(int(op-ISTORE)*4+v), true
	}
	return 0, false
}

// longForm maps an implicit-index opcode back to its explicit form and index.
func longForm(op Opcode) (Opcode, int) {
	switch {
	case op >= ILOAD_0 && op <= ALOAD_3:
		d := int(op - ILOAD_0)
		return ILOAD + Opcode(d/4), d % 4
	case op >= ISTORE_0 && op <= ASTORE_3:
		d := int(op - ISTORE_0)
		return ISTORE + Opcode(d/4), d % 4
	}
	return op, -1
}

// VarWords returns how many local slots a load/store of op touches.
func VarWords(op Opcode) int {
	switch op {
	case LLOAD, DLOAD, LSTORE, DSTORE:
		return 2
	}
	return 1
}
