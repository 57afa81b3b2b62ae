package bytecode

import (
	"fmt"
	"strings"
)

// Describer renders a constant-pool entry for listings, e.g.
// "Method java/lang/System.currentTimeMillis:()J".
type Describer interface {
	Describe(index uint16) string
}

// FormatInsn renders one instruction without its offset. Branch targets
// are shown as the byte offsets of their labels.
func FormatInsn(in Instruction, d Describer) string {
	name := in.Opcode().String()
	cp := func(idx uint16, extra string) string {
		s := fmt.Sprintf("%-14s#%d%s", name, idx, extra)
		if d != nil {
			s += "  // " + d.Describe(idx)
		}
		return s
	}
	switch i := in.(type) {
	case *Simple:
		return name
	case *IntInsn:
		return fmt.Sprintf("%-14s%d", name, i.Value)
	case *VarInsn:
		return fmt.Sprintf("%-14s%d", name, i.Var)
	case *IincInsn:
		return fmt.Sprintf("%-14s%d, %d", name, i.Var, i.Delta)
	case *JumpInsn:
		return fmt.Sprintf("%-14s%d", name, i.Target.Offset())
	case *LdcInsn:
		return cp(i.Index, "")
	case *MemberInsn:
		if i.Op == INVOKEINTERFACE {
			return cp(i.Index, fmt.Sprintf(",  %d", i.Count))
		}
		return cp(i.Index, "")
	case *TypeInsn:
		return cp(i.Index, "")
	case *MultiANewArrayInsn:
		return cp(i.Index, fmt.Sprintf(",  %d", i.Dims))
	case *InvokeDynamicInsn:
		return cp(i.Index, ",  0")
	case *SwitchInsn:
		var b strings.Builder
		fmt.Fprintf(&b, "%-14s{ ", name)
		for k, t := range i.Targets {
			key := i.Low + int32(k)
			if i.Op == LOOKUPSWITCH {
				key = i.Keys[k]
			}
			fmt.Fprintf(&b, "%d: %d, ", key, t.Offset())
		}
		fmt.Fprintf(&b, "default: %d }", i.Default.Offset())
		return b.String()
	}
	return name
}

// Format renders an instruction list in a javap-like layout, one instruction
// per line prefixed with its byte offset. pos comes from Assemble.
func Format(insns []Insn, pos []int, d Describer) string {
	var b strings.Builder
	for i, in := range insns {
		ins, ok := in.(Instruction)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%6d: %s\n", pos[i], FormatInsn(ins, d))
	}
	return b.String()
}
