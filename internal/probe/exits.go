package probe

import "classprobe/internal/bytecode"

// ExitKind distinguishes normal returns from exception unwinds.
type ExitKind uint8

const (
	ExitReturn ExitKind = iota
	ExitThrow
)

func (k ExitKind) String() string {
	if k == ExitThrow {
		return "throw"
	}
	return "return"
}

// ExitPoint is an instruction that leaves the method.
type ExitPoint struct {
	Index int // position in the instruction list
	Op    bytecode.Opcode
	Kind  ExitKind
}

// FindExits lists every return instruction in order, and every athrow when
// includeThrow is set. It does not modify insns.
func FindExits(insns []bytecode.Insn, includeThrow bool) []ExitPoint {
	var exits []ExitPoint
	for i, in := range insns {
		ins, ok := in.(bytecode.Instruction)
		if !ok {
			continue
		}
		switch op := ins.Opcode(); {
		case op.IsReturn():
			exits = append(exits, ExitPoint{Index: i, Op: op, Kind: ExitReturn})
		case op == bytecode.ATHROW && includeThrow:
			exits = append(exits, ExitPoint{Index: i, Op: op, Kind: ExitThrow})
		}
	}
	return exits
}
