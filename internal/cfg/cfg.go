// Package cfg builds basic-block control flow graphs of method bodies and
// converts them, together with the class's call edges, to lattice graphs.
package cfg

import (
	"fmt"
	"sort"
	"strconv"

	"classprobe/internal/bytecode"
	"classprobe/internal/classfile"
)

// Inst is one instruction of a method with its assembled offset.
type Inst struct {
	Offset int
	Insn   bytecode.Instruction
	Text   string
}

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with a return or athrow
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	// Cond is "" for unconditional, "T"/"F" for branch taken/fallthrough,
	// a case key or "default" for switches, "E" for an exception handler.
	Cond string
}

// FuncCFG is a per-method control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// Build constructs the CFG of m. The code is assembled to assign offsets,
// which updates its labels.
//  1. Find block leaders: index 0, branch and handler targets, instructions after terminators.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction and the exception table.
func Build(c *classfile.ClassModel, m *classfile.MethodModel) (FuncCFG, error) {
	name := m.Name + m.Descriptor
	if m.Code == nil {
		return FuncCFG{Name: name}, nil
	}
	code := m.Code
	lay, err := bytecode.Assemble(code.Insns)
	if err != nil {
		return FuncCFG{}, fmt.Errorf("cfg: %s: %w", name, err)
	}

	// Labels map to the index of the instruction that follows them.
	var insts []Inst
	labelIdx := make(map[*bytecode.Label]int)
	for i, in := range code.Insns {
		switch v := in.(type) {
		case *bytecode.Label:
			labelIdx[v] = len(insts)
		case bytecode.Instruction:
			insts = append(insts, Inst{Offset: lay.Pos[i], Insn: v, Text: bytecode.FormatInsn(v, c.Pool)})
		}
	}
	if len(insts) == 0 {
		return FuncCFG{Name: name}, nil
	}

	// Pass 1: Identify block leaders.
	leaders := map[int]bool{0: true}
	mark := func(l *bytecode.Label) {
		if idx, ok := labelIdx[l]; ok && idx < len(insts) {
			leaders[idx] = true
		}
	}
	for i, inst := range insts {
		op := inst.Insn.Opcode()
		targets := bytecode.Targets(inst.Insn)
		for _, t := range targets {
			mark(t)
		}
		if (len(targets) > 0 || op.EndsBlock()) && i+1 < len(insts) {
			leaders[i+1] = true
		}
	}
	for _, h := range code.Handlers {
		mark(h.Start)
		mark(h.End)
		mark(h.Handler)
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{ID: i, Start: start, End: end, IsEntry: start == 0}
		leaderToBlock[start] = i
	}
	blockOf := func(l *bytecode.Label) (int, bool) {
		idx, ok := labelIdx[l]
		if !ok {
			return 0, false
		}
		bid, ok := leaderToBlock[idx]
		return bid, ok
	}

	// Pass 3: Compute successors.
	for i := range blocks {
		blk := &blocks[i]
		last := insts[blk.End-1].Insn
		op := last.Opcode()
		next, hasNext := leaderToBlock[blk.End]

		switch in := last.(type) {
		case *bytecode.JumpInsn:
			target, ok := blockOf(in.Target)
			switch {
			case op.IsConditional():
				if ok {
					blk.Succs = append(blk.Succs, Succ{BlockID: target, Cond: "T"})
				}
				if hasNext {
					blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
				}
			case op == bytecode.JSR || op == bytecode.JSR_W:
				if ok {
					blk.Succs = append(blk.Succs, Succ{BlockID: target, Cond: "jsr"})
				}
				if hasNext {
					blk.Succs = append(blk.Succs, Succ{BlockID: next})
				}
			default:
				if ok {
					blk.Succs = append(blk.Succs, Succ{BlockID: target})
				}
			}
		case *bytecode.SwitchInsn:
			for k, t := range in.Targets {
				key := in.Low + int32(k)
				if in.Op == bytecode.LOOKUPSWITCH {
					key = in.Keys[k]
				}
				if bid, ok := blockOf(t); ok {
					blk.Succs = append(blk.Succs, Succ{BlockID: bid, Cond: strconv.Itoa(int(key))})
				}
			}
			if bid, ok := blockOf(in.Default); ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: bid, Cond: "default"})
			}
		default:
			switch {
			case op.IsReturn() || op == bytecode.ATHROW:
				blk.IsTerm = true
			case op == bytecode.RET:
				// returns to a jsr continuation; not tracked
			case hasNext:
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			}
		}

		for _, h := range code.Handlers {
			from, ok1 := labelIdx[h.Start]
			to, ok2 := labelIdx[h.End]
			bid, ok3 := blockOf(h.Handler)
			if ok1 && ok2 && ok3 && blk.Start >= from && blk.Start < to {
				blk.Succs = append(blk.Succs, Succ{BlockID: bid, Cond: "E"})
			}
		}
	}

	return FuncCFG{Name: name, Blocks: blocks, Insts: insts}, nil
}
