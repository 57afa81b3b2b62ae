package cfg

import (
	"fmt"

	"github.com/zboralski/lattice"

	"classprobe/internal/bytecode"
	"classprobe/internal/classfile"
)

// Callee names the target of an invoke instruction as "owner.name", or
// the bootstrap name for invokedynamic. ok is false for other instructions.
func Callee(p *classfile.Pool, in bytecode.Instruction) (string, bool) {
	switch i := in.(type) {
	case *bytecode.MemberInsn:
		switch i.Op {
		case bytecode.INVOKEVIRTUAL, bytecode.INVOKESPECIAL, bytecode.INVOKESTATIC, bytecode.INVOKEINTERFACE:
		default:
			return "", false
		}
		class, name, _, err := p.Member(i.Index, classfile.TagMethodref, classfile.TagInterfaceMethodref)
		if err != nil {
			return fmt.Sprintf("#%d", i.Index), true
		}
		return class + "." + name, true
	case *bytecode.InvokeDynamicInsn:
		c, err := p.Get(i.Index)
		if err != nil {
			return fmt.Sprintf("#%d", i.Index), true
		}
		name, _, err := p.NameAndType(c.B)
		if err != nil {
			return fmt.Sprintf("#%d", i.Index), true
		}
		return "indy." + name, true
	}
	return "", false
}

// ToLattice maps a FuncCFG to a lattice.FuncCFG. Invoke instructions
// become the block's call sites.
func ToLattice(p *classfile.Pool, f FuncCFG) *lattice.FuncCFG {
	lf := &lattice.FuncCFG{Name: f.Name}
	for _, b := range f.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.ID,
			Start: b.Start,
			End:   b.End,
			Term:  b.IsTerm,
		}
		for _, s := range b.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{BlockID: s.BlockID, Cond: s.Cond})
		}
		for idx := b.Start; idx < b.End && idx < len(f.Insts); idx++ {
			if callee, ok := Callee(p, f.Insts[idx].Insn); ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{Offset: idx, Callee: callee})
			}
		}
		lf.Blocks = append(lf.Blocks, lb)
	}
	return lf
}

// BuildGraph builds the lattice CFG of every method accepted by keep.
// A nil keep accepts all methods with code.
func BuildGraph(c *classfile.ClassModel, keep func(*classfile.MethodModel) bool) (*lattice.CFGGraph, error) {
	g := &lattice.CFGGraph{}
	for _, m := range c.Methods {
		if m.Code == nil || (keep != nil && !keep(m)) {
			continue
		}
		f, err := Build(c, m)
		if err != nil {
			return nil, err
		}
		lf := ToLattice(c.Pool, f)
		lf.Name = c.Name + "." + lf.Name
		g.Funcs = append(g.Funcs, lf)
	}
	return g, nil
}

// BuildCallGraph constructs a lattice.Graph of the class. Each method is a
// node named "class.method"; each invoke becomes an edge.
func BuildCallGraph(c *classfile.ClassModel) *lattice.Graph {
	g := &lattice.Graph{}
	for _, m := range c.Methods {
		caller := c.Name + "." + m.Name
		g.Nodes = append(g.Nodes, caller)
		if m.Code == nil {
			continue
		}
		for _, in := range m.Code.Insns {
			ins, ok := in.(bytecode.Instruction)
			if !ok {
				continue
			}
			if callee, ok := Callee(c.Pool, ins); ok {
				g.Edges = append(g.Edges, lattice.Edge{Caller: caller, Callee: callee})
			}
		}
	}
	g.Dedup()
	return g
}
