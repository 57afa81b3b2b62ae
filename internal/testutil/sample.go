// Package testutil builds class files for tests.
package testutil

import (
	"testing"

	"classprobe/internal/bytecode"
	"classprobe/internal/classfile"
)

// SampleName is the internal name of the class built by Sample.
const SampleName = "Sample"

// builder accumulates pool additions, keeping the first error.
type builder struct {
	c   *classfile.ClassModel
	err error
}

func (b *builder) idx(i uint16, err error) uint16 {
	if err != nil && b.err == nil {
		b.err = err
	}
	return i
}

func (b *builder) method(class, name, desc string) uint16 {
	return b.idx(b.c.Pool.AddMethodref(class, name, desc))
}

func (b *builder) add(access classfile.AccessFlags, name, desc string, code *classfile.Code) {
	if b.err != nil {
		return
	}
	_, b.err = b.c.AddMethod(access, name, desc, code)
}

func insn(op bytecode.Opcode) bytecode.Insn { return &bytecode.Simple{Op: op} }

func load(op bytecode.Opcode, v int) bytecode.Insn { return &bytecode.VarInsn{Op: op, Var: v} }

// Sample builds class Sample (version 52) with these methods:
//
//	<init>()V
//	onCreate(I)I                two returns behind a branch, line numbers, local variables
//	onCreate(Ljava/lang/String;)V  a bare return
//	compute(JJ)J                static, wide arguments
//	loop(I)I                    static, backward branch with frames
//	pick(I)I                    static, tableswitch with three returns
//	safe(I)I                    static, exception handler
//	fail()V                     static, throws
//	main([Ljava/lang/String;)V  calls both onCreate overloads
//	nativeOp()V                 native
func Sample(t testing.TB) *classfile.ClassModel {
	t.Helper()
	c, err := classfile.NewClass(SampleName, "java/lang/Object")
	if err != nil {
		t.Fatal(err)
	}
	b := &builder{c: c}
	self := bytecode.ObjectType(SampleName)
	integer := bytecode.VType{Tag: bytecode.VInteger}

	objInit := b.method("java/lang/Object", "<init>", "()V")
	b.add(classfile.AccPublic, "<init>", "()V", &classfile.Code{
		MaxStack: 1, MaxLocals: 1,
		Insns: []bytecode.Insn{
			load(bytecode.ALOAD, 0),
			&bytecode.MemberInsn{Op: bytecode.INVOKESPECIAL, Index: objInit},
			insn(bytecode.RETURN),
		},
	})

	start, positive, end := bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel()
	zero := bytecode.NewLabel()
	b.add(classfile.AccPublic, "onCreate", "(I)I", &classfile.Code{
		MaxStack: 2, MaxLocals: 2,
		Insns: []bytecode.Insn{
			start,
			load(bytecode.ILOAD, 1),
			&bytecode.JumpInsn{Op: bytecode.IFLE, Target: zero},
			positive,
			load(bytecode.ILOAD, 1),
			insn(bytecode.ICONST_2),
			insn(bytecode.IMUL),
			insn(bytecode.IRETURN),
			zero,
			insn(bytecode.ICONST_0),
			insn(bytecode.IRETURN),
			end,
		},
		Lines: []classfile.LineNumber{{Start: start, Line: 10}, {Start: positive, Line: 11}, {Start: zero, Line: 13}},
		Vars: []classfile.LocalVar{
			{Start: start, End: end, Name: "this", Descriptor: "LSample;", Index: 0},
			{Start: start, End: end, Name: "x", Descriptor: "I", Index: 1},
		},
		Frames: []bytecode.Frame{{At: zero, Locals: []bytecode.VType{self, integer}}},
	})

	b.add(classfile.AccPublic, "onCreate", "(Ljava/lang/String;)V", &classfile.Code{
		MaxStack: 0, MaxLocals: 2,
		Insns: []bytecode.Insn{insn(bytecode.RETURN)},
	})

	b.add(classfile.AccPublic|classfile.AccStatic, "compute", "(JJ)J", &classfile.Code{
		MaxStack: 4, MaxLocals: 4,
		Insns: []bytecode.Insn{
			load(bytecode.LLOAD, 0),
			load(bytecode.LLOAD, 2),
			insn(bytecode.LADD),
			insn(bytecode.LRETURN),
		},
	})

	head, done := bytecode.NewLabel(), bytecode.NewLabel()
	b.add(classfile.AccPublic|classfile.AccStatic, "loop", "(I)I", &classfile.Code{
		MaxStack: 2, MaxLocals: 2,
		Insns: []bytecode.Insn{
			insn(bytecode.ICONST_0),
			load(bytecode.ISTORE, 1),
			head,
			load(bytecode.ILOAD, 0),
			&bytecode.JumpInsn{Op: bytecode.IFLE, Target: done},
			load(bytecode.ILOAD, 1),
			load(bytecode.ILOAD, 0),
			insn(bytecode.IADD),
			load(bytecode.ISTORE, 1),
			&bytecode.IincInsn{Var: 0, Delta: -1},
			&bytecode.JumpInsn{Op: bytecode.GOTO, Target: head},
			done,
			load(bytecode.ILOAD, 1),
			insn(bytecode.IRETURN),
		},
		Frames: []bytecode.Frame{
			{At: head, Locals: []bytecode.VType{integer, integer}},
			{At: done, Locals: []bytecode.VType{integer, integer}},
		},
	})

	one, two, other := bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel()
	b.add(classfile.AccPublic|classfile.AccStatic, "pick", "(I)I", &classfile.Code{
		MaxStack: 1, MaxLocals: 1,
		Insns: []bytecode.Insn{
			load(bytecode.ILOAD, 0),
			&bytecode.SwitchInsn{Op: bytecode.TABLESWITCH, Default: other, Low: 0, Targets: []*bytecode.Label{one, two}},
			one, insn(bytecode.ICONST_1), insn(bytecode.IRETURN),
			two, insn(bytecode.ICONST_2), insn(bytecode.IRETURN),
			other, insn(bytecode.ICONST_0), insn(bytecode.IRETURN),
		},
		Frames: []bytecode.Frame{
			{At: one, Locals: []bytecode.VType{integer}},
			{At: two, Locals: []bytecode.VType{integer}},
			{At: other, Locals: []bytecode.VType{integer}},
		},
	})

	arith := b.idx(c.Pool.AddClass("java/lang/ArithmeticException"))
	tryStart, tryEnd, handler := bytecode.NewLabel(), bytecode.NewLabel(), bytecode.NewLabel()
	b.add(classfile.AccPublic|classfile.AccStatic, "safe", "(I)I", &classfile.Code{
		MaxStack: 2, MaxLocals: 2,
		Insns: []bytecode.Insn{
			tryStart,
			&bytecode.IntInsn{Op: bytecode.BIPUSH, Value: 10},
			load(bytecode.ILOAD, 0),
			insn(bytecode.IDIV),
			insn(bytecode.IRETURN),
			tryEnd,
			handler,
			load(bytecode.ASTORE, 1),
			insn(bytecode.ICONST_M1),
			insn(bytecode.IRETURN),
		},
		Handlers: []bytecode.Handler{{Start: tryStart, End: tryEnd, Handler: handler, CatchType: arith}},
		Frames: []bytecode.Frame{{
			At:     handler,
			Locals: []bytecode.VType{integer},
			Stack:  []bytecode.VType{bytecode.ObjectType("java/lang/ArithmeticException")},
		}},
	})

	rte := b.idx(c.Pool.AddClass("java/lang/RuntimeException"))
	rteInit := b.method("java/lang/RuntimeException", "<init>", "()V")
	b.add(classfile.AccPublic|classfile.AccStatic, "fail", "()V", &classfile.Code{
		MaxStack: 2, MaxLocals: 0,
		Insns: []bytecode.Insn{
			&bytecode.TypeInsn{Op: bytecode.NEW, Index: rte},
			insn(bytecode.DUP),
			&bytecode.MemberInsn{Op: bytecode.INVOKESPECIAL, Index: rteInit},
			insn(bytecode.ATHROW),
		},
	})

	sample := b.idx(c.Pool.AddClass(SampleName))
	sampleInit := b.method(SampleName, "<init>", "()V")
	onCreateI := b.method(SampleName, "onCreate", "(I)I")
	onCreateS := b.method(SampleName, "onCreate", "(Ljava/lang/String;)V")
	arg := b.idx(c.Pool.AddString("x"))
	b.add(classfile.AccPublic|classfile.AccStatic, "main", "([Ljava/lang/String;)V", &classfile.Code{
		MaxStack: 2, MaxLocals: 1,
		Insns: []bytecode.Insn{
			&bytecode.TypeInsn{Op: bytecode.NEW, Index: sample},
			insn(bytecode.DUP),
			&bytecode.MemberInsn{Op: bytecode.INVOKESPECIAL, Index: sampleInit},
			insn(bytecode.ICONST_3),
			&bytecode.MemberInsn{Op: bytecode.INVOKEVIRTUAL, Index: onCreateI},
			insn(bytecode.POP),
			&bytecode.TypeInsn{Op: bytecode.NEW, Index: sample},
			insn(bytecode.DUP),
			&bytecode.MemberInsn{Op: bytecode.INVOKESPECIAL, Index: sampleInit},
			&bytecode.LdcInsn{Op: bytecode.LDC, Index: arg},
			&bytecode.MemberInsn{Op: bytecode.INVOKEVIRTUAL, Index: onCreateS},
			insn(bytecode.RETURN),
		},
	})

	b.add(classfile.AccPublic|classfile.AccNative, "nativeOp", "()V", nil)

	if b.err != nil {
		t.Fatal(b.err)
	}
	return c
}

// SampleBytes returns Sample serialized.
func SampleBytes(t testing.TB) []byte {
	t.Helper()
	data, err := classfile.Write(Sample(t), classfile.WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// Count returns how many instructions in insns have opcode op.
func Count(insns []bytecode.Insn, op bytecode.Opcode) int {
	n := 0
	for _, in := range insns {
		if i, ok := in.(bytecode.Instruction); ok && i.Opcode() == op {
			n++
		}
	}
	return n
}
