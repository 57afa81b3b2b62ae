package bytecode

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpcodeTable(t *testing.T) {
	tests := []struct {
		op     Opcode
		name   string
		format OperandFormat
	}{
		{NOP, "nop", FmtNone},
		{BIPUSH, "bipush", FmtByte},
		{ILOAD_2, "iload_2", FmtLocalImplicit},
		{LSTORE, "lstore", FmtLocal},
		{IINC, "iinc", FmtIinc},
		{IFEQ, "ifeq", FmtBranch},
		{GOTO_W, "goto_w", FmtBranchWide},
		{TABLESWITCH, "tableswitch", FmtTableSwitch},
		{INVOKEINTERFACE, "invokeinterface", FmtInterface},
		{INVOKEDYNAMIC, "invokedynamic", FmtDynamic},
		{WIDE, "wide", FmtWide},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.op.String())
		assert.Equal(t, tt.format, tt.op.Info().Format, tt.name)
		assert.True(t, tt.op.Valid(), tt.name)
	}
	assert.False(t, Opcode(0xcb).Valid())
	assert.Equal(t, "unknown_cb", Opcode(0xcb).String())

	assert.True(t, IRETURN.IsReturn())
	assert.True(t, RETURN.IsReturn())
	assert.False(t, ATHROW.IsReturn())
	assert.True(t, ATHROW.EndsBlock())
	assert.True(t, IF_ACMPNE.IsConditional())
	assert.False(t, GOTO.IsConditional())
}

func TestShortForms(t *testing.T) {
	op, ok := shortForm(LLOAD, 3)
	require.True(t, ok)
	assert.Equal(t, LLOAD_3, op)
	op, ok = shortForm(ASTORE, 0)
	require.True(t, ok)
	assert.Equal(t, ASTORE_0, op)
	_, ok = shortForm(ILOAD, 4)
	assert.False(t, ok)
	_, ok = shortForm(RET, 1)
	assert.False(t, ok)

	long, v := longForm(DSTORE_2)
	assert.Equal(t, DSTORE, long)
	assert.Equal(t, 2, v)
}

func TestDecodeAssembleRoundTrip(t *testing.T) {
	code := []byte{
		0x1b,             // 0: iload_1
		0x99, 0x00, 0x05, // 1: ifeq 6
		0x04, // 4: iconst_1
		0xac, // 5: ireturn
		0x03, // 6: iconst_0
		0xac, // 7: ireturn
	}
	d, err := Decode(code)
	require.NoError(t, err)
	assert.Equal(t, 6, d.Len())
	assert.Equal(t, 8, d.Size())

	insns := d.Insns()
	require.Len(t, insns, 7)
	assert.Equal(t, &VarInsn{Op: ILOAD, Var: 1}, insns[0])
	j, ok := insns[1].(*JumpInsn)
	require.True(t, ok)
	assert.Equal(t, IFEQ, j.Op)
	assert.Same(t, j.Target, insns[4])
	assert.Equal(t, 6, j.Target.Offset())

	lay, err := Assemble(insns)
	require.NoError(t, err)
	assert.Equal(t, code, lay.Code)
	assert.Equal(t, []int{0, 1, 4, 5, 6, 6, 7}, lay.Pos)
}

func TestDecodeCanonicalForms(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"ldc_w narrows", []byte{0x13, 0x00, 0x05, 0xb1}, []byte{0x12, 0x05, 0xb1}},
		{"ldc_w stays wide", []byte{0x13, 0x01, 0x05, 0xb1}, []byte{0x13, 0x01, 0x05, 0xb1}},
		{"wide iload narrows", []byte{0xc4, 0x15, 0x00, 0x05, 0xac}, []byte{0x15, 0x05, 0xac}},
		{"explicit iload_0", []byte{0x15, 0x00, 0xac}, []byte{0x1a, 0xac}},
		{"wide iinc kept", []byte{0xc4, 0x84, 0x01, 0x00, 0x00, 0x01, 0xb1}, []byte{0xc4, 0x84, 0x01, 0x00, 0x00, 0x01, 0xb1}},
		{"goto_w narrows", []byte{0xc8, 0x00, 0x00, 0x00, 0x05, 0xb1}, []byte{0xa7, 0x00, 0x03, 0xb1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.in)
			require.NoError(t, err)
			lay, err := Assemble(d.Insns())
			require.NoError(t, err)
			assert.Equal(t, tt.want, lay.Code)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"truncated sipush", []byte{0x11, 0x00}},
		{"invalid opcode", []byte{0xcb}},
		{"branch into operand", []byte{0x10, 0x05, 0xa7, 0xff, 0xff, 0xb1}},
		{"branch past end", []byte{0xa7, 0x00, 0x10}},
		{"wide of nop", []byte{0xc4, 0x00, 0x00, 0x01}},
		{"zero dims", []byte{0xc5, 0x00, 0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			require.Error(t, err)
			var de *DecodeError
			assert.True(t, errors.As(err, &de), "got %T", err)
		})
	}
}

func TestSwitchRoundTrip(t *testing.T) {
	a, b, def := NewLabel(), NewLabel(), NewLabel()
	insns := []Insn{
		&VarInsn{Op: ILOAD, Var: 0},
		&SwitchInsn{Op: TABLESWITCH, Default: def, Low: 0, Targets: []*Label{a, b}},
		a, &Simple{Op: ICONST_0}, &Simple{Op: IRETURN},
		b, &Simple{Op: ICONST_1}, &Simple{Op: IRETURN},
		def, &Simple{Op: ICONST_M1}, &Simple{Op: IRETURN},
	}
	lay, err := Assemble(insns)
	require.NoError(t, err)
	// 1 opcode + 2 pad + default/low/high + 2 targets
	assert.Equal(t, 24, a.Offset())
	assert.Equal(t, 26, b.Offset())
	assert.Equal(t, 28, def.Offset())

	d, err := Decode(lay.Code)
	require.NoError(t, err)
	again, err := Assemble(d.Insns())
	require.NoError(t, err)
	assert.Equal(t, lay.Code, again.Code)

	sw, ok := d.Insns()[1].(*SwitchInsn)
	require.True(t, ok)
	assert.Equal(t, int32(0), sw.Low)
	require.Len(t, sw.Targets, 2)
	assert.Equal(t, 26, sw.Targets[1].Offset())

	lk := []Insn{
		&VarInsn{Op: ILOAD, Var: 0},
		&SwitchInsn{Op: LOOKUPSWITCH, Default: def, Keys: []int32{-5, 100}, Targets: []*Label{a, b}},
		a, &Simple{Op: ICONST_0}, &Simple{Op: IRETURN},
		b, &Simple{Op: ICONST_1}, &Simple{Op: IRETURN},
		def, &Simple{Op: ICONST_M1}, &Simple{Op: IRETURN},
	}
	lay, err = Assemble(lk)
	require.NoError(t, err)
	d, err = Decode(lay.Code)
	require.NoError(t, err)
	sw, ok = d.Insns()[1].(*SwitchInsn)
	require.True(t, ok)
	assert.Equal(t, []int32{-5, 100}, sw.Keys)

	bad := []Insn{
		&SwitchInsn{Op: LOOKUPSWITCH, Default: def, Keys: []int32{3, 1}, Targets: []*Label{a, b}},
		a, b, def, &Simple{Op: RETURN},
	}
	_, err = Assemble(bad)
	assert.ErrorIs(t, err, ErrOperand)
}

func nops(n int) []Insn {
	out := make([]Insn, n)
	for i := range out {
		out[i] = &Simple{Op: NOP}
	}
	return out
}

func TestAssembleWidensGoto(t *testing.T) {
	end := NewLabel()
	insns := []Insn{&JumpInsn{Op: GOTO, Target: end}}
	insns = append(insns, nops(33000)...)
	insns = append(insns, end, &Simple{Op: RETURN})

	lay, err := Assemble(insns)
	require.NoError(t, err)
	assert.Equal(t, byte(GOTO_W), lay.Code[0])
	assert.Equal(t, 5+33000+1, len(lay.Code))
	assert.Equal(t, 5+33000, end.Offset())
}

func TestAssembleConditionalOutOfRange(t *testing.T) {
	end := NewLabel()
	insns := []Insn{&VarInsn{Op: ILOAD, Var: 0}, &JumpInsn{Op: IFEQ, Target: end}}
	insns = append(insns, nops(33000)...)
	insns = append(insns, end, &Simple{Op: RETURN})

	_, err := Assemble(insns)
	require.ErrorIs(t, err, ErrBranchRange)
	var ae *AssembleError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 1, ae.Offset)
}

func TestAssembleErrors(t *testing.T) {
	_, err := Assemble(append(nops(MaxCodeSize), &Simple{Op: RETURN}))
	assert.ErrorIs(t, err, ErrCodeTooLarge)

	_, err = Assemble([]Insn{&JumpInsn{Op: GOTO, Target: NewLabel()}})
	assert.ErrorIs(t, err, ErrUnplaced)

	l := NewLabel()
	_, err = Assemble([]Insn{l, &Simple{Op: NOP}, l, &Simple{Op: RETURN}})
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = Assemble([]Insn{&IntInsn{Op: BIPUSH, Value: 200}})
	assert.ErrorIs(t, err, ErrOperand)

	_, err = Assemble([]Insn{&Simple{Op: ILOAD}})
	assert.ErrorIs(t, err, ErrOperand)
}

func TestAssembleVarForms(t *testing.T) {
	lay, err := Assemble([]Insn{
		&VarInsn{Op: LLOAD, Var: 2},
		&VarInsn{Op: LSTORE, Var: 7},
		&VarInsn{Op: ALOAD, Var: 300},
		&IincInsn{Var: 1, Delta: -1},
		&IincInsn{Var: 1, Delta: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x20,
		0x37, 0x07,
		0xc4, 0x19, 0x01, 0x2c,
		0x84, 0x01, 0xff,
		0xc4, 0x84, 0x00, 0x01, 0x03, 0xe8,
	}, lay.Code)
}

func TestDescriptors(t *testing.T) {
	params, ret, err := ParseMethodDescriptor("(IJLjava/lang/String;[[D)V")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "J", "Ljava/lang/String;", "[[D"}, params)
	assert.Equal(t, "V", ret)

	args, rw, err := ArgWords("(IJLjava/lang/String;[[D)J")
	require.NoError(t, err)
	assert.Equal(t, 5, args)
	assert.Equal(t, 2, rw)

	for _, bad := range []string{"", "()", "(I", "(L;)V", "(Q)V", "()VV", "(I)[", "I"} {
		_, _, err := ParseMethodDescriptor(bad)
		assert.ErrorIs(t, err, ErrDescriptor, bad)
	}

	assert.True(t, ValidFieldDescriptor("[Ljava/lang/Object;"))
	assert.False(t, ValidFieldDescriptor("V"))
	assert.False(t, ValidFieldDescriptor("II"))

	locals, err := InitialLocals("Foo", "<init>", "(I)V", false)
	require.NoError(t, err)
	assert.Equal(t, []VType{{Tag: VUninitializedThis}, {Tag: VInteger}}, locals)

	locals, err = InitialLocals("Foo", "run", "(J[ILBar;)V", true)
	require.NoError(t, err)
	assert.Equal(t, []VType{{Tag: VLong}, ObjectType("[I"), ObjectType("Bar")}, locals)

	locals, err = InitialLocals("Foo", "get", "()Z", false)
	require.NoError(t, err)
	assert.Equal(t, []VType{ObjectType("Foo")}, locals)
}

func TestWithLocal(t *testing.T) {
	obj := ObjectType("Foo")
	top := VType{Tag: VTop}
	long := VType{Tag: VLong}
	integer := VType{Tag: VInteger}

	got := WithLocal([]VType{obj, integer}, 4, long)
	assert.Equal(t, []VType{obj, integer, top, top, long}, got)

	got = WithLocal([]VType{obj, long}, 2, integer)
	assert.Equal(t, []VType{obj, top, integer}, got)

	got = WithLocal([]VType{obj, long, integer}, 1, long)
	assert.Equal(t, []VType{obj, long, integer}, got)

	assert.Equal(t, []VType{obj, long}, Compact(Slots([]VType{obj, long, top})))
}

func placedLabels(offs ...int) map[int]*Label {
	m := make(map[int]*Label)
	for _, o := range offs {
		l := NewLabel()
		l.setOffset(o)
		m[o] = l
	}
	return m
}

func TestEncodeDecodeFrames(t *testing.T) {
	obj := ObjectType("Foo")
	integer := VType{Tag: VInteger}
	long := VType{Tag: VLong}
	initial := []VType{obj, integer}
	labels := placedLabels(5, 10, 20, 30, 40)

	frames := []Frame{
		{At: labels[5], Locals: []VType{obj, integer}},
		{At: labels[10], Locals: []VType{obj, integer, long}},
		{At: labels[20], Locals: []VType{obj, integer, long}, Stack: []VType{integer}},
		{At: labels[30], Locals: []VType{obj, integer}},
		{At: labels[40], Locals: []VType{integer}, Stack: []VType{obj, integer}},
	}
	classes := map[string]uint16{"Foo": 7}
	data, err := EncodeFrames(frames, initial, func(name string) (uint16, error) {
		idx, ok := classes[name]
		if !ok {
			return 0, fmt.Errorf("no class %s", name)
		}
		return idx, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x05,
		0x05,
		0xfc, 0x00, 0x04, 0x04,
		0x49, 0x01,
		0xfa, 0x00, 0x09,
		0xff, 0x00, 0x09, 0x00, 0x01, 0x01, 0x00, 0x02, 0x07, 0x00, 0x07, 0x01,
	}, data)

	labelAt := func(off int) (*Label, error) {
		if l, ok := labels[off]; ok {
			return l, nil
		}
		return nil, fmt.Errorf("no label at %d", off)
	}
	className := func(idx uint16) (string, error) {
		if idx == 7 {
			return "Foo", nil
		}
		return "", fmt.Errorf("bad index %d", idx)
	}
	got, err := DecodeFrames(data, initial, labelAt, className)
	require.NoError(t, err)
	assert.Equal(t, frames, got)

	_, err = DecodeFrames([]byte{0x00, 0x01, 0x80}, initial, labelAt, className)
	assert.ErrorIs(t, err, ErrFrame)
	_, err = DecodeFrames([]byte{0x00, 0x01, 0xf8, 0x00, 0x05}, nil, labelAt, className)
	assert.ErrorIs(t, err, ErrFrame)
	_, err = DecodeFrames([]byte{0x00, 0x01, 0x06}, initial, labelAt, className)
	assert.ErrorIs(t, err, ErrFrame)
}

func TestEncodeFramesOrder(t *testing.T) {
	labels := placedLabels(4, 8)
	_, err := EncodeFrames([]Frame{{At: labels[8]}, {At: labels[4]}}, nil, nil)
	assert.ErrorIs(t, err, ErrFrame)
}

type fakeResolver struct {
	fields  map[uint16]string
	methods map[uint16]string
	consts  map[uint16]int
}

func (f fakeResolver) FieldType(idx uint16) (string, error) {
	if d, ok := f.fields[idx]; ok {
		return d, nil
	}
	return "", fmt.Errorf("#%d is not a field", idx)
}

func (f fakeResolver) MethodType(_ Opcode, idx uint16) (string, error) {
	if d, ok := f.methods[idx]; ok {
		return d, nil
	}
	return "", fmt.Errorf("#%d is not a method", idx)
}

func (f fakeResolver) InvokeDynamicType(idx uint16) (string, error) {
	return f.MethodType(INVOKEDYNAMIC, idx)
}

func (f fakeResolver) LdcWords(_ Opcode, idx uint16) (int, error) {
	if w, ok := f.consts[idx]; ok {
		return w, nil
	}
	return 0, fmt.Errorf("#%d is not loadable", idx)
}

func (f fakeResolver) ClassRef(idx uint16) error {
	if idx == 0 {
		return errors.New("class #0")
	}
	return nil
}

var testResolver = fakeResolver{
	fields:  map[uint16]string{1: "Ljava/io/PrintStream;"},
	methods: map[uint16]string{2: "()J", 3: "(Ljava/lang/String;)V", 4: "(J)Ljava/lang/StringBuilder;"},
	consts:  map[uint16]int{5: 1, 6: 2},
}

func analyze(t *testing.T, insns []Insn, handlers ...Handler) (Maxs, error) {
	t.Helper()
	lay, err := Assemble(insns)
	require.NoError(t, err)
	return Analyze(insns, lay.Pos, handlers, testResolver)
}

func TestAnalyzeMaxs(t *testing.T) {
	m, err := analyze(t, []Insn{
		&MemberInsn{Op: INVOKESTATIC, Index: 2},
		&VarInsn{Op: LSTORE, Var: 3},
		&VarInsn{Op: LLOAD, Var: 3},
		&VarInsn{Op: LLOAD, Var: 3},
		&Simple{Op: LSUB},
		&LdcInsn{Op: LDC2_W, Index: 6},
		&Simple{Op: LADD},
		&Simple{Op: POP2},
		&MemberInsn{Op: GETSTATIC, Index: 1},
		&LdcInsn{Op: LDC, Index: 5},
		&MemberInsn{Op: INVOKEVIRTUAL, Index: 3},
		&Simple{Op: RETURN},
	})
	require.NoError(t, err)
	assert.Equal(t, Maxs{Stack: 4, Locals: 5}, m)
}

func TestAnalyzeBranches(t *testing.T) {
	alt := NewLabel()
	m, err := analyze(t, []Insn{
		&VarInsn{Op: ILOAD, Var: 0},
		&JumpInsn{Op: IFEQ, Target: alt},
		&Simple{Op: ICONST_1},
		&Simple{Op: IRETURN},
		alt,
		&Simple{Op: ICONST_0},
		&Simple{Op: IRETURN},
	})
	require.NoError(t, err)
	assert.Equal(t, Maxs{Stack: 1, Locals: 1}, m)

	loop := NewLabel()
	m, err = analyze(t, []Insn{
		loop,
		&IincInsn{Var: 2, Delta: 1},
		&VarInsn{Op: ILOAD, Var: 2},
		&JumpInsn{Op: IFNE, Target: loop},
		&Simple{Op: RETURN},
	})
	require.NoError(t, err)
	assert.Equal(t, Maxs{Stack: 1, Locals: 3}, m)
}

func TestAnalyzeHandlers(t *testing.T) {
	start, end, handler := NewLabel(), NewLabel(), NewLabel()
	m, err := analyze(t, []Insn{
		start,
		&Simple{Op: NOP},
		&Simple{Op: RETURN},
		end,
		handler,
		&VarInsn{Op: ASTORE, Var: 1},
		&VarInsn{Op: ALOAD, Var: 1},
		&Simple{Op: ATHROW},
	}, Handler{Start: start, End: end, Handler: handler})
	require.NoError(t, err)
	assert.Equal(t, Maxs{Stack: 1, Locals: 2}, m)

	_, err = analyze(t, []Insn{start, &Simple{Op: RETURN}, end},
		Handler{Start: end, End: start, Handler: start})
	assert.ErrorIs(t, err, ErrHandler)
}

func TestAnalyzeErrors(t *testing.T) {
	join := NewLabel()
	tests := []struct {
		name  string
		insns []Insn
		want  error
	}{
		{"underflow", []Insn{&Simple{Op: IADD}, &Simple{Op: IRETURN}}, ErrUnderflow},
		{"join", []Insn{
			&VarInsn{Op: ILOAD, Var: 0},
			&JumpInsn{Op: IFEQ, Target: join},
			&Simple{Op: ICONST_1},
			join,
			&Simple{Op: RETURN},
		}, ErrInconsistent},
		{"fall off", []Insn{&Simple{Op: ICONST_0}, &Simple{Op: POP}}, ErrFallOff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := analyze(t, tt.insns)
			require.ErrorIs(t, err, tt.want)
			var ae *AnalysisError
			assert.True(t, errors.As(err, &ae))
		})
	}

	_, err := analyze(t, []Insn{&MemberInsn{Op: INVOKESTATIC, Index: 9}, &Simple{Op: RETURN}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a method")
}

type describer map[uint16]string

func (d describer) Describe(idx uint16) string { return d[idx] }

func TestFormat(t *testing.T) {
	d, err := Decode([]byte{
		0xb8, 0x00, 0x02, // invokestatic #2
		0x40,             // lstore_1
		0x1f,             // lload_1
		0x88,             // l2i
		0x99, 0x00, 0x04, // ifeq 10
		0xb1, // return
		0xb1, // return
	})
	require.NoError(t, err)
	insns := d.Insns()
	lay, err := Assemble(insns)
	require.NoError(t, err)

	out := Format(insns, lay.Pos, describer{2: "Method java/lang/System.currentTimeMillis:()J"})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "     0: invokestatic  #2  // Method java/lang/System.currentTimeMillis:()J", lines[0])
	assert.Equal(t, "     3: lstore        1", lines[1])
	assert.Equal(t, "     6: ifeq          10", lines[4])
}
