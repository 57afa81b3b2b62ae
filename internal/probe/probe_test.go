package probe_test

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classprobe/internal/bytecode"
	"classprobe/internal/classfile"
	"classprobe/internal/probe"
	"classprobe/internal/testutil"
)

func newEngine(opts probe.Options) *probe.Engine {
	return probe.NewEngine(opts, zerolog.Nop())
}

// probeStarts returns the list indexes where an exit probe begins.
func probeStarts(insns []bytecode.Insn) []int {
	var out []int
	for i, in := range insns {
		if i == 0 {
			continue // entry probe
		}
		if m, ok := in.(*bytecode.MemberInsn); ok && m.Op == bytecode.INVOKESTATIC {
			if v, ok := insns[i+1].(*bytecode.VarInsn); ok && v.Op == bytecode.LSTORE {
				out = append(out, i)
			}
		}
	}
	return out
}

func TestTransformEntryFirst(t *testing.T) {
	cm := testutil.Sample(t)
	m := cm.Method("onCreate", "(I)I")
	res, err := newEngine(probe.Options{}).Transform(cm, m)
	require.NoError(t, err)

	require.IsType(t, &bytecode.MemberInsn{}, m.Code.Insns[0])
	assert.Equal(t, "Method java/lang/System.currentTimeMillis:()J",
		cm.Pool.Describe(m.Code.Insns[0].(*bytecode.MemberInsn).Index))
	assert.Equal(t, &bytecode.VarInsn{Op: bytecode.LSTORE, Var: 2}, m.Code.Insns[1])
	_, isLabel := m.Code.Insns[2].(*bytecode.Label)
	assert.True(t, isLabel, "original labels follow the entry probe")

	assert.Equal(t, probe.LocalSlot{Index: 2, Kind: bytecode.KindLong}, res.Start)
	assert.Equal(t, "execute onCreate() use time: ", res.Label)
	assert.Equal(t, 2, res.Returns)
	assert.Equal(t, 0, res.Throws)
}

func TestTransformEveryExit(t *testing.T) {
	tests := []struct {
		method, desc string
		returns      int
	}{
		{"onCreate", "(I)I", 2},
		{"onCreate", "(Ljava/lang/String;)V", 1},
		{"compute", "(JJ)J", 1},
		{"loop", "(I)I", 1},
		{"pick", "(I)I", 3},
		{"safe", "(I)I", 2},
		{"fail", "()V", 0},
	}
	for _, tt := range tests {
		t.Run(tt.method+tt.desc, func(t *testing.T) {
			cm := testutil.Sample(t)
			m := cm.Method(tt.method, tt.desc)
			res, err := newEngine(probe.Options{}).Transform(cm, m)
			require.NoError(t, err)
			assert.Equal(t, tt.returns, res.Returns)

			starts := probeStarts(m.Code.Insns)
			require.Len(t, starts, tt.returns)
			for _, s := range starts {
				exit := m.Code.Insns[s+probe.ExitProbeLen].(bytecode.Instruction)
				assert.True(t, exit.Opcode().IsReturn(), "probe at %d precedes %s", s, exit.Opcode())
			}
			assert.Equal(t, tt.returns, len(probe.FindExits(m.Code.Insns, false)))
		})
	}
}

func TestTransformBranchToReturnRunsProbe(t *testing.T) {
	cm := testutil.Sample(t)
	m := cm.Method("onCreate", "(I)I")
	var zero *bytecode.Label
	for _, in := range m.Code.Insns {
		if j, ok := in.(*bytecode.JumpInsn); ok {
			zero = j.Target
		}
	}
	require.NotNil(t, zero)
	_, err := newEngine(probe.Options{}).Transform(cm, m)
	require.NoError(t, err)

	for i, in := range m.Code.Insns {
		if in == zero {
			// iconst_0 then the probe then ireturn.
			assert.Equal(t, &bytecode.Simple{Op: bytecode.ICONST_0}, m.Code.Insns[i+1])
			assert.Equal(t, bytecode.INVOKESTATIC, m.Code.Insns[i+2].(bytecode.Instruction).Opcode())
			return
		}
	}
	t.Fatal("branch target lost")
}

func TestTransformSlotsDisjoint(t *testing.T) {
	cm := testutil.Sample(t)
	m := cm.Method("pick", "(I)I")
	res, err := newEngine(probe.Options{}).Transform(cm, m)
	require.NoError(t, err)

	require.Len(t, res.Slots, 1+2*3)
	used := map[int]bool{}
	for _, s := range res.Slots {
		assert.Equal(t, bytecode.KindLong, s.Kind)
		assert.GreaterOrEqual(t, s.Index, res.MaxLocalsBefore)
		for w := 0; w < s.Words(); w++ {
			assert.False(t, used[s.Index+w], "slot %d allocated twice", s.Index+w)
			used[s.Index+w] = true
		}
	}
	assert.Equal(t, res.MaxLocalsBefore+14, res.MaxLocalsAfter)
	assert.Equal(t, res.MaxLocalsAfter, m.Code.MaxLocals)
}

func TestTransformFrames(t *testing.T) {
	cm := testutil.Sample(t)
	m := cm.Method("loop", "(I)I")
	res, err := newEngine(probe.Options{}).Transform(cm, m)
	require.NoError(t, err)

	integer := bytecode.VType{Tag: bytecode.VInteger}
	long := bytecode.VType{Tag: bytecode.VLong}
	for _, f := range m.Code.Frames {
		assert.Equal(t, []bytecode.VType{integer, integer, long}, f.Locals)
	}
	assert.Equal(t, 2, res.Start.Index)
}

func TestTransformWritesVerifiably(t *testing.T) {
	cm := testutil.Sample(t)
	e := newEngine(probe.Options{Unwind: true})
	for _, m := range cm.Methods {
		if m.Code == nil {
			continue
		}
		_, err := e.Transform(cm, m)
		require.NoError(t, err, "%s%s", m.Name, m.Descriptor)
	}

	// Declared maxs must already be sufficient.
	data, err := classfile.Write(cm, classfile.WriteOptions{})
	require.NoError(t, err)

	back, err := classfile.Parse(data)
	require.NoError(t, err)
	m := back.Method("safe", "(I)I")
	require.Len(t, m.Code.Frames, 1)
	assert.Equal(t, bytecode.VLong, m.Code.Frames[0].Locals[2].Tag)
	assert.Equal(t, 2, testutil.Count(m.Code.Insns, bytecode.IRETURN))
	assert.Equal(t, 3, testutil.Count(m.Code.Insns, bytecode.INVOKESTATIC))

	fail := back.Method("fail", "()V")
	assert.Equal(t, 2, testutil.Count(fail.Code.Insns, bytecode.INVOKESTATIC))
}

func TestTransformUnwind(t *testing.T) {
	cm := testutil.Sample(t)
	m := cm.Method("fail", "()V")
	res, err := newEngine(probe.Options{Unwind: true, Label: "fail: "}).Transform(cm, m)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Throws)
	assert.Equal(t, 0, res.Returns)
	assert.Equal(t, 6, m.Code.MaxStack)
	assert.Equal(t, 6, m.Code.MaxLocals)
	assert.Equal(t, 1, testutil.Count(m.Code.Insns, bytecode.LSUB))
}

func TestTransformTwice(t *testing.T) {
	cm := testutil.Sample(t)
	m := cm.Method("onCreate", "(I)I")
	e := newEngine(probe.Options{})
	first, err := e.Transform(cm, m)
	require.NoError(t, err)
	second, err := e.Transform(cm, m)
	require.NoError(t, err)

	assert.Equal(t, first.Returns, second.Returns)
	assert.Equal(t, first.MaxLocalsAfter, second.Start.Index)
	assert.Equal(t, 4, testutil.Count(m.Code.Insns, bytecode.LSUB))

	_, err = classfile.Write(cm, classfile.WriteOptions{ComputeMaxs: true})
	require.NoError(t, err)
}

func TestTransformSlotExhaustion(t *testing.T) {
	cm := testutil.Sample(t)
	m := cm.Method("onCreate", "(I)I")
	before := len(m.Code.Insns)

	m.Code.MaxLocals = probe.MaxLocals - 3
	_, err := newEngine(probe.Options{}).Transform(cm, m)
	require.ErrorIs(t, err, probe.ErrSlotAllocation)
	var se *probe.SlotAllocationError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "onCreate(I)I", se.Method)
	assert.Equal(t, before, len(m.Code.Insns), "failed transform must not touch the body")
	assert.Equal(t, probe.MaxLocals-3, m.Code.MaxLocals)
}

func TestTransformDropsOffsetAttributes(t *testing.T) {
	cm := testutil.Sample(t)
	typeAnno := func(name string) classfile.Attribute {
		// one type_annotation on a local at byte 0..8, no element values
		return classfile.Attribute{Name: name, Data: []byte{0x00, 0x01, 0x40, 0x00, 0x01, 0x00, 0x00, 0x00, 0x08, 0x00, 0x01, 0x00, 0x00, 0x05, 0x00, 0x00}}
	}
	custom := classfile.Attribute{Name: "Custom", Data: []byte{1, 2, 3}}
	for _, m := range cm.Methods {
		if m.Code != nil {
			m.Code.Attributes = []classfile.Attribute{
				typeAnno("RuntimeVisibleTypeAnnotations"), custom, typeAnno("RuntimeInvisibleTypeAnnotations"),
			}
		}
	}

	res, err := newEngine(probe.Options{}).Transform(cm, cm.Method("onCreate", "(I)I"))
	require.NoError(t, err)
	assert.Equal(t, []string{"RuntimeVisibleTypeAnnotations", "RuntimeInvisibleTypeAnnotations"}, res.Dropped)

	out, err := classfile.Write(cm, classfile.WriteOptions{ComputeMaxs: true})
	require.NoError(t, err)
	back, err := classfile.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []classfile.Attribute{custom}, back.Method("onCreate", "(I)I").Code.Attributes)
	assert.Len(t, back.Method("loop", "").Code.Attributes, 3, "untouched methods keep their offsets valid")
}

func TestTransformNoCode(t *testing.T) {
	cm := testutil.Sample(t)
	_, err := newEngine(probe.Options{}).Transform(cm, cm.Method("nativeOp", "()V"))
	assert.ErrorIs(t, err, probe.ErrNoCode)
}

func TestAllocator(t *testing.T) {
	a := probe.NewAllocator("m()V", 3)
	s, err := a.New(bytecode.KindLong)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Index)
	i, err := a.New(bytecode.KindInt)
	require.NoError(t, err)
	assert.Equal(t, 5, i.Index)
	assert.Equal(t, 6, a.MaxLocals())

	full := probe.NewAllocator("m()V", probe.MaxLocals-1)
	_, err = full.New(bytecode.KindInt)
	require.NoError(t, err)
	_, err = full.New(bytecode.KindInt)
	assert.ErrorIs(t, err, probe.ErrSlotAllocation)
}

func TestFindExits(t *testing.T) {
	cm := testutil.Sample(t)
	insns := cm.Method("fail", "()V").Code.Insns
	assert.Empty(t, probe.FindExits(insns, false))
	exits := probe.FindExits(insns, true)
	require.Len(t, exits, 1)
	assert.Equal(t, probe.ExitPoint{Index: 3, Op: bytecode.ATHROW, Kind: probe.ExitThrow}, exits[0])
	assert.Equal(t, "throw", exits[0].Kind.String())
}
