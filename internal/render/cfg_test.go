package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classprobe/internal/cfg"
	"classprobe/internal/testutil"
)

func TestCFGDOT(t *testing.T) {
	cm := testutil.Sample(t)
	f, err := cfg.Build(cm, cm.Method("onCreate", "(I)I"))
	require.NoError(t, err)

	dot := CFGDOT(f, NASA, func(in cfg.Inst) bool { return in.Offset == 8 })
	assert.True(t, strings.HasPrefix(dot, "digraph cfg {\n"))
	assert.Contains(t, dot, "onCreate(I)I")
	assert.Contains(t, dot, "bb0 -> bb2")
	assert.Contains(t, dot, ">T</font>")
	assert.Contains(t, dot, ">F</font>")
	assert.Contains(t, dot, `<font color="#E65100">8: iconst_0</font>`)
	assert.Equal(t, 3, strings.Count(dot, "[label=<"))
}

func TestCFGDOTSwitchAndHandler(t *testing.T) {
	cm := testutil.Sample(t)
	pick, err := cfg.Build(cm, cm.Method("pick", ""))
	require.NoError(t, err)
	assert.Contains(t, CFGDOT(pick, NASA, nil), ">default</font>")

	safe, err := cfg.Build(cm, cm.Method("safe", ""))
	require.NoError(t, err)
	assert.Contains(t, CFGDOT(safe, NASA, nil), "style=dashed")
}

func TestCFGDOTEmpty(t *testing.T) {
	assert.Empty(t, CFGDOT(cfg.FuncCFG{Name: "x"}, NASA, nil))
}

func TestDotEscape(t *testing.T) {
	assert.Equal(t, "&lt;init&gt; &amp; &quot;x&quot;", dotEscape(`<init> & "x"`))
	assert.Equal(t, "abc...", truncLabel("abcdefghij", 6))
	assert.Equal(t, "abc", truncLabel("abc", 6))
}
