package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classprobe/internal/bytecode"
	"classprobe/internal/classfile"
	"classprobe/internal/dispatch"
	"classprobe/internal/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Sample.class")
	require.NoError(t, os.WriteFile(path, testutil.SampleBytes(t), 0o644))
	return path
}

func TestInstrumentCommand(t *testing.T) {
	in := writeSample(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "Sample.class")
	report := filepath.Join(dir, "report.json")

	_, err := run(t, "instrument", in, "-o", out, "--report", report, "-t", "loop")
	require.NoError(t, err)

	cm, err := classfile.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.Count(cm.Method("loop", "").Code.Insns, bytecode.LSUB))

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var rep struct {
		Input    string `json:"input"`
		Modified bool   `json:"modified"`
		Dispatch struct {
			Matched int `json:"matched"`
			Results []struct {
				Method string `json:"method"`
				Label  string `json:"label"`
			} `json:"results"`
		} `json:"dispatch"`
	}
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, in, rep.Input)
	assert.True(t, rep.Modified)
	assert.Equal(t, 1, rep.Dispatch.Matched)
	require.Len(t, rep.Dispatch.Results, 1)
	assert.Equal(t, "execute loop() use time: ", rep.Dispatch.Results[0].Label)
}

func TestInstrumentConfigFile(t *testing.T) {
	in := writeSample(t)
	dir := t.TempDir()
	conf := filepath.Join(dir, "classprobe.yaml")
	require.NoError(t, os.WriteFile(conf, []byte("target: onCreate\ndescriptor: (I)I\nlabel: \"took \"\n"), 0o644))
	out := filepath.Join(dir, "out.class")

	_, err := run(t, "--config", conf, "instrument", in, "-o", out)
	require.NoError(t, err)

	cm, err := classfile.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.Count(cm.Method("onCreate", "(I)I").Code.Insns, bytecode.LSUB))
	assert.Zero(t, testutil.Count(cm.Method("onCreate", "(Ljava/lang/String;)V").Code.Insns, bytecode.LSUB))
}

func TestInstrumentStrictNoOutput(t *testing.T) {
	in := writeSample(t)
	out := filepath.Join(t.TempDir(), "out.class")
	_, err := run(t, "instrument", in, "-o", out, "-t", "missing", "--strict")
	require.ErrorIs(t, err, dispatch.ErrTargetNotFound)
	_, statErr := os.Stat(out)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestInstrumentRequiresOut(t *testing.T) {
	_, err := run(t, "instrument", writeSample(t))
	assert.Error(t, err)
}

func TestDumpCommand(t *testing.T) {
	in := writeSample(t)
	text, err := run(t, "dump", in)
	require.NoError(t, err)
	assert.Contains(t, text, "class Sample")
	assert.NotContains(t, text, "currentTimeMillis")

	text, err = run(t, "dump", in, "--instrumented")
	require.NoError(t, err)
	assert.Contains(t, text, "java/lang/System.currentTimeMillis")
	assert.Contains(t, text, "execute onCreate() use time: ")
}

func TestCFGCommand(t *testing.T) {
	in := writeSample(t)
	dir := t.TempDir()
	_, err := run(t, "cfg", in, "-o", dir, "--instrumented")
	require.NoError(t, err)

	for _, name := range []string{
		"cfg.dot",
		"callgraph.dot",
		filepath.Join("methods", "onCreate_I_I.dot"),
		filepath.Join("methods", "onCreate_Ljava_lang_String__V.dot"),
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(data), "digraph", name)
	}
}

func TestVersionCommand(t *testing.T) {
	text, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "classprobe dev\n", text)
}

func TestConfigCommand(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "classprobe.yaml")
	require.NoError(t, os.WriteFile(conf, []byte("target: run\nlabel: \"took \"\n"), 0o644))

	text, err := run(t, "--config", conf, "config", "--unwind")
	require.NoError(t, err)
	assert.Contains(t, text, "target: run\n")
	assert.Contains(t, text, "took ")
	assert.Contains(t, text, "unwind: true\n")
	assert.Contains(t, text, "level: error\n")
}

func TestInstrumentLogsComponent(t *testing.T) {
	in := writeSample(t)
	out := filepath.Join(t.TempDir(), "out.class")
	text, err := run(t, "--log-level", "info", "--log-pretty=false", "instrument", in, "-o", out)
	require.NoError(t, err)
	assert.Contains(t, text, `"component":"instrument"`)
	assert.Contains(t, text, `"message":"done"`)
	assert.Contains(t, text, `"message":"wrote class"`)
}

func TestInstrumentCompiledClass(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "Fixture.class")
	require.NoError(t, os.WriteFile(in, testutil.FixtureBytes(t), 0o644))
	out := filepath.Join(dir, "out", "Fixture.class")
	require.NoError(t, os.Mkdir(filepath.Dir(out), 0o755))

	_, err := run(t, "instrument", in, "-o", out, "--unwind")
	require.NoError(t, err)
	cm, err := classfile.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 3, testutil.Count(cm.Method("onCreate", "(I)I").Code.Insns, bytecode.LSUB))
}
