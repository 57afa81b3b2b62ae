package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteClass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Out.class")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	require.NoError(t, WriteClass(path, []byte{0xca, 0xfe, 0xba, 0xbe}))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe, 0xba, 0xbe}, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestWriteClassMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "Out.class")
	err := WriteClass(path, []byte{1})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestWriteReportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	in := map[string]any{"class": "Sample", "matched": 2}
	require.NoError(t, WriteReportJSON(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "Sample", out["class"])
	assert.Equal(t, float64(2), out["matched"])

	assert.Error(t, WriteReportJSON(path, func() {}))
}

func TestWriteDOT(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	path, err := WriteDOT(dir, "Sample.<init>()V", "digraph {}\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Sample.init__V.dot"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "digraph {}\n", string(data))
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"onCreate(I)I":                 "onCreate_I_I",
		"onCreate(Ljava/lang/String;)V": "onCreate_Ljava_lang_String__V",
		"<clinit>":                     "clinit",
		"":                             "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, FileName(in), in)
	}
}
