package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classprobe/internal/bytecode"
)

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "onCreate", cfg.Target)
	assert.Equal(t, "execute onCreate() use time: ", cfg.TimeLabel())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.False(t, cfg.Unwind)
	assert.False(t, cfg.Strict)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
target: compute
descriptor: (JJ)J
label: "compute took "
unwind: true
log:
  level: debug
  pretty: false
`))
	require.NoError(t, err)
	assert.Equal(t, "compute", cfg.Target)
	assert.Equal(t, "(JJ)J", cfg.Descriptor)
	assert.Equal(t, "compute took ", cfg.TimeLabel())
	assert.True(t, cfg.Unwind)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"empty target", "target: \"\"\n", nil},
		{"bad descriptor", "descriptor: (I\n", bytecode.ErrDescriptor},
		{"bad level", "log:\n  level: loud\n", nil},
		{"unknown key", "targets: x\n", nil},
		{"not yaml", "target: [\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target: run\nstrict: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run", cfg.Target)
	assert.True(t, cfg.Strict)
	assert.Equal(t, "execute run() use time: ", cfg.TimeLabel())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Unwind = true
	data, err := cfg.Marshal()
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestPipelineOptions(t *testing.T) {
	cfg := Default()
	cfg.Descriptor = "(I)I"
	cfg.Unwind = true
	opts := cfg.Pipeline()
	assert.Equal(t, "onCreate", opts.Target)
	assert.Equal(t, "(I)I", opts.Descriptor)
	assert.Equal(t, "execute onCreate() use time: ", opts.Label)
	assert.True(t, opts.Unwind)
	assert.False(t, opts.Strict)

	cfg.Label = "took "
	assert.Equal(t, "took ", cfg.Pipeline().Label)
}
