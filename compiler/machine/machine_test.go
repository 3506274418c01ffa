package machine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	c := Default()

	require.NoError(t, c.Validate())

	assert.Equal(t, 8, c.VLen)
	assert.Equal(t, Limits{6, 12, 2, 2, 1}, c.Slots)
	assert.Equal(t, "valu", VALU.String())
	assert.Equal(t, "flow", Flow.String())
}

func TestParsePartial(t *testing.T) {
	c, err := Parse([]byte(`
vlen: 4
slots:
  alu: 3
  flow: 2
`))
	require.NoError(t, err)

	assert.Equal(t, 4, c.VLen)
	assert.Equal(t, 1536, c.ScratchSize)
	assert.Equal(t, Limits{VALU: 6, ALU: 3, Load: 2, Store: 2, Flow: 2}, c.Slots)
}

func TestLoadFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "machine.yaml")

	err := os.WriteFile(name, []byte("scratch_size: 512\n"), 0o644)
	require.NoError(t, err)

	c, err := LoadFile(name)
	require.NoError(t, err)

	assert.Equal(t, 512, c.ScratchSize)
	assert.Equal(t, Default().Slots, c.Slots)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("slots:\n  fpu: 1\n"))
	assert.ErrorIs(t, err, ErrUnknownEngine)

	_, err = Parse([]byte("slots:\n  alu: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("vlen: -1\n"))
	assert.Error(t, err)
}

func TestLimitsRoundTrip(t *testing.T) {
	data, err := yaml.Marshal(Default())
	require.NoError(t, err)

	c, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, Default(), c)
}
