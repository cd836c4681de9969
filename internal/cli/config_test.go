package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relgraph/internal/config"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relgraph.toml")

	out, err := execute(t, NewConfigCommand(testOptions(t, "text")), "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Sample, string(data))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.Mail.CurrentPartner)
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relgraph.toml")
	require.NoError(t, os.WriteFile(path, []byte("# mine\n"), 0o644))

	out, err := execute(t, NewConfigCommand(testOptions(t, "json")), "init", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, out, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeWriteFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "already exists")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# mine\n", string(data))
}
