package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 10000, cfg.Engine.MaxSteps)
	assert.Equal(t, ":memory:", cfg.Journal.Path)
	assert.Equal(t, 10*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 5.0, cfg.Transport.RateLimit)
	assert.Equal(t, int64(0), cfg.Mail.CurrentPartner)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relgraph.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[engine]
max_steps = 500

[transport]
endpoint = "http://localhost:8069"
timeout = "3s"

[mail]
current_partner = 7
`), 0o644))

	t.Setenv("RELGRAPH_ENGINE_MAX_STEPS", "42")
	t.Setenv("RELGRAPH_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Engine.MaxSteps, "env wins over file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://localhost:8069", cfg.Transport.Endpoint)
	assert.Equal(t, 3*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, int64(7), cfg.Mail.CurrentPartner)
}

func TestLoad_DefaultLocation(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, InitConfig(filepath.Join(dir, "relgraph.toml")))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://odoo.example.com", cfg.Transport.Endpoint)
	assert.Equal(t, int64(3), cfg.Mail.CurrentPartner)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad level", map[string]string{"RELGRAPH_LOG_LEVEL": "loud"}},
		{"bad format", map[string]string{"RELGRAPH_LOG_FORMAT": "xml"}},
		{"zero steps", map[string]string{"RELGRAPH_ENGINE_MAX_STEPS": "0"}},
		{"zero burst", map[string]string{"RELGRAPH_TRANSPORT_BURST": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestInitConfig_NoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relgraph.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
