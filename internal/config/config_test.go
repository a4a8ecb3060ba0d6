package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8087", cfg.Server.Addr)
	assert.Equal(t, 2, cfg.Review.Workers)
	assert.Equal(t, 4000, cfg.LLM.MaxTokens)
	assert.Contains(t, cfg.Review.CodeExtensions, ".go")
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "data/lineary.db", cfg.Database.Path)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineary.yaml")
	body := `
server:
  addr: ":9090"
codehost:
  marker_prefix: PROJ
  hosts:
    github:
      app_id: "12345"
      webhook_secret: topsecret
review:
  workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "PROJ", cfg.CodeHost.MarkerPrefix)
	assert.Equal(t, 4, cfg.Review.Workers)
	assert.Equal(t, "topsecret", cfg.CodeHost.Hosts["github"].WebhookSecret)
	// Untouched sections keep defaults.
	assert.Equal(t, 10, cfg.Review.MaxFiles)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LINEARY_ADDR", ":7001")
	t.Setenv("LINEARY_LOG_LEVEL", "debug")
	t.Setenv("LINEARY_WEBHOOK_SECRET_GITHUB", "envsecret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7001", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "envsecret", cfg.CodeHost.Hosts["github"].WebhookSecret)
}

func TestValidateRejectsBadLevel(t *testing.T) {
	t.Setenv("LINEARY_LOG_LEVEL", "loud")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}
