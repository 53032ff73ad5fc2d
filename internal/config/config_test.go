package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ZENDESK_ZENDESK_EMAIL", "ops@example.com")
	t.Setenv("ZENDESK_ZENDESK_PASSWORD", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "ops@example.com", cfg.Zendesk.Email)
	require.Equal(t, "hunter2", cfg.Zendesk.Password)
	require.Equal(t, "https://nttsh.zendesk.com", cfg.Zendesk.BaseURL)
	require.Equal(t, "en-001", cfg.Zendesk.Language)
	require.Equal(t, "data", cfg.Export.OutputDir)
	require.Equal(t, 128, cfg.Bus.Capacity)
	require.Equal(t, 0, cfg.Server.Port)
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("ZENDESK_ZENDESK_EMAIL", "")
	t.Setenv("ZENDESK_ZENDESK_PASSWORD", "")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "zendesk.email")
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("ZENDESK_ZENDESK_EMAIL", "")
	t.Setenv("ZENDESK_ZENDESK_PASSWORD", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	payload := []byte(`
zendesk:
  base_url: https://help.example.com
  language: en-us
  email: ops@example.com
  password: hunter2
export:
  output_dir: /tmp/export
  max_pages: 50
bus:
  capacity: 256
server:
  port: 9090
logging:
  development: true
`)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://help.example.com", cfg.Zendesk.BaseURL)
	require.Equal(t, "en-us", cfg.Zendesk.Language)
	require.Equal(t, 50, cfg.Export.MaxPages)
	require.Equal(t, 256, cfg.Bus.Capacity)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
}

func TestValidateRejectsSmallBus(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Zendesk: ZendeskConfig{BaseURL: "u", Language: "l", Email: "e", Password: "p"},
		Export:  ExportConfig{OutputDir: "d", MaxPages: 10},
		Bus:     BusConfig{Capacity: 10},
		HTTP:    HTTPConfig{TimeoutSeconds: 5},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "bus.capacity")
}
