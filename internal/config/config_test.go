package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadJSONWithEnv(t *testing.T) {
	t.Setenv("MIND_PG_DSN", "postgres://u:p@db/mind")
	t.Setenv("EVAL_URL", "")
	p := writeFile(t, "mind.json", `{
		"server": {"port": 9090},
		"engine": {"workers": 8, "dma_timeout": "5s", "poll_interval": 250000000},
		"evaluator": {"url": "${EVAL_URL:http://localhost:7000}"},
		"deferral": {"channel": "slack:CWA"},
		"database": {"postgres": {"dsn": "${MIND_PG_DSN}"}}
	}`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 5*time.Second, cfg.Engine.DMATimeout.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.PollInterval.Duration)
	assert.Equal(t, 3, cfg.Engine.DMARetryLimit)
	assert.Equal(t, 7, cfg.Engine.MaxThoughtDepth)
	assert.Equal(t, "http://localhost:7000", cfg.Evaluator.URL)
	assert.Equal(t, "postgres://u:p@db/mind", cfg.Database.Postgres.DSN)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "mind.yaml", `
engine:
  cycle_retry_limit: 4
  shutdown_timeout: 1m
conscience:
  entropy_threshold: 0.25
evaluator:
  url: http://eval
mcp:
  servers:
    - name: search
      url: http://mcp/sse
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.CycleRetryLimit)
	assert.Equal(t, time.Minute, cfg.Engine.ShutdownTimeout.Duration)
	assert.InDelta(t, 0.25, cfg.Conscience.EntropyThreshold, 1e-9)
	assert.InDelta(t, 0.60, cfg.Conscience.CoherenceThreshold, 1e-9)
	require.Len(t, cfg.MCP.Servers, 1)
	assert.Equal(t, "search", cfg.MCP.Servers[0].Name)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.json", `{"engine": {"dma_timeout": "soon"}}`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "evaluator url is required")

	cfg.Evaluator.URL = "http://eval"
	cfg.Deferral.Channel = "CWA"
	assert.Error(t, cfg.Validate())

	cfg.Deferral.Channel = "slack:CWA"
	cfg.Gateway.Discord.Enabled = true
	assert.Error(t, cfg.Validate())
}
