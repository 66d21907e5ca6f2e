package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/budget"
	"github.com/ChuLiYu/beaver-migrate/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cfg, *loaded)
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	owner := identity.FormatSS58(identity.AccountID{1}, 42)
	src := identity.FormatSS58(identity.AccountID{2}, 42)

	path := writeConfig(t, `
coordinator:
  tick_interval: 250ms
  max_items_per_tick: 10
sender:
  destination: asset-hub
  addr: localhost:50051
migrator:
  batch_budget: {ref_time: 1000, proof_size: 200}
  safety_margin_percent: 20
identity:
  witnesses:
    - source: `+src+`
      owner: `+owner+`
      path: [1, 2]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Coordinator.TickInterval)
	assert.Equal(t, 10, cfg.Coordinator.MaxItemsPerTick)
	assert.Equal(t, 10, cfg.Coordinator.MaxBatchesPerTick, "untouched fields keep defaults")
	assert.Equal(t, "asset-hub", cfg.Sender.Destination)
	assert.Equal(t, budget.Cost{RefTime: 800, ProofSize: 160}, cfg.BatchLimit())
	assert.True(t, cfg.DestinationLimit().IsZero())

	require.Len(t, cfg.Identity.Witnesses, 1)
	assert.Equal(t, []uint16{1, 2}, cfg.Identity.Witnesses[0].Path)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "coordinator: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config YAML")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing root", func(c *Config) { c.Coordinator.Root = "" }, "coordinator.root"},
		{"zero interval", func(c *Config) { c.Coordinator.TickInterval = 0 }, "tick_interval"},
		{"zero tick budget", func(c *Config) { c.Coordinator.TickBudget = budget.Cost{} }, "tick_budget"},
		{"margin too large", func(c *Config) { c.Migrator.SafetyMargin = 100 }, "safety_margin_percent"},
		{"empty batch", func(c *Config) { c.Migrator.MaxItemsPerBatch = 0 }, "max_items_per_batch"},
		{"local destination mismatch", func(c *Config) { c.Sender.Destination = "elsewhere" }, "must match"},
		{"missing wal", func(c *Config) { c.WAL.Path = "" }, "wal.path"},
		{"metrics without addr", func(c *Config) { c.Metrics.Addr = "" }, "metrics.addr"},
		{"bad witness", func(c *Config) {
			c.Identity.Witnesses = []identity.Witness{{Source: "nope", Owner: "nope"}}
		}, "witnesses[0].source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRemoteDestinationMayDifferFromLocalID(t *testing.T) {
	cfg := Default()
	cfg.Sender.Destination = "asset-hub"
	cfg.Sender.Addr = "localhost:50051"
	assert.NoError(t, cfg.Validate())
}
