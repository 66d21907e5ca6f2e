// ============================================================================
// Beaver-Migrate Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: YAML configuration for the migration node and the destination server
//
// Sections:
//   coordinator  - tick interval, local budget, limits, snapshot cadence
//   migrator     - batch shaping and destination processing budget
//   sender       - destination address, ack timeout, resend policy, breaker
//   destination  - receiver workers and record store (memory or postgres)
//   source       - badger dataset location
//   identity     - address prefix and derived-account witnesses
//   wal/snapshot - durable coordinator state
//   metrics      - Prometheus endpoint
//
// Missing fields keep the values from Default(); Load always validates.
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/budget"
	"github.com/ChuLiYu/beaver-migrate/internal/destination"
	"github.com/ChuLiYu/beaver-migrate/internal/identity"
	"github.com/ChuLiYu/beaver-migrate/internal/transport"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned for configurations that fail validation
var ErrInvalid = errors.New("invalid config")

// Config represents the complete system configuration structure
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Migrator    MigratorConfig    `yaml:"migrator"`
	Sender      SenderConfig      `yaml:"sender"`
	Destination DestinationConfig `yaml:"destination"`
	Source      SourceConfig      `yaml:"source"`
	Identity    IdentityConfig    `yaml:"identity"`
	WAL         WALConfig         `yaml:"wal"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type CoordinatorConfig struct {
	Root              string        `yaml:"root"`
	Manager           string        `yaml:"manager"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	TickBudget        budget.Cost   `yaml:"tick_budget"`
	MaxItemsPerTick   int           `yaml:"max_items_per_tick"`
	MaxBatchesPerTick int           `yaml:"max_batches_per_tick"`
	WarmUp            time.Duration `yaml:"warm_up"`
	CoolOff           time.Duration `yaml:"cool_off"`
	SnapshotEvery     int           `yaml:"snapshot_every"`
	SnapshotBackups   int           `yaml:"snapshot_backups"`
}

type MigratorConfig struct {
	MaxItemsPerBatch int `yaml:"max_items_per_batch"`
	MaxBatchBytes    int `yaml:"max_batch_bytes"`
	// Destination limits before the safety margin is applied
	BatchBudget       budget.Cost         `yaml:"batch_budget"`
	DestinationBudget budget.Cost         `yaml:"destination_budget"`
	SafetyMargin      int                 `yaml:"safety_margin_percent"`
	ItemCost          budget.Cost         `yaml:"item_cost"`
	MessageCost       transport.CostModel `yaml:"message_cost"`
}

type SenderConfig struct {
	Destination string                  `yaml:"destination"`
	Addr        string                  `yaml:"addr"` // empty means an in-process destination
	CallTimeout time.Duration           `yaml:"call_timeout"`
	AckTimeout  time.Duration           `yaml:"ack_timeout"`
	MaxResend   int                     `yaml:"max_resend"`
	ResendRate  float64                 `yaml:"resend_rate"`
	ResendBurst int                     `yaml:"resend_burst"`
	Breaker     transport.BreakerConfig `yaml:"breaker"`
}

type DestinationConfig struct {
	Receiver destination.Config `yaml:"receiver"`
	Listen   string             `yaml:"listen"`
	Postgres string             `yaml:"postgres"` // DSN; empty keeps records in memory
}

type SourceConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

type IdentityConfig struct {
	Prefix    uint16             `yaml:"prefix"`
	Witnesses []identity.Witness `yaml:"witnesses"`
}

type WALConfig struct {
	Path          string        `yaml:"path"`
	SyncOnAppend  bool          `yaml:"sync_on_append"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Archive       bool          `yaml:"archive"`
}

type SnapshotConfig struct {
	Path string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used for every field the file leaves out
func Default() Config {
	batchBudget := budget.Cost{RefTime: 100_000_000_000, ProofSize: 2 * 1024 * 1024}
	messageCost := transport.CostModel{
		PerItem: budget.Cost{RefTime: 50_000_000, ProofSize: 256},
		PerByte: budget.Cost{RefTime: 10_000, ProofSize: 1},
	}
	return Config{
		Coordinator: CoordinatorConfig{
			Root:              "root",
			TickInterval:      time.Second,
			TickBudget:        budget.Cost{RefTime: 500_000_000_000, ProofSize: 5 * 1024 * 1024},
			MaxItemsPerTick:   1000,
			MaxBatchesPerTick: 10,
			WarmUp:            time.Minute,
			CoolOff:           time.Minute,
			SnapshotEvery:     100,
			SnapshotBackups:   3,
		},
		Migrator: MigratorConfig{
			MaxItemsPerBatch:  250,
			MaxBatchBytes:     4 * 1024 * 1024,
			BatchBudget:       batchBudget,
			SafetyMargin:      10,
			ItemCost:          budget.Cost{RefTime: 25_000_000, ProofSize: 128},
			MessageCost:       messageCost,
		},
		Sender: SenderConfig{
			Destination: "destination",
			CallTimeout: 10 * time.Second,
			AckTimeout:  time.Minute,
			MaxResend:   3,
			ResendRate:  10,
			ResendBurst: 5,
			Breaker:     transport.BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
		},
		Destination: DestinationConfig{
			Receiver: destination.Config{
				ID:          "destination",
				Workers:     4,
				QueueSize:   64,
				Timeout:     30 * time.Second,
				BatchBudget: batchBudget,
				Cost:        messageCost,
			},
			Listen:   ":50051",
		},
		Source:   SourceConfig{Dir: "./data/source"},
		Identity: IdentityConfig{Prefix: 42},
		WAL: WALConfig{
			Path:          "./data/wal/coordinator.wal",
			SyncOnAppend:  true,
			BufferSize:    1000,
			FlushInterval: time.Second,
			Archive:       true,
		},
		Snapshot: SnapshotConfig{Path: "./data/snapshots/coordinator.json"},
		Metrics:  MetricsConfig{Enabled: true, Addr: ":9090"},
	}
}

// Load reads path over the defaults and validates the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and required fields
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Coordinator.Root != "", "coordinator.root is required")
	check(c.Coordinator.TickInterval > 0, "coordinator.tick_interval must be positive")
	check(!c.Coordinator.TickBudget.IsZero(), "coordinator.tick_budget must be set")
	check(c.Coordinator.MaxItemsPerTick >= 0, "coordinator.max_items_per_tick must not be negative")
	check(c.Coordinator.MaxBatchesPerTick >= 0, "coordinator.max_batches_per_tick must not be negative")
	check(c.Coordinator.WarmUp >= 0 && c.Coordinator.CoolOff >= 0, "coordinator warm_up and cool_off must not be negative")
	check(c.Migrator.MaxItemsPerBatch > 0, "migrator.max_items_per_batch must be positive")
	check(c.Migrator.MaxBatchBytes >= 0, "migrator.max_batch_bytes must not be negative")
	check(c.Migrator.SafetyMargin >= 0 && c.Migrator.SafetyMargin < 100,
		"migrator.safety_margin_percent must be in [0, 100), got %d", c.Migrator.SafetyMargin)
	check(c.Sender.Destination != "", "sender.destination is required")
	check(c.Sender.MaxResend >= 0, "sender.max_resend must not be negative")
	check(c.Sender.Addr != "" || c.Sender.Destination == c.Destination.Receiver.ID,
		"sender.destination %q must match destination.receiver.id %q for an in-process destination",
		c.Sender.Destination, c.Destination.Receiver.ID)
	check(c.Source.InMemory || c.Source.Dir != "", "source.dir is required")
	check(c.WAL.Path != "", "wal.path is required")
	check(c.Snapshot.Path != "", "snapshot.path is required")
	check(!c.Metrics.Enabled || c.Metrics.Addr != "", "metrics.addr is required when metrics are enabled")

	for i, w := range c.Identity.Witnesses {
		if _, err := identity.ParseAccount(w.Source); err != nil {
			errs = append(errs, fmt.Errorf("identity.witnesses[%d].source: %w", i, err))
		}
		if _, err := identity.ParseAccount(w.Owner); err != nil {
			errs = append(errs, fmt.Errorf("identity.witnesses[%d].owner: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// BatchLimit is the destination per-batch budget after the safety margin
func (c *Config) BatchLimit() budget.Cost {
	return budget.WithMargin(c.Migrator.BatchBudget, c.Migrator.SafetyMargin)
}

// DestinationLimit is the destination per-tick budget after the safety margin
func (c *Config) DestinationLimit() budget.Cost {
	return budget.WithMargin(c.Migrator.DestinationBudget, c.Migrator.SafetyMargin)
}
