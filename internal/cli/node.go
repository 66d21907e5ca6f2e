package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/config"
	"github.com/ChuLiYu/beaver-migrate/internal/coordinator"
	"github.com/ChuLiYu/beaver-migrate/internal/destination"
	"github.com/ChuLiYu/beaver-migrate/internal/identity"
	"github.com/ChuLiYu/beaver-migrate/internal/metrics"
	"github.com/ChuLiYu/beaver-migrate/internal/migrator"
	"github.com/ChuLiYu/beaver-migrate/internal/outbound"
	"github.com/ChuLiYu/beaver-migrate/internal/snapshot"
	"github.com/ChuLiYu/beaver-migrate/internal/source"
	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/internal/transport"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// deliverer is what the sender and the runner need from a destination link
type deliverer interface {
	transport.Deliverer
	transport.AckSource
}

// node is one migration process: source, coordinator, sender and, when no
// remote address is configured, an in-process destination.
type node struct {
	cfg       *config.Config
	registry  *prometheus.Registry
	metrics   *metrics.Collector
	source    source.Dataset
	store     destination.Store
	receiver  *destination.Receiver
	deliverer deliverer
	sender    *transport.Sender
	set       *migrator.Set
	coord     *coordinator.Coordinator
	closers   []func() error
}

// openNode wires every component and runs crash recovery
func openNode(cfg *config.Config) (n *node, err error) {
	n = &node{cfg: cfg, registry: prometheus.NewRegistry()}
	n.metrics = metrics.NewCollector(n.registry)
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	src, err := source.OpenBadger(source.BadgerConfig{Dir: cfg.Source.Dir, InMemory: cfg.Source.InMemory})
	if err != nil {
		return nil, err
	}
	n.source = src
	n.closers = append(n.closers, src.Close)

	if cfg.Sender.Addr != "" {
		d, err := transport.DialGRPC(cfg.Sender.Addr, cfg.Sender.CallTimeout, cfg.Sender.Breaker)
		if err != nil {
			return nil, err
		}
		n.deliverer = d
		n.closers = append(n.closers, d.Close)
		log.Printf("Delivering to %s at %s\n", cfg.Sender.Destination, cfg.Sender.Addr)
	} else {
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		n.store = store
		n.closers = append(n.closers, store.Close)

		n.receiver = destination.NewReceiver(cfg.Destination.Receiver, store, n.metrics)
		if err := n.receiver.Start(); err != nil {
			return nil, err
		}
		n.closers = append(n.closers, func() error { n.receiver.Stop(); return nil })
		n.deliverer = transport.NewLocalDeliverer(n.receiver)
		log.Printf("Delivering to in-process destination %s\n", cfg.Destination.Receiver.ID)
	}

	w, err := openWAL(cfg)
	if err != nil {
		return nil, err
	}

	n.sender = transport.NewSender(transport.SenderConfig{
		Destination: cfg.Sender.Destination,
		AckTimeout:  cfg.Sender.AckTimeout,
		MaxResend:   cfg.Sender.MaxResend,
		ResendRate:  cfg.Sender.ResendRate,
		ResendBurst: cfg.Sender.ResendBurst,
	}, n.deliverer, outbound.NewTracker(), w)

	mapper, err := identity.NewMapper(cfg.Identity.Prefix, cfg.Identity.Witnesses)
	if err != nil {
		w.Close()
		return nil, err
	}

	n.set = migrator.NewSet(migrator.Config{
		MaxItemsPerBatch:  cfg.Migrator.MaxItemsPerBatch,
		MaxBatchBytes:     cfg.Migrator.MaxBatchBytes,
		BatchBudget:       cfg.BatchLimit(),
		DestinationBudget: cfg.DestinationLimit(),
		ItemCost:          cfg.Migrator.ItemCost,
		MessageCost:       cfg.Migrator.MessageCost,
	}, n.source, mapper, n.sender)

	n.coord = coordinator.New(coordinator.Config{
		Root:       cfg.Coordinator.Root,
		TickBudget: cfg.Coordinator.TickBudget,
		Defaults: types.Settings{
			MaxItemsPerTick:   cfg.Coordinator.MaxItemsPerTick,
			MaxBatchesPerTick: cfg.Coordinator.MaxBatchesPerTick,
			Manager:           cfg.Coordinator.Manager,
			WarmUp:            cfg.Coordinator.WarmUp,
			CoolOff:           cfg.Coordinator.CoolOff,
		},
		SnapshotEvery:   cfg.Coordinator.SnapshotEvery,
		SnapshotBackups: cfg.Coordinator.SnapshotBackups,
	}, coordinator.Deps{
		WAL:       w,
		Snapshots: snapshot.NewManager(cfg.Snapshot.Path),
		Migrators: n.set,
		Sender:    n.sender,
		Metrics:   n.metrics,
	})
	if err := n.coord.Start(); err != nil {
		n.coord.Stop()
		return nil, fmt.Errorf("failed to start coordinator: %w", err)
	}

	// The coordinator owns the WAL from here on and closes it in Stop.
	n.closers = append(n.closers, n.coord.Stop)
	return n, nil
}

func (n *node) runner() *coordinator.Runner {
	return coordinator.NewRunner(n.coord, n.deliverer, nil, n.cfg.Coordinator.TickInterval)
}

// close releases components in reverse order of opening
func (n *node) close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}

// withNode opens a node, runs fn and always closes the node afterwards
func withNode(fn func(*node) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	return errors.Join(fn(n), n.close())
}

func openWAL(cfg *config.Config) (*wal.WAL, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.WAL.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Snapshot.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return wal.Open(cfg.WAL.Path, wal.Options{
		SyncOnAppend:  cfg.WAL.SyncOnAppend,
		BufferSize:    cfg.WAL.BufferSize,
		FlushInterval: cfg.WAL.FlushInterval,
		Archive:       cfg.WAL.Archive,
	})
}

// openStore returns the Postgres record store when a DSN is configured
func openStore(cfg *config.Config) (destination.Store, error) {
	if cfg.Destination.Postgres == "" {
		return destination.NewMemoryStore(), nil
	}
	store, err := destination.NewPostgresStore(cfg.Destination.Postgres)
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// startMetrics serves the registry when metrics are enabled; the returned
// function shuts the server down.
func startMetrics(cfg *config.Config, reg *prometheus.Registry) func() {
	if !cfg.Metrics.Enabled {
		return func() {}
	}
	srv := metrics.StartServer(cfg.Metrics.Addr, reg)
	log.Printf("Metrics available on http://%s/metrics\n", cfg.Metrics.Addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server shutdown error: %v\n", err)
		}
	}
}
