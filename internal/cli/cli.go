// ============================================================================
// Beaver-Migrate CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the migration node and its administration
//
// Command Structure:
//   beaver-migrate                  # Root command
//   ├── run                         # Drive the migration until Done
//   ├── serve-destination           # Serve the destination gRPC endpoint
//   ├── import                      # Load source tables from a JSON file
//   ├── schedule                    # Pending -> Scheduled
//   ├── set-phase                   # Force a phase (may go backwards)
//   ├── set-limits                  # Per-tick item and batch ceilings
//   ├── set-manager                 # Grant or revoke the manager identity (root only)
//   ├── resend                      # Resend a tracked batch, dead ones included
//   ├── status                      # Phase, settings and outbound counts
//   ├── precheck                    # Record source and destination content
//   ├── verify                      # Compare against a precheck file
//   ├── translate                   # Map a source account to destination addressing
//   └── inspect-wal                 # WAL statistics, validation and dump
//
// Configuration:
//   YAML file (default: configs/default.yaml), see internal/config.
//
// Administration:
//   Admin commands open the same WAL and snapshot as `run`, apply one
//   change and write a fresh snapshot. Run them while the node is stopped;
//   `run` picks the change up through normal recovery.
//
// Signal Handling:
//   run and serve-destination stop on SIGINT/SIGTERM, write a final
//   snapshot and close every resource.
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/checker"
	"github.com/ChuLiYu/beaver-migrate/internal/config"
	"github.com/ChuLiYu/beaver-migrate/internal/destination"
	"github.com/ChuLiYu/beaver-migrate/internal/identity"
	"github.com/ChuLiYu/beaver-migrate/internal/metrics"
	"github.com/ChuLiYu/beaver-migrate/internal/server"
	"github.com/ChuLiYu/beaver-migrate/internal/source"
	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beaver-migrate",
		Short: "Beaver-Migrate: a resumable bulk data migration engine",
		Long: `Beaver-Migrate moves domain records from a source dataset to a destination with:
- Budgeted, batched per-tick migration
- WAL and snapshot based crash recovery
- Tracked outbound batches with resend and dead letters
- Pre/post migration consistency checks`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildServeDestinationCommand())
	rootCmd.AddCommand(buildImportCommand())
	rootCmd.AddCommand(buildScheduleCommand())
	rootCmd.AddCommand(buildSetPhaseCommand())
	rootCmd.AddCommand(buildSetLimitsCommand())
	rootCmd.AddCommand(buildSetManagerCommand())
	rootCmd.AddCommand(buildResendCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildPrecheckCommand())
	rootCmd.AddCommand(buildVerifyCommand())
	rootCmd.AddCommand(buildTranslateCommand())
	rootCmd.AddCommand(buildInspectWALCommand())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ============================================================================
// run / serve-destination
// ============================================================================

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the migration node",
		Long:  "Recover coordinator state and tick until the migration reaches Done or a signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode()
		},
	}
}

func runNode() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Printf("Starting Beaver-Migrate with config: %s\n", configFile)

	n, err := openNode(cfg)
	if err != nil {
		return err
	}
	stopMetrics := startMetrics(cfg, n.registry)
	defer stopMetrics()

	ctx, cancel := signalContext()
	defer cancel()

	runner := n.runner()
	last := types.PhaseKind("")
	runner.OnTick(func(p types.Phase) {
		if p.Kind != last {
			log.Printf("Phase: %s\n", p)
			last = p.Kind
		}
	})

	log.Println("System started successfully")
	runErr := runner.Run(ctx)
	if ctx.Err() != nil {
		log.Println("Received shutdown signal, stopping gracefully...")
	}

	if err := n.close(); err != nil {
		log.Printf("Shutdown error: %v\n", err)
	}
	log.Println("System stopped. Goodbye!")
	return runErr
}

func buildServeDestinationCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve-destination",
		Short: "Start the destination gRPC server",
		Long:  "Apply incoming batches to the configured record store (Postgres or memory) and serve acknowledgements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveDestination(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides destination.listen)")
	return cmd
}

func serveDestination(listen string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.Destination.Listen
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	recv := destination.NewReceiver(cfg.Destination.Receiver, store, metrics.NewCollector(reg))
	if err := recv.Start(); err != nil {
		return err
	}
	defer recv.Stop()

	stopMetrics := startMetrics(cfg, reg)
	defer stopMetrics()

	ctx, cancel := signalContext()
	defer cancel()

	log.Printf("Destination %s listening on %s\n", cfg.Destination.Receiver.ID, listen)
	return server.Serve(ctx, listen, server.NewServer(recv))
}

// ============================================================================
// import
// ============================================================================

func buildImportCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import source records from a JSON file",
		Long: `Load records into the source dataset. The file maps table names to keyed records:
  {
    "accounts": {"<address>": {"free": 100, "reserved": 0}},
    "vesting":  {"<address>": {"schedules": [{"locked": 50, "per_block": 1}]}}
  }`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return importSource(file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with source tables")
	cmd.MarkFlagRequired("file")
	return cmd
}

func importSource(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}
	var tables map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &tables); err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := source.OpenBadger(source.BadgerConfig{Dir: cfg.Source.Dir, InMemory: cfg.Source.InMemory})
	if err != nil {
		return err
	}
	defer src.Close()

	n, err := importTables(src, tables)
	if err != nil {
		return err
	}
	log.Printf("Imported %d records from %s\n", n, path)
	return nil
}

func importTables(src source.Dataset, tables map[string]map[string]json.RawMessage) (int, error) {
	known := map[string]bool{}
	for _, t := range source.Tables {
		known[t] = true
	}

	total := 0
	for table, records := range tables {
		if !known[table] {
			return total, fmt.Errorf("unknown table %q", table)
		}
		for key, raw := range records {
			if err := src.Put(table, key, raw); err != nil {
				return total, fmt.Errorf("failed to import %s/%s: %w", table, key, err)
			}
			total++
		}
	}
	return total, nil
}

// ============================================================================
// Administration
// ============================================================================

// caller returns the identity used for admin calls; root when unset
func caller(n *node, as string) string {
	if as != "" {
		return as
	}
	return n.cfg.Coordinator.Root
}

func buildScheduleCommand() *cobra.Command {
	var (
		startAt string
		in      time.Duration
		warmUp  time.Duration
		coolOff time.Duration
		as      string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule the migration start",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseStart(startAt, in, time.Now())
			if err != nil {
				return err
			}
			return withNode(func(n *node) error {
				if !cmd.Flags().Changed("warm-up") {
					warmUp = n.cfg.Coordinator.WarmUp
				}
				if !cmd.Flags().Changed("cool-off") {
					coolOff = n.cfg.Coordinator.CoolOff
				}
				if err := n.coord.Schedule(caller(n, as), start, warmUp, coolOff); err != nil {
					return err
				}
				log.Printf("Migration scheduled for %s\n", start.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&startAt, "start", "", "start time (RFC3339)")
	cmd.Flags().DurationVar(&in, "in", 0, "start after this delay instead of --start")
	cmd.Flags().DurationVar(&warmUp, "warm-up", 0, "warm-up period (default from config)")
	cmd.Flags().DurationVar(&coolOff, "cool-off", 0, "cool-off period (default from config)")
	cmd.Flags().StringVar(&as, "as", "", "caller identity (default: root)")
	return cmd
}

func parseStart(startAt string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case startAt != "" && in != 0:
		return time.Time{}, fmt.Errorf("use either --start or --in, not both")
	case startAt != "":
		t, err := time.Parse(time.RFC3339, startAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
		return t, nil
	case in < 0:
		return time.Time{}, fmt.Errorf("--in must not be negative")
	default:
		return now.Add(in), nil
	}
}

func buildSetPhaseCommand() *cobra.Command {
	var (
		at     string
		domain string
		as     string
	)
	cmd := &cobra.Command{
		Use:   "set-phase <pending|scheduled|warm_up|data_migration_ongoing|cool_off|done>",
		Short: "Force the migration phase",
		Long:  "Force a phase, overriding the forward-only order. --at sets the start or end time, --domain the ongoing domain.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := parsePhase(args[0], at, domain, time.Now())
			if err != nil {
				return err
			}
			return withNode(func(n *node) error {
				if err := n.coord.ForcePhase(caller(n, as), phase); err != nil {
					return err
				}
				log.Printf("Phase forced to %s\n", phase)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "start (scheduled) or end (warm_up, cool_off) time in RFC3339, default now")
	cmd.Flags().StringVar(&domain, "domain", string(types.Domains[0]), "domain for data_migration_ongoing")
	cmd.Flags().StringVar(&as, "as", "", "caller identity (default: root)")
	return cmd
}

func parsePhase(kind, at, domain string, now time.Time) (types.Phase, error) {
	when := now
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return types.Phase{}, fmt.Errorf("invalid --at: %w", err)
		}
		when = t
	}

	switch types.PhaseKind(kind) {
	case types.PhasePending:
		return types.Pending(), nil
	case types.PhaseScheduled:
		return types.Scheduled(when), nil
	case types.PhaseWarmUp:
		return types.WarmUp(when), nil
	case types.PhaseOngoing:
		for i, d := range types.Domains {
			if string(d) == domain {
				return types.Ongoing(i, nil), nil
			}
		}
		return types.Phase{}, fmt.Errorf("unknown domain %q", domain)
	case types.PhaseCoolOff:
		return types.CoolOff(when), nil
	case types.PhaseDone:
		return types.Done(), nil
	}
	return types.Phase{}, fmt.Errorf("unknown phase %q", kind)
}

func buildSetLimitsCommand() *cobra.Command {
	var (
		maxItems   int
		maxBatches int
		as         string
	)
	cmd := &cobra.Command{
		Use:   "set-limits",
		Short: "Set per-tick item and batch limits (0 = unlimited)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(func(n *node) error {
				if err := n.coord.SetLimits(caller(n, as), maxItems, maxBatches); err != nil {
					return err
				}
				log.Printf("Limits set: %d items, %d batches per tick\n", maxItems, maxBatches)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "max items per tick")
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "max batches per tick")
	cmd.Flags().StringVar(&as, "as", "", "caller identity (default: root)")
	return cmd
}

func buildSetManagerCommand() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "set-manager <identity>",
		Short: "Set the manager identity (root only, empty string revokes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(func(n *node) error {
				if err := n.coord.SetManager(caller(n, as), args[0]); err != nil {
					return err
				}
				log.Printf("Manager set to %q\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "caller identity (default: root)")
	return cmd
}

func buildResendCommand() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "resend <ticket>",
		Short: "Resend a tracked outbound batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(func(n *node) error {
				next, err := n.coord.Resend(cmd.Context(), caller(n, as), types.Ticket(args[0]))
				if err != nil {
					return err
				}
				fmt.Println(next)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "caller identity (default: root)")
	return cmd
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Long:  "Display phase, settings and outbound batch statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(func(n *node) error {
				return showStatus(n, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func showStatus(n *node, asJSON bool) error {
	st := n.coord.Status()
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║           Beaver-Migrate Status                           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("📋 Migration:")
	fmt.Printf("  ├─ Phase:           %s\n", st.Phase)
	fmt.Printf("  ├─ Max Items/Tick:  %d\n", st.Settings.MaxItemsPerTick)
	fmt.Printf("  ├─ Max Batches/Tick:%d\n", st.Settings.MaxBatchesPerTick)
	fmt.Printf("  ├─ Warm-up:         %s\n", st.Settings.WarmUp)
	fmt.Printf("  ├─ Cool-off:        %s\n", st.Settings.CoolOff)
	fmt.Printf("  └─ Manager:         %s\n", orNone(st.Settings.Manager))
	fmt.Println()

	fmt.Println("📦 Outbound Batches:")
	fmt.Printf("  ├─ 🔄 In-Flight:    %d\n", st.Outbound.InFlight)
	fmt.Printf("  ├─ ⏳ Unsent:       %d\n", st.Outbound.Unsent)
	fmt.Printf("  └─ ❌ Dead:         %d\n", st.Outbound.Dead)
	fmt.Println()

	fmt.Println("💾 Storage:")
	fmt.Printf("  ├─ WAL:             %s (last seq %d)\n", n.cfg.WAL.Path, st.LastSeq)
	fmt.Printf("  └─ Snapshot:        %s\n", n.cfg.Snapshot.Path)
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// ============================================================================
// precheck / verify
// ============================================================================

// checkFile is the precheck output consumed by verify
type checkFile struct {
	Source      checker.Snapshot            `json:"source"`
	Destination checker.DestinationSnapshot `json:"destination"`
}

func buildPrecheckCommand() *cobra.Command {
	var (
		out     string
		domains []string
	)
	cmd := &cobra.Command{
		Use:   "precheck",
		Short: "Record source and destination content before migrating",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := parseDomains(domains)
			if err != nil {
				return err
			}
			return withNode(func(n *node) error {
				return withStore(n, func(store destination.Store) error {
					return precheck(cmd.Context(), n, store, ds, out)
				})
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "precheck.json", "output file")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "domains to check (default: all)")
	return cmd
}

func precheck(ctx context.Context, n *node, store destination.Store, domains []types.DomainID, out string) error {
	pre, err := checker.PreCheck(ctx, n.set, domains...)
	if err != nil {
		return err
	}
	preDst, err := checker.PreDestination(ctx, store, pre)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(checkFile{Source: pre, Destination: preDst}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("failed to write precheck file: %w", err)
	}

	for _, d := range types.Domains {
		if st, ok := pre.Domains[d]; ok {
			log.Printf("%-10s records=%d total=%d rejected=%d\n", d, len(st.Records), st.Total, st.Rejected)
		}
	}
	log.Printf("Precheck written to %s\n", out)
	return nil
}

func buildVerifyCommand() *cobra.Command {
	var pre string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the migration against a precheck file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNode(func(n *node) error {
				return withStore(n, func(store destination.Store) error {
					return verify(cmd.Context(), n.source, store, pre)
				})
			})
		},
	}
	cmd.Flags().StringVar(&pre, "pre", "precheck.json", "precheck file")
	return cmd
}

func verify(ctx context.Context, src source.Dataset, store destination.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read precheck file: %w", err)
	}
	var cf checkFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse precheck file: %w", err)
	}

	if err := checker.PostCheck(ctx, store, cf.Source, cf.Destination); err != nil {
		return err
	}
	if err := checker.PostSource(src, cf.Source); err != nil {
		return err
	}
	log.Println("Migration verified: destination and source are consistent")
	return nil
}

// withStore hands fn the node's destination store, opening the configured
// one when the destination is remote.
func withStore(n *node, fn func(destination.Store) error) error {
	if n.store != nil {
		return fn(n.store)
	}
	store, err := openStore(n.cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func parseDomains(names []string) ([]types.DomainID, error) {
	var out []types.DomainID
	for _, name := range names {
		found := false
		for _, d := range types.Domains {
			if string(d) == name {
				out = append(out, d)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown domain %q", name)
		}
	}
	return out, nil
}

// ============================================================================
// translate
// ============================================================================

func buildTranslateCommand() *cobra.Command {
	var (
		owner string
		path  string
	)
	cmd := &cobra.Command{
		Use:   "translate <account>",
		Short: "Translate a source account to destination addressing",
		Long: `Map an account the way the migrator does. With --owner and --path the account is
checked as derived from owner along path and translated accordingly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := translate(cfg, args[0], owner, path)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner account of a derived account")
	cmd.Flags().StringVar(&path, "path", "", "comma separated derivation indices, e.g. 0,3")
	return cmd
}

func translate(cfg *config.Config, account, owner, path string) (string, error) {
	witnesses := cfg.Identity.Witnesses
	if owner != "" {
		indices, err := parsePath(path)
		if err != nil {
			return "", err
		}
		witnesses = append(witnesses[:len(witnesses):len(witnesses)],
			identity.Witness{Source: account, Owner: owner, Path: indices})
	}
	mapper, err := identity.NewMapper(cfg.Identity.Prefix, witnesses)
	if err != nil {
		return "", err
	}
	return mapper.MapAddress(account)
}

func parsePath(s string) ([]uint16, error) {
	if s == "" {
		return nil, fmt.Errorf("--path is required with --owner")
	}
	var out []uint16
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid path index %q: %w", part, err)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}

// ============================================================================
// inspect-wal
// ============================================================================

func buildInspectWALCommand() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "inspect-wal",
		Short: "Show WAL statistics and validate checksums",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return inspectWAL(cfg.WAL.Path, dump)
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "print every event")
	return cmd
}

func inspectWAL(path string, dump bool) error {
	if strings.HasSuffix(path, ".zst") {
		tmp, err := os.CreateTemp("", "wal-archive-*.log")
		if err != nil {
			return err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := wal.ExtractArchive(path, tmp.Name()); err != nil {
			return fmt.Errorf("failed to extract archive %s: %w", path, err)
		}
		log.Printf("Extracted archive %s", path)
		path = tmp.Name()
	}

	if err := wal.ValidateWAL(path); err != nil {
		return fmt.Errorf("WAL %s is invalid: %w", path, err)
	}
	stats, err := wal.GetStats(path)
	if err != nil {
		return err
	}

	fmt.Printf("WAL:     %s\n", path)
	fmt.Printf("Events:  %d (seq %d..%d)\n", stats.TotalEvents, stats.FirstSeq, stats.LastSeq)
	kinds := make([]string, 0, len(stats.EventTypes))
	for t := range stats.EventTypes {
		kinds = append(kinds, string(t))
	}
	sort.Strings(kinds)
	for _, t := range kinds {
		fmt.Printf("  %-20s %d\n", t, stats.EventTypes[wal.EventType(t)])
	}

	if dump {
		return wal.DumpWAL(path, os.Stdout)
	}
	return nil
}
