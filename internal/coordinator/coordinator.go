// ============================================================================
// Beaver-Migrate 協調器 - 遷移階段狀態機
// ============================================================================
//
// Package: internal/coordinator
// 文件: coordinator.go
// 功能: 持有唯一的階段狀態，每個 tick 依序驅動各領域遷移器，並負責持久化與恢復
//
// 狀態轉換:
//   Pending --(Schedule, start>=now)--> Scheduled{start}
//   Scheduled --(tick>=start)--> WarmUp{end}
//   WarmUp --(tick>=end)--> DataMigrationOngoing{domain, cursor}
//   DataMigrationOngoing --(所有領域排空)--> CoolOff{end}
//   CoolOff --(tick>=end)--> Done（終態，之後的 tick 皆為空操作）
//   ForcePhase 可隨時強制任意階段（管理用逃生口，會記錄為覆寫）
//
// 每個 tick:
//   1. 重送逾時與等待重送的出站批次（受速率限制）
//   2. 依目前階段前進；Ongoing 時以全新的 tick 預算呼叫目前領域的 MigrateMany
//   3. 每 SnapshotEvery 個 tick 寫一次快照並旋轉 WAL
//
// 錯誤處理:
//   tick 內的錯誤（預算不足、讀寫失敗）一律轉為空操作 tick：游標不變，
//   記錄日誌、指標與 tick_skipped 事件，下一個 tick 重試。
//
// 持久化 (Write-Ahead):
//   每次階段、游標、設定變更都先寫 WAL 再修改記憶體狀態；
//   出站記錄變更由 transport.Sender 寫入同一份 WAL。
//
// 並發安全:
//   單一互斥鎖保護整個 tick、確認處理與管理操作；事件 sink 在鎖內同步呼叫，
//   不可回呼協調器。
//
// ============================================================================

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/budget"
	"github.com/ChuLiYu/beaver-migrate/internal/metrics"
	"github.com/ChuLiYu/beaver-migrate/internal/migrator"
	"github.com/ChuLiYu/beaver-migrate/internal/outbound"
	"github.com/ChuLiYu/beaver-migrate/internal/snapshot"
	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/juju/clock"
)

var log = slog.Default()

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrUnauthorized = errors.New("caller is not authorized")
	ErrInvalidPhase = errors.New("invalid phase transition")
	ErrNotStarted   = errors.New("coordinator not started")
	ErrStopped      = errors.New("coordinator stopped")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Migrators 依領域分派的遷移器（migrator.Set）
type Migrators interface {
	MigrateMany(ctx context.Context, domain types.DomainID, cursor *types.Cursor, meter *budget.Meter) (*types.Cursor, error)
	SetLimits(maxItems, maxBatches int)
	OnReject(fn func(migrator.Rejection))
	OnReport(fn func(migrator.Report))
}

// Transport 出站批次的送出與確認（transport.Sender）
type Transport interface {
	OnAcknowledge(ctx context.Context, ticket types.Ticket, outcome types.Outcome) error
	Resend(ctx context.Context, ticket types.Ticket) (types.Ticket, error)
	RetryPending(ctx context.Context, now time.Time) int
	Apply(ev wal.Event) error
	OnEvent(fn func(types.Event))
	Tracker() *outbound.Tracker
}

// Config 協調器設定
type Config struct {
	Root            string         // 永遠有管理權限的身分
	TickBudget      budget.Cost    // 每 tick 的本地預算
	Defaults        types.Settings // 首次啟動（沒有快照）時的設定
	SnapshotEvery   int            // 每幾個 tick 寫一次快照，<= 0 表示只在 Stop 時寫
	SnapshotBackups int            // 保留的舊快照份數
}

// Deps 協調器依賴的元件
type Deps struct {
	WAL       *wal.WAL
	Snapshots *snapshot.Manager
	Migrators Migrators
	Sender    Transport
	Clock     clock.Clock        // nil 表示 clock.WallClock
	Metrics   *metrics.Collector // 可為 nil
}

// Status 協調器狀態摘要
type Status struct {
	Phase    types.Phase    `json:"phase"`
	Settings types.Settings `json:"settings"`
	Outbound outbound.Stats `json:"outbound"`
	LastSeq  uint64         `json:"last_seq"`
	Ticks    uint64         `json:"ticks"`
}

// Coordinator 遷移協調器
type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	phase     types.Phase
	settings  types.Settings
	wal       *wal.WAL
	snapshots *snapshot.Manager
	migrators Migrators
	sender    Transport
	clock     clock.Clock
	metrics   *metrics.Collector
	sinks     []func(types.Event)

	started       bool
	stopped       bool
	ticks         uint64
	sinceSnapshot int
	lastReport    migrator.Report
}

// New 建立協調器；需呼叫 Start 完成恢復後才能使用
func New(cfg Config, deps Deps) *Coordinator {
	if cfg.Root == "" {
		cfg.Root = "root"
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	c := &Coordinator{
		cfg:       cfg,
		phase:     types.Pending(),
		settings:  cfg.Defaults,
		wal:       deps.WAL,
		snapshots: deps.Snapshots,
		migrators: deps.Migrators,
		sender:    deps.Sender,
		clock:     clk,
		metrics:   deps.Metrics,
	}

	// 以下回呼都在 c.mu 內被呼叫
	c.migrators.OnReport(func(r migrator.Report) { c.lastReport = r })
	c.migrators.OnReject(c.onReject)
	c.sender.OnEvent(c.onTransportEvent)
	return c
}

// Subscribe 註冊事件 sink
func (c *Coordinator) Subscribe(fn func(types.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, fn)
}

// ============================================================================
// Tick
// ============================================================================

// Tick 執行一個排程單位
//
// 返回值：
//   - error: 只有協調器未啟動或已停止時回傳；tick 內的錯誤轉為空操作
func (c *Coordinator) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return ErrNotStarted
	}
	if c.stopped {
		return ErrStopped
	}

	start := c.clock.Now()
	c.ticks++

	if n := c.sender.RetryPending(ctx, start); n > 0 {
		log.Debug("Retried pending batches", "count", n)
	}

	if err := c.step(ctx, start); err != nil {
		c.skipTick(err)
	}

	c.updateGauges()
	if c.metrics != nil {
		c.metrics.ObserveTick(c.clock.Now().Sub(start))
	}

	c.sinceSnapshot++
	if c.cfg.SnapshotEvery > 0 && c.sinceSnapshot >= c.cfg.SnapshotEvery {
		if err := c.snapshotLocked(); err != nil {
			log.Error("Failed to take snapshot", "error", err)
		}
	}
	return nil
}

// step 依目前階段前進一步
func (c *Coordinator) step(ctx context.Context, now time.Time) error {
	switch c.phase.Kind {
	case types.PhasePending, types.PhaseDone:
		return nil

	case types.PhaseScheduled:
		if now.Before(c.phase.Start) {
			return nil
		}
		return c.transition(types.WarmUp(now.Add(c.settings.WarmUp)), types.EventPhaseChanged)

	case types.PhaseWarmUp:
		if now.Before(c.phase.End) {
			return nil
		}
		return c.transition(types.Ongoing(0, nil), types.EventPhaseChanged)

	case types.PhaseOngoing:
		return c.migrateStep(ctx, now)

	case types.PhaseCoolOff:
		if now.Before(c.phase.End) {
			return nil
		}
		if stats := c.sender.Tracker().Stats(); stats.Total() > 0 {
			log.Warn("Finishing migration with outbound batches still tracked, retries continue after done",
				"in_flight", stats.InFlight,
				"unsent", stats.Unsent,
				"dead", stats.Dead)
		}
		return c.transition(types.Done(), types.EventPhaseChanged)
	}
	return fmt.Errorf("%w: unknown phase %q", ErrInvalidPhase, c.phase.Kind)
}

// migrateStep 以全新的 tick 預算驅動目前領域
func (c *Coordinator) migrateStep(ctx context.Context, now time.Time) error {
	idx := c.phase.DomainIndex
	domain := c.phase.Domain()
	if domain == "" {
		return fmt.Errorf("%w: domain index %d", ErrInvalidPhase, idx)
	}

	c.lastReport = migrator.Report{Domain: domain}
	meter := budget.NewMeter(c.cfg.TickBudget)

	next, err := c.migrators.MigrateMany(ctx, domain, c.phase.Cursor, meter)
	if c.metrics != nil {
		c.metrics.RecordItems(domain, c.lastReport.Items)
	}
	if err != nil {
		return fmt.Errorf("domain %s: %w", domain, err)
	}

	if next != nil {
		if err := c.transition(types.Ongoing(idx, next), ""); err != nil {
			return err
		}
		c.emit(types.Event{Type: types.EventDomainProgress, Domain: domain, Items: c.lastReport.Items, Detail: next.String()})
		return nil
	}

	// 領域排空
	c.emit(types.Event{Type: types.EventDomainCompleted, Domain: domain, Items: c.lastReport.Items})
	log.Info("Domain drained", "domain", domain, "index", idx)

	if idx+1 < len(types.Domains) {
		return c.transition(types.Ongoing(idx+1, nil), types.EventPhaseChanged)
	}
	return c.transition(types.CoolOff(now.Add(c.settings.CoolOff)), types.EventPhaseChanged)
}

// transition 先寫 WAL 再切換階段；evType 為空時不發出階段事件
func (c *Coordinator) transition(next types.Phase, evType types.EventType) error {
	if !next.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPhase, next)
	}
	if err := c.wal.Append(wal.EventPhase, string(next.Kind), next, true); err != nil {
		return fmt.Errorf("failed to journal phase: %w", err)
	}

	prev := c.phase
	c.phase = next
	if c.metrics != nil {
		c.metrics.SetPhase(next.Kind)
	}

	if evType != "" {
		log.Info("Phase changed", "from", prev.String(), "to", next.String())
		c.emit(types.Event{Type: evType, Domain: next.Domain(), Detail: fmt.Sprintf("%s -> %s", prev, next)})
	}
	return nil
}

func (c *Coordinator) skipTick(err error) {
	reason := "error"
	if errors.Is(err, budget.ErrOutOfBudget) {
		reason = "out_of_budget"
	}
	log.Warn("Tick skipped",
		"phase", c.phase.String(),
		"reason", reason,
		"error", err)
	if c.metrics != nil {
		c.metrics.RecordSkippedTick(reason)
	}
	c.emit(types.Event{Type: types.EventTickSkipped, Domain: c.phase.Domain(), Detail: err.Error()})
}

// ============================================================================
// 確認處理
// ============================================================================

// OnAcknowledge 處理目的端對票據的確認
func (c *Coordinator) OnAcknowledge(ctx context.Context, ticket types.Ticket, outcome types.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return ErrNotStarted
	}
	if err := c.sender.OnAcknowledge(ctx, ticket, outcome); err != nil {
		return err
	}
	c.updateGauges()
	return nil
}

// ============================================================================
// 查詢
// ============================================================================

// Phase 目前階段
func (c *Coordinator) Phase() types.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.phase
	p.Cursor = p.Cursor.Clone()
	return p
}

// Status 目前狀態摘要
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.phase
	p.Cursor = p.Cursor.Clone()
	return Status{
		Phase:    p,
		Settings: c.settings,
		Outbound: c.sender.Tracker().Stats(),
		LastSeq:  c.wal.GetLastSeq(),
		Ticks:    c.ticks,
	}
}

// ============================================================================
// 事件
// ============================================================================

func (c *Coordinator) onReject(r migrator.Rejection) {
	if c.metrics != nil {
		c.metrics.RecordRejected(r.Domain)
	}
	c.emit(types.Event{Type: types.EventItemRejected, Domain: r.Domain, Detail: fmt.Sprintf("%s/%s: %v", r.Table, r.Key, r.Err)})
}

func (c *Coordinator) onTransportEvent(ev types.Event) {
	if c.metrics != nil {
		switch ev.Type {
		case types.EventBatchSent:
			c.metrics.RecordBatch(metrics.BatchSent)
		case types.EventBatchResent:
			c.metrics.RecordBatch(metrics.BatchResent)
		case types.EventBatchAcked:
			c.metrics.RecordBatch(metrics.BatchAcked)
		}
	}
	c.emit(ev)
}

// emit 發出事件；呼叫者必須持有 c.mu
func (c *Coordinator) emit(ev types.Event) {
	if ev.Time == 0 {
		ev.Time = c.clock.Now().UnixMilli()
	}
	if ev.Phase == "" {
		ev.Phase = c.phase.Kind
	}
	for _, sink := range c.sinks {
		sink(ev)
	}
}

func (c *Coordinator) updateGauges() {
	if c.metrics == nil {
		return
	}
	stats := c.sender.Tracker().Stats()
	c.metrics.UpdateOutboundStats(stats.InFlight, stats.Unsent, stats.Dead)
}
