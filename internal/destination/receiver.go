package destination

// ============================================================================
// 職責說明：
// 1. 接收 (ticket, payload)，交給 worker pool 非同步處理
// 2. 處理：解碼 → 檢查批次處理預算 → 以內容雜湊去重後套用
// 3. 每個處理結果轉成一筆 Ack，等待來源端以 PollAcks 取回
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/budget"
	"github.com/ChuLiYu/beaver-migrate/internal/metrics"
	"github.com/ChuLiYu/beaver-migrate/internal/transport"
	"github.com/ChuLiYu/beaver-migrate/internal/worker"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

var log = slog.Default()

var (
	// ErrOverweight 批次超過目的端單批處理預算
	ErrOverweight = errors.New("batch exceeds processing budget")
	// ErrKindMismatch 訊息種類不屬於批次宣告的領域
	ErrKindMismatch = errors.New("message kind does not belong to batch domain")
	ErrNotRunning   = errors.New("receiver not running")
)

var _ transport.Receiver = (*Receiver)(nil)

// Config 目的端接收設定
type Config struct {
	ID          string              `yaml:"id"`
	Workers     int                 `yaml:"workers"`
	QueueSize   int                 `yaml:"queue_size"`
	Timeout     time.Duration       `yaml:"timeout"`
	BatchBudget budget.Cost         `yaml:"batch_budget"` // 零值表示不檢查
	Cost        transport.CostModel `yaml:"cost"`
}

// Receiver 目的端接收器
type Receiver struct {
	cfg     Config
	store   Store
	pool    *worker.Pool
	metrics *metrics.Collector

	mu      sync.Mutex
	acks    []types.Ack
	pending int
	running bool
	done    chan struct{}
}

// NewReceiver 建立接收器；metrics 可為 nil
func NewReceiver(cfg Config, store Store, m *metrics.Collector) *Receiver {
	if cfg.ID == "" {
		cfg.ID = "destination"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	r := &Receiver{
		cfg:     cfg,
		store:   store,
		metrics: m,
		done:    make(chan struct{}),
	}
	r.pool = worker.NewPool(cfg.QueueSize, r.handle)
	return r
}

// Start 啟動 worker pool 與結果收集
func (r *Receiver) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if err := r.pool.Start(r.cfg.Workers); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	r.running = true
	go r.collect()

	log.Info("Destination receiver started",
		"id", r.cfg.ID,
		"workers", r.cfg.Workers,
		"batch_budget", r.cfg.BatchBudget.String())
	return nil
}

// Stop 處理完已接受的批次後停止（可重複呼叫）
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.pool.Stop()
	<-r.done
	log.Info("Destination receiver stopped", "id", r.cfg.ID)
}

func (r *Receiver) ID() string {
	return r.cfg.ID
}

// Receive 接受一個批次並排入處理佇列
func (r *Receiver) Receive(_ context.Context, ticket types.Ticket, payload []byte) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.pending++
	r.mu.Unlock()

	err := r.pool.Submit(worker.Task{Ticket: ticket, Payload: payload, Timeout: r.cfg.Timeout})
	if err != nil {
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
		return fmt.Errorf("failed to queue batch %s: %w", ticket, err)
	}
	return nil
}

// PollAcks 取走目前累積的所有確認
func (r *Receiver) PollAcks(_ context.Context) ([]types.Ack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.acks
	r.acks = nil
	return out, nil
}

// Pending 已接受但尚未產生確認的批次數
func (r *Receiver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Store 目的端儲存
func (r *Receiver) Store() Store {
	return r.store
}

func (r *Receiver) collect() {
	defer close(r.done)
	for {
		result, err := r.pool.ReceiveResult()
		if err != nil {
			return
		}

		ack := types.Ack{Ticket: result.Ticket, Outcome: types.Outcome{Success: result.Success}}
		if result.Error != nil {
			ack.Outcome.Reason = result.Error.Error()
			log.Warn("Batch rejected by destination",
				"ticket", result.Ticket,
				"error", result.Error)
		}

		r.mu.Lock()
		r.acks = append(r.acks, ack)
		r.pending--
		r.mu.Unlock()
	}
}

// handle 在 worker 中處理單一批次
func (r *Receiver) handle(ctx context.Context, task worker.Task) error {
	start := time.Now()

	batch, err := transport.DecodeBatch(task.Payload)
	if err != nil {
		return err
	}
	if err := r.checkBatch(batch); err != nil {
		return err
	}

	hash := transport.ContentHash(task.Payload)
	applied, err := r.store.ApplyBatch(ctx, hash, batch.Messages)
	if err != nil {
		return fmt.Errorf("failed to apply batch: %w", err)
	}

	if !applied {
		log.Debug("Duplicate batch ignored", "ticket", task.Ticket, "hash", hash)
		if r.metrics != nil {
			r.metrics.RecordDuplicate()
		}
		return nil
	}

	if r.metrics != nil {
		r.metrics.RecordApplied(batch.Domain, len(batch.Messages), time.Since(start))
	}
	log.Debug("Batch applied",
		"ticket", task.Ticket,
		"domain", batch.Domain,
		"items", len(batch.Messages),
		"duration", time.Since(start))
	return nil
}

// checkBatch 檢查訊息種類與處理預算
func (r *Receiver) checkBatch(batch types.Batch) error {
	kinds, ok := types.DomainKinds[batch.Domain]
	if !ok {
		return fmt.Errorf("%w: unknown domain %q", transport.ErrInvalidBatch, batch.Domain)
	}

	var meter *budget.Meter
	if !r.cfg.BatchBudget.IsZero() {
		meter = budget.NewMeter(r.cfg.BatchBudget)
	}

	for i, msg := range batch.Messages {
		if !containsKind(kinds, msg.Kind) {
			return fmt.Errorf("%w: message %d is %q in %q batch", ErrKindMismatch, i, msg.Kind, batch.Domain)
		}
		if meter == nil {
			continue
		}
		size, err := transport.MessageSize(msg)
		if err != nil {
			return err
		}
		if err := meter.TryConsume(r.cfg.Cost.Of(size)); err != nil {
			return fmt.Errorf("%w: message %d: %v", ErrOverweight, i, err)
		}
	}
	return nil
}

func containsKind(kinds []types.MessageKind, kind types.MessageKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
