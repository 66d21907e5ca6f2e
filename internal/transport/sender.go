// ============================================================================
// Beaver-Migrate 批次傳輸 - 送出、確認與重送
// ============================================================================
//
// Package: internal/transport
// 文件: sender.go
// 功能: 編碼批次、交給 Deliverer 投遞、登記出站記錄、處理確認與重送
//
// 投遞流程 (Write-Ahead):
//   1. 編碼批次，產生暫時票據 pending-{uuid}
//   2. 先寫 WAL (OUTBOUND_UNSENT)，再登記為 unsent，原始位元組此時已持久化
//   3. Deliver 成功 → 寫 WAL (OUTBOUND_SENT) → 以正式票據取代暫時票據
//      Deliver 失敗 → 保留為 unsent，由 RetryPending 之後重送
//
// 確認與重送:
//   - 成功確認 → 寫 WAL (OUTBOUND_ACKED) → 移除記錄
//   - 明確失敗或逾時 → 以相同位元組、新票據重送 (OUTBOUND_RESENT)
//   - 重送次數超過 MaxResend → 死信 (OUTBOUND_DEAD)，保留等待管理者手動重送
//   - 重送永遠不會從來源資料重新推導內容
//
// 並發:
//   只有 Sender 會修改出站追蹤器；Send/Resend/RetryPending 由協調器在 tick 內呼叫，
//   OnAcknowledge 由確認處理器呼叫。
//
// ============================================================================

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/outbound"
	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var log = slog.Default()

// ErrTransportSend 投遞失敗；資料保留在出站記錄中，可重送
var ErrTransportSend = errors.New("transport send failure")

// Deliverer 訊息傳輸邊界（at-least-once）
type Deliverer interface {
	Deliver(ctx context.Context, destination string, payload []byte) (types.Ticket, error)
}

// AckSource 可輪詢的確認來源
type AckSource interface {
	PollAcks(ctx context.Context) ([]types.Ack, error)
}

// Journal 出站記錄變更的預寫日誌
type Journal interface {
	Append(eventType wal.EventType, key string, data any, isForceFlush bool) error
}

type nopJournal struct{}

func (nopJournal) Append(wal.EventType, string, any, bool) error { return nil }

// Change WAL 中出站記錄變更的內容
type Change struct {
	Old    types.Ticket         `json:"old,omitempty"`
	Record types.OutboundRecord `json:"record"`
}

// SenderConfig Sender 設定
type SenderConfig struct {
	Destination string        // 目的端識別碼
	AckTimeout  time.Duration // 等待確認的逾時時間
	MaxResend   int           // 自動重送次數上限，超過即成為死信
	ResendRate  float64       // 每秒自動重送次數上限，<= 0 表示不限
	ResendBurst int
}

// Sender 批次送出器
type Sender struct {
	cfg       SenderConfig
	deliverer Deliverer
	tracker   *outbound.Tracker
	journal   Journal
	limiter   *rate.Limiter
	now       func() time.Time
	observer  func(types.Event)
}

// NewSender 建立 Sender；journal 為 nil 時不寫日誌
func NewSender(cfg SenderConfig, deliverer Deliverer, tracker *outbound.Tracker, journal Journal) *Sender {
	if journal == nil {
		journal = nopJournal{}
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = time.Minute
	}
	if cfg.ResendBurst <= 0 {
		cfg.ResendBurst = 1
	}

	limit := rate.Inf
	if cfg.ResendRate > 0 {
		limit = rate.Limit(cfg.ResendRate)
	}

	return &Sender{
		cfg:       cfg,
		deliverer: deliverer,
		tracker:   tracker,
		journal:   journal,
		limiter:   rate.NewLimiter(limit, cfg.ResendBurst),
		now:       time.Now,
	}
}

// SetClock 替換時間來源（測試與協調器使用）
func (s *Sender) SetClock(now func() time.Time) {
	s.now = now
}

// OnEvent 註冊進度事件回呼
func (s *Sender) OnEvent(fn func(types.Event)) {
	s.observer = fn
}

// Tracker 出站追蹤器（唯讀用途）
func (s *Sender) Tracker() *outbound.Tracker {
	return s.tracker
}

// Send 編碼並投遞一個批次
//
// 返回值：
//   - types.Ticket: 成功時的投遞票據
//   - error: 投遞失敗時包裝 ErrTransportSend（記錄已保留為 unsent）；
//     日誌寫入失敗則為其他錯誤
func (s *Sender) Send(ctx context.Context, batch types.Batch) (types.Ticket, error) {
	payload, err := EncodeBatch(batch)
	if err != nil {
		return "", err
	}

	now := s.now()
	rec := types.OutboundRecord{
		Ticket:  types.Ticket("pending-" + uuid.NewString()),
		Domain:  batch.Domain,
		Payload: payload,
		Hash:    ContentHash(payload),
		Items:   len(batch.Messages),
		Status:  types.OutboundUnsent,
		SentAt:  now.UnixMilli(),
	}

	// 先寫 WAL（Write-Ahead）
	if err := s.journal.Append(wal.EventOutboundUnsent, string(rec.Ticket), Change{Record: rec}, true); err != nil {
		return "", fmt.Errorf("failed to journal outbound batch: %w", err)
	}
	if err := s.tracker.RegisterUnsent(rec); err != nil {
		return "", err
	}

	return s.deliver(ctx, rec, rec.Ticket, wal.EventOutboundSent, types.EventBatchSent)
}

// OnAcknowledge 處理目的端確認
//
// 成功即移除記錄；失敗則以相同位元組重送。未知票據（重複確認）忽略。
func (s *Sender) OnAcknowledge(ctx context.Context, ticket types.Ticket, outcome types.Outcome) error {
	rec, ok := s.tracker.Get(ticket)
	if !ok {
		log.Debug("Ignoring acknowledgement for unknown ticket", "ticket", ticket)
		return nil
	}

	if !outcome.Success {
		log.Warn("Destination rejected batch, resending",
			"ticket", ticket,
			"domain", rec.Domain,
			"reason", outcome.Reason)
		_, err := s.retry(ctx, ticket, false)
		return err
	}

	if rec.Status != types.OutboundInFlight {
		log.Debug("Ignoring acknowledgement for record not in flight", "ticket", ticket, "status", rec.Status)
		return nil
	}

	if err := s.journal.Append(wal.EventOutboundAcked, string(ticket), Change{Record: types.OutboundRecord{Ticket: ticket, Domain: rec.Domain}}, false); err != nil {
		return fmt.Errorf("failed to journal acknowledgement: %w", err)
	}
	if _, err := s.tracker.Acknowledge(ticket); err != nil {
		return err
	}

	s.emit(types.Event{Type: types.EventBatchAcked, Domain: rec.Domain, Items: rec.Items, Ticket: ticket})
	log.Debug("Batch acknowledged", "ticket", ticket, "domain", rec.Domain, "items", rec.Items)
	return nil
}

// Resend 管理者手動重送（包含死信），不受重送次數與速率限制
func (s *Sender) Resend(ctx context.Context, ticket types.Ticket) (types.Ticket, error) {
	return s.retry(ctx, ticket, true)
}

// RetryPending 重送逾時與等待重送的記錄，回傳嘗試次數
//
// 受速率限制；配額用完時剩餘記錄留待下一個 tick。
func (s *Sender) RetryPending(ctx context.Context, now time.Time) int {
	tickets := append(s.tracker.Expired(now), s.tracker.Unsent()...)

	attempted := 0
	for _, ticket := range tickets {
		if !s.limiter.AllowN(now, 1) {
			log.Debug("Resend rate limit reached", "remaining", len(tickets)-attempted)
			break
		}
		attempted++
		if _, err := s.retry(ctx, ticket, false); err != nil {
			log.Warn("Resend failed", "ticket", ticket, "error", err)
		}
	}
	return attempted
}

// Apply 重放 WAL 中的出站事件（冪等）
func (s *Sender) Apply(ev wal.Event) error {
	var ch Change
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &ch); err != nil {
			return fmt.Errorf("failed to decode outbound event %d: %w", ev.Seq, err)
		}
	}

	switch ev.Type {
	case wal.EventOutboundUnsent, wal.EventOutboundSent, wal.EventOutboundResent:
		old := ch.Old
		if old == "" {
			old = ch.Record.Ticket
		}
		err := s.tracker.Replace(old, ch.Record)
		if errors.Is(err, outbound.ErrDuplicateTicket) {
			return nil
		}
		return err

	case wal.EventOutboundAcked:
		_, err := s.tracker.Acknowledge(types.Ticket(ev.Key))
		if errors.Is(err, outbound.ErrTicketNotFound) || errors.Is(err, outbound.ErrNotInFlight) {
			return nil
		}
		return err

	case wal.EventOutboundDead:
		err := s.tracker.MarkDead(types.Ticket(ev.Key))
		if errors.Is(err, outbound.ErrTicketNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (s *Sender) retry(ctx context.Context, ticket types.Ticket, force bool) (types.Ticket, error) {
	rec, ok := s.tracker.Get(ticket)
	if !ok {
		return "", fmt.Errorf("%w: %s", outbound.ErrTicketNotFound, ticket)
	}

	if !force && rec.Status == types.OutboundDead {
		return "", nil
	}
	if !force && rec.Attempt >= s.cfg.MaxResend {
		return "", s.markDead(rec)
	}

	rec.Attempt++
	return s.deliver(ctx, rec, ticket, wal.EventOutboundResent, types.EventBatchResent)
}

func (s *Sender) deliver(ctx context.Context, rec types.OutboundRecord, old types.Ticket, evType wal.EventType, progress types.EventType) (types.Ticket, error) {
	ticket, err := s.deliverer.Deliver(ctx, s.cfg.Destination, rec.Payload)
	if err != nil {
		if rec.Status != types.OutboundUnsent || rec.Ticket != old {
			rec.Status = types.OutboundUnsent
			rec.Ticket = old
			if jerr := s.journal.Append(wal.EventOutboundUnsent, string(old), Change{Old: old, Record: rec}, false); jerr != nil {
				log.Error("Failed to journal unsent batch", "ticket", old, "error", jerr)
			}
			if rerr := s.tracker.Replace(old, rec); rerr != nil {
				log.Error("Failed to hold unsent batch", "ticket", old, "error", rerr)
			}
		}
		log.Warn("Batch delivery failed, held for resend",
			"ticket", old,
			"domain", rec.Domain,
			"attempt", rec.Attempt,
			"error", err)
		return "", fmt.Errorf("%w: %v", ErrTransportSend, err)
	}

	now := s.now()
	sent := rec
	sent.Ticket = ticket
	sent.Status = types.OutboundInFlight
	sent.SentAt = now.UnixMilli()
	sent.Deadline = now.Add(s.cfg.AckTimeout).UnixMilli()

	if err := s.journal.Append(evType, string(ticket), Change{Old: old, Record: sent}, true); err != nil {
		return "", fmt.Errorf("failed to journal delivery of %s: %w", ticket, err)
	}
	if err := s.tracker.Replace(old, sent); err != nil {
		return "", err
	}

	s.emit(types.Event{Type: progress, Domain: rec.Domain, Items: rec.Items, Ticket: ticket})
	log.Debug("Batch delivered",
		"ticket", ticket,
		"previous", old,
		"domain", rec.Domain,
		"items", rec.Items,
		"bytes", len(rec.Payload),
		"attempt", rec.Attempt)
	return ticket, nil
}

func (s *Sender) markDead(rec types.OutboundRecord) error {
	if err := s.journal.Append(wal.EventOutboundDead, string(rec.Ticket), Change{Record: rec}, true); err != nil {
		return fmt.Errorf("failed to journal dead batch: %w", err)
	}
	if err := s.tracker.MarkDead(rec.Ticket); err != nil {
		return err
	}
	log.Warn("Batch marked as dead",
		"ticket", rec.Ticket,
		"domain", rec.Domain,
		"attempts", rec.Attempt)
	return nil
}

func (s *Sender) emit(ev types.Event) {
	if s.observer == nil {
		return
	}
	if ev.Time == 0 {
		ev.Time = s.now().UnixMilli()
	}
	s.observer(ev)
}
