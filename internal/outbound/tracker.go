// ============================================================================
// Beaver-Migrate 出站追蹤器 - 批次投遞狀態機
// ============================================================================
//
// Package: internal/outbound
// 文件: tracker.go
// 功能: 記錄已送出、等待確認的批次，提供重送所需的原始位元組
//
// 設計理念:
//   1. records map - 統一的記錄存儲，作為單一真實來源 (Single Source of Truth)
//   2. 狀態索引 - inFlight/unsent/dead maps 提供快速查詢
//   3. 重送時沿用原始 Payload，不從來源資料重新推導（來源可能已刪除）
//
// 記錄狀態轉換 (State Machine):
//   Unsent (送出失敗，等待重送)
//      ↓ Replace() 以新票據送出
//   InFlight (等待確認)
//      ↓ Acknowledge() 成功即移除
//      ↓ Replace() 失敗或逾時後以新票據重送
//   Dead (超過最大重送次數，僅管理者可手動重送)
//
// 並發安全:
//   - 使用 sync.RWMutex 保護所有數據結構
//   - 只有傳輸層的 Sender 會修改追蹤器，遷移器不會直接存取
//
// ============================================================================

package outbound

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 票據重複
	ErrDuplicateTicket = errors.New("ticket already tracked")
	// 票據不存在
	ErrTicketNotFound = errors.New("ticket not found")
	// 記錄不在等待確認狀態
	ErrNotInFlight = errors.New("record not in flight")
)

// Stats 各狀態記錄數量
type Stats struct {
	InFlight int `json:"in_flight"`
	Unsent   int `json:"unsent"`
	Dead     int `json:"dead"`
}

// Total 追蹤中的記錄總數
func (s Stats) Total() int {
	return s.InFlight + s.Unsent + s.Dead
}

// Pending 仍會自動重送的記錄數（dead 記錄只能由管理者重送）
func (s Stats) Pending() int {
	return s.InFlight + s.Unsent
}

// Tracker 出站記錄追蹤器
type Tracker struct {
	mu       sync.RWMutex
	records  map[types.Ticket]*types.OutboundRecord // 所有記錄，透過 Status 欄位區分狀態
	inFlight map[types.Ticket]*types.OutboundRecord // 等待確認
	unsent   map[types.Ticket]*types.OutboundRecord // 等待重送
	dead     map[types.Ticket]*types.OutboundRecord // 死信
}

// NewTracker 建立空的追蹤器
func NewTracker() *Tracker {
	return &Tracker{
		records:  make(map[types.Ticket]*types.OutboundRecord),
		inFlight: make(map[types.Ticket]*types.OutboundRecord),
		unsent:   make(map[types.Ticket]*types.OutboundRecord),
		dead:     make(map[types.Ticket]*types.OutboundRecord),
	}
}

// Register 登記一筆成功送出的記錄
//
// 參數說明：
//   - rec: 出站記錄，Ticket 由傳輸層配發
//   - deadline: 等待確認的截止時間
//
// 錯誤處理：
//   - ErrDuplicateTicket: 票據已存在
func (t *Tracker) Register(rec types.OutboundRecord, deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[rec.Ticket]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTicket, rec.Ticket)
	}

	rec.Status = types.OutboundInFlight
	rec.Deadline = deadline.UnixMilli()
	t.put(&rec)
	return nil
}

// RegisterUnsent 登記一筆尚未成功送出的記錄，資料保留供之後重送
func (t *Tracker) RegisterUnsent(rec types.OutboundRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[rec.Ticket]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTicket, rec.Ticket)
	}

	rec.Status = types.OutboundUnsent
	rec.Deadline = 0
	t.put(&rec)
	return nil
}

// Acknowledge 目的端成功處理，移除記錄
//
// 錯誤處理：
//   - ErrTicketNotFound: 票據不存在（可能是重複確認）
//   - ErrNotInFlight: 記錄不在等待確認狀態
func (t *Tracker) Acknowledge(ticket types.Ticket) (types.OutboundRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[ticket]
	if !exists {
		return types.OutboundRecord{}, fmt.Errorf("%w: %s", ErrTicketNotFound, ticket)
	}
	if rec.Status != types.OutboundInFlight {
		return types.OutboundRecord{}, fmt.Errorf("%w: %s is %s", ErrNotInFlight, ticket, rec.Status)
	}

	t.remove(ticket)
	return *rec, nil
}

// Replace 以新記錄取代舊票據（重送或首次送出成功）
//
// 新記錄的 Status 決定其落在哪個索引；舊票據不存在時等同登記新記錄。
func (t *Tracker) Replace(old types.Ticket, rec types.OutboundRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old != rec.Ticket {
		if _, exists := t.records[rec.Ticket]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTicket, rec.Ticket)
		}
	}
	t.remove(old)
	t.put(&rec)
	return nil
}

// MarkDead 將記錄標記為死信（超過最大重送次數）
func (t *Tracker) MarkDead(ticket types.Ticket) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[ticket]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, ticket)
	}

	t.remove(ticket)
	rec.Status = types.OutboundDead
	rec.Deadline = 0
	t.put(rec)
	return nil
}

// Get 取得記錄副本
func (t *Tracker) Get(ticket types.Ticket) (types.OutboundRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, exists := t.records[ticket]
	if !exists {
		return types.OutboundRecord{}, false
	}
	return *rec, true
}

// Expired 取得已逾時的等待確認記錄，依送出時間排序
func (t *Tracker) Expired(now time.Time) []types.Ticket {
	t.mu.RLock()
	defer t.mu.RUnlock()

	nowMs := now.UnixMilli()
	var expired []*types.OutboundRecord
	for _, rec := range t.inFlight {
		if rec.Deadline > 0 && rec.Deadline < nowMs {
			expired = append(expired, rec)
		}
	}
	return ticketsBySentAt(expired)
}

// Unsent 取得所有等待重送的記錄，依送出時間排序
func (t *Tracker) Unsent() []types.Ticket {
	t.mu.RLock()
	defer t.mu.RUnlock()

	recs := make([]*types.OutboundRecord, 0, len(t.unsent))
	for _, rec := range t.unsent {
		recs = append(recs, rec)
	}
	return ticketsBySentAt(recs)
}

// Dead 取得所有死信票據
func (t *Tracker) Dead() []types.Ticket {
	t.mu.RLock()
	defer t.mu.RUnlock()

	recs := make([]*types.OutboundRecord, 0, len(t.dead))
	for _, rec := range t.dead {
		recs = append(recs, rec)
	}
	return ticketsBySentAt(recs)
}

// Pending 領域中尚未確認的記錄數（含等待重送與死信）
func (t *Tracker) Pending(domain types.DomainID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, rec := range t.records {
		if rec.Domain == domain {
			n++
		}
	}
	return n
}

// Stats 取得各狀態記錄數量
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		InFlight: len(t.inFlight),
		Unsent:   len(t.unsent),
		Dead:     len(t.dead),
	}
}

// ============================================================================
// 快照與恢復
// ============================================================================

// Snapshot 深拷貝所有記錄
func (t *Tracker) Snapshot() map[types.Ticket]*types.OutboundRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[types.Ticket]*types.OutboundRecord, len(t.records))
	for ticket, rec := range t.records {
		cp := *rec
		cp.Payload = append([]byte(nil), rec.Payload...)
		out[ticket] = &cp
	}
	return out
}

// Restore 以快照內容取代目前狀態
func (t *Tracker) Restore(records map[types.Ticket]*types.OutboundRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[types.Ticket]*types.OutboundRecord)
	t.inFlight = make(map[types.Ticket]*types.OutboundRecord)
	t.unsent = make(map[types.Ticket]*types.OutboundRecord)
	t.dead = make(map[types.Ticket]*types.OutboundRecord)

	for ticket, rec := range records {
		cp := *rec
		cp.Ticket = ticket
		t.put(&cp)
	}
}

// ============================================================================
// 內部輔助方法（呼叫者須持有鎖）
// ============================================================================

func (t *Tracker) put(rec *types.OutboundRecord) {
	t.records[rec.Ticket] = rec
	switch rec.Status {
	case types.OutboundInFlight:
		t.inFlight[rec.Ticket] = rec
	case types.OutboundDead:
		t.dead[rec.Ticket] = rec
	default:
		rec.Status = types.OutboundUnsent
		t.unsent[rec.Ticket] = rec
	}
}

func (t *Tracker) remove(ticket types.Ticket) {
	delete(t.records, ticket)
	delete(t.inFlight, ticket)
	delete(t.unsent, ticket)
	delete(t.dead, ticket)
}

func ticketsBySentAt(recs []*types.OutboundRecord) []types.Ticket {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SentAt != recs[j].SentAt {
			return recs[i].SentAt < recs[j].SentAt
		}
		return recs[i].Ticket < recs[j].Ticket
	})
	out := make([]types.Ticket, len(recs))
	for i, rec := range recs {
		out[i] = rec.Ticket
	}
	return out
}
