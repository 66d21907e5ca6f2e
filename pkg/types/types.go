// Package types 定義了 beaver-migrate 系統中使用的核心領域模型
package types

import (
	"fmt"
	"time"
)

// DomainID 遷移領域識別碼
type DomainID string

// 固定順序的遷移領域（編譯期即確定，執行期不會變動）
const (
	DomainAccounts  DomainID = "accounts"  // 帳戶餘額
	DomainMultisigs DomainID = "multisigs" // 多簽押金
	DomainProxies   DomainID = "proxies"   // 代理與代理公告
	DomainPreimages DomainID = "preimages" // preimage 請求狀態（新舊兩種格式）
	DomainVesting   DomainID = "vesting"   // 線性解鎖排程
)

// Domains 依遷移順序排列的所有領域；第 N+1 個領域必須等第 N 個完全排空才開始
var Domains = []DomainID{
	DomainAccounts,
	DomainMultisigs,
	DomainProxies,
	DomainPreimages,
	DomainVesting,
}

// Ticket 投遞票據，由傳輸層在成功送出時配發
type Ticket string

// ============================================================================
// Cursor 游標
// ============================================================================

// Cursor 單一領域資料集中的可恢復位置
//
// nil 代表從頭開始；非 nil 時在 Stage 子階段內、嚴格從 Key 之後繼續。
// Key 為 nil 表示該子階段的起點。
type Cursor struct {
	Stage uint8   `json:"stage"`
	Key   *string `json:"key,omitempty"`
}

// StageStart 建立指向子階段起點的游標
func StageStart(stage uint8) *Cursor {
	return &Cursor{Stage: stage}
}

// After 建立指向 key 之後的游標
func After(stage uint8, key string) *Cursor {
	k := key
	return &Cursor{Stage: stage, Key: &k}
}

// Clone 回傳深拷貝，避免呼叫端共享 Key 指標
func (c *Cursor) Clone() *Cursor {
	if c == nil {
		return nil
	}
	out := &Cursor{Stage: c.Stage}
	if c.Key != nil {
		k := *c.Key
		out.Key = &k
	}
	return out
}

// Equal 比較兩個游標（nil 僅等於 nil）
func (c *Cursor) Equal(o *Cursor) bool {
	if c == nil || o == nil {
		return c == nil && o == nil
	}
	if c.Stage != o.Stage {
		return false
	}
	if c.Key == nil || o.Key == nil {
		return c.Key == nil && o.Key == nil
	}
	return *c.Key == *o.Key
}

func (c *Cursor) String() string {
	if c == nil {
		return "<start>"
	}
	if c.Key == nil {
		return fmt.Sprintf("stage=%d/<start>", c.Stage)
	}
	return fmt.Sprintf("stage=%d/%s", c.Stage, *c.Key)
}

// ============================================================================
// Phase 遷移階段
// ============================================================================

// PhaseKind 遷移階段種類
type PhaseKind string

const (
	PhasePending   PhaseKind = "pending"                // 尚未排程
	PhaseScheduled PhaseKind = "scheduled"              // 已排程，等待開始時間
	PhaseWarmUp    PhaseKind = "warm_up"                // 暖身期
	PhaseOngoing   PhaseKind = "data_migration_ongoing" // 資料遷移進行中
	PhaseCoolOff   PhaseKind = "cool_off"               // 冷卻期
	PhaseDone      PhaseKind = "done"                   // 完成（終態）
)

var phaseRank = map[PhaseKind]int{
	PhasePending:   0,
	PhaseScheduled: 1,
	PhaseWarmUp:    2,
	PhaseOngoing:   3,
	PhaseCoolOff:   4,
	PhaseDone:      5,
}

// Phase 遷移狀態機的值；只有 Ongoing 內的游標會回訪子位置
type Phase struct {
	Kind        PhaseKind `json:"kind"`
	Start       time.Time `json:"start,omitempty"`        // Scheduled
	End         time.Time `json:"end,omitempty"`          // WarmUp, CoolOff
	DomainIndex int       `json:"domain_index,omitempty"` // Ongoing
	Cursor      *Cursor   `json:"cursor,omitempty"`       // Ongoing
}

func Pending() Phase { return Phase{Kind: PhasePending} }

func Scheduled(start time.Time) Phase { return Phase{Kind: PhaseScheduled, Start: start} }

func WarmUp(end time.Time) Phase { return Phase{Kind: PhaseWarmUp, End: end} }

func CoolOff(end time.Time) Phase { return Phase{Kind: PhaseCoolOff, End: end} }

func Done() Phase { return Phase{Kind: PhaseDone} }

// Ongoing 建立資料遷移進行中的階段值
func Ongoing(domainIndex int, cursor *Cursor) Phase {
	return Phase{Kind: PhaseOngoing, DomainIndex: domainIndex, Cursor: cursor.Clone()}
}

// Valid 檢查階段種類是否合法
func (p Phase) Valid() bool {
	_, ok := phaseRank[p.Kind]
	if !ok {
		return false
	}
	if p.Kind == PhaseOngoing {
		return p.DomainIndex >= 0 && p.DomainIndex < len(Domains)
	}
	return true
}

// Rank 階段在前進順序中的位置
func (p Phase) Rank() int {
	return phaseRank[p.Kind]
}

// Before 判斷 p 在狀態機中是否嚴格早於 o（Ongoing 內以領域序比較）
func (p Phase) Before(o Phase) bool {
	if p.Rank() != o.Rank() {
		return p.Rank() < o.Rank()
	}
	if p.Kind == PhaseOngoing {
		return p.DomainIndex < o.DomainIndex
	}
	return false
}

// Domain 目前遷移中的領域；非 Ongoing 階段回傳空字串
func (p Phase) Domain() DomainID {
	if p.Kind != PhaseOngoing || p.DomainIndex < 0 || p.DomainIndex >= len(Domains) {
		return ""
	}
	return Domains[p.DomainIndex]
}

func (p Phase) String() string {
	switch p.Kind {
	case PhaseScheduled:
		return fmt.Sprintf("%s{start=%s}", p.Kind, p.Start.Format(time.RFC3339))
	case PhaseWarmUp, PhaseCoolOff:
		return fmt.Sprintf("%s{end=%s}", p.Kind, p.End.Format(time.RFC3339))
	case PhaseOngoing:
		return fmt.Sprintf("%s{domain=%s, cursor=%s}", p.Kind, p.Domain(), p.Cursor)
	default:
		return string(p.Kind)
	}
}

// ============================================================================
// Outbound 出站記錄
// ============================================================================

// OutboundStatus 出站記錄狀態
type OutboundStatus string

const (
	OutboundInFlight OutboundStatus = "in_flight" // 已送出，等待確認
	OutboundUnsent   OutboundStatus = "unsent"    // 送出失敗，等待重送
	OutboundDead     OutboundStatus = "dead"      // 超過重送次數，僅能由管理者手動重送
)

// OutboundRecord 出站批次記錄，保存原始位元組以便重送（不從來源重新推導）
type OutboundRecord struct {
	Ticket   Ticket         `json:"ticket"`
	Domain   DomainID       `json:"domain"`
	Payload  []byte         `json:"payload"`
	Hash     string         `json:"hash"` // blake2b-256 內容雜湊（hex）
	Items    int            `json:"items"`
	Status   OutboundStatus `json:"status"`
	Attempt  int            `json:"attempt"`
	SentAt   int64          `json:"sent_at"`  // Unix 毫秒
	Deadline int64          `json:"deadline"` // Unix 毫秒，超過即視為逾時
}

// Outcome 目的端處理結果
type Outcome struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Ack 目的端回傳的確認
type Ack struct {
	Ticket  Ticket  `json:"ticket"`
	Outcome Outcome `json:"outcome"`
}

// ============================================================================
// 設定與快照
// ============================================================================

// Settings 由管理介面調整、需持久化的參數
type Settings struct {
	MaxItemsPerTick   int           `json:"max_items_per_tick"`
	MaxBatchesPerTick int           `json:"max_batches_per_tick"`
	Manager           string        `json:"manager,omitempty"`
	WarmUp            time.Duration `json:"warm_up"`
	CoolOff           time.Duration `json:"cool_off"`
}

// SnapshotData 快照資料，用於系統狀態的持久化和恢復
type SnapshotData struct {
	Phase     Phase                      `json:"phase"`
	Settings  Settings                   `json:"settings"`
	Outbound  map[Ticket]*OutboundRecord `json:"outbound"`
	SchemaVer int                        `json:"schema_ver"` // 資料結構版本號，用於向後相容性
	LastSeq   uint64                     `json:"last_seq"`   // 最後處理的 WAL 序列號
}

// ============================================================================
// 事件
// ============================================================================

// EventType 對外發出的進度事件種類
type EventType string

const (
	EventPhaseChanged    EventType = "phase_changed"
	EventPhaseForced     EventType = "phase_forced"
	EventDomainProgress  EventType = "domain_progress"
	EventDomainCompleted EventType = "domain_completed"
	EventTickSkipped     EventType = "tick_skipped"
	EventBatchSent       EventType = "batch_sent"
	EventBatchResent     EventType = "batch_resent"
	EventBatchAcked      EventType = "batch_acked"
	EventItemRejected    EventType = "item_rejected"
)

// Event 進度事件，供外部監控觀察遷移狀態
type Event struct {
	Type   EventType `json:"type"`
	Phase  PhaseKind `json:"phase"`
	Domain DomainID  `json:"domain,omitempty"`
	Items  int       `json:"items,omitempty"`
	Ticket Ticket    `json:"ticket,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   int64     `json:"time"` // Unix 毫秒
}
