// ============================================================================
// Beaver-Migrate 目的端記錄儲存
// ============================================================================
//
// Package: internal/destination
// 文件: store.go
// 功能: 目的端已套用記錄與已處理批次的儲存
//
// 設計:
//   - 記錄以 (kind, key) 為主鍵，重複寫入覆蓋（upsert），套用為冪等
//   - 已處理批次以內容雜湊記錄；ApplyBatch 對同一雜湊只會生效一次
//   - Scan 依鍵的位元組順序走訪，供一致性檢查使用
//
// 實作:
//   - MemoryStore: 記憶體版本，測試與 demo 使用
//   - PostgresStore: lib/pq 版本，整批在同一個交易內套用
//
// ============================================================================

package destination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

var (
	ErrNotFound = errors.New("destination: record not found")
	ErrClosed   = errors.New("destination: store closed")
)

// Store 目的端儲存介面
type Store interface {
	// Put 寫入（覆蓋）一則記錄，主鍵為 (msg.Kind, msg.Key())
	Put(ctx context.Context, msg types.Message) error
	Get(ctx context.Context, kind types.MessageKind, key string) (types.Message, error)
	// Scan 依鍵順序走訪 kind 的所有記錄，fn 回傳錯誤時中止
	Scan(ctx context.Context, kind types.MessageKind, fn func(types.Message) error) error
	Count(ctx context.Context, kind types.MessageKind) (int, error)

	HasBatch(ctx context.Context, hash string) (bool, error)
	MarkBatch(ctx context.Context, hash string) error

	// ApplyBatch 原子地寫入整批訊息並標記雜湊；雜湊已存在時不做任何事並回傳 false
	ApplyBatch(ctx context.Context, hash string, msgs []types.Message) (applied bool, err error)

	Close() error
}

// ============================================================================
// MemoryStore
// ============================================================================

var _ Store = (*MemoryStore)(nil)

// MemoryStore 記憶體版本的 Store（併發安全）
type MemoryStore struct {
	mu      sync.RWMutex
	records map[types.MessageKind]map[string]types.Message
	batches map[string]struct{}
	closed  bool
}

// NewMemoryStore 建立空的記憶體儲存
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[types.MessageKind]map[string]types.Message),
		batches: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Put(_ context.Context, msg types.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.putLocked(msg)
	return nil
}

func (s *MemoryStore) putLocked(msg types.Message) {
	table, ok := s.records[msg.Kind]
	if !ok {
		table = make(map[string]types.Message)
		s.records[msg.Kind] = table
	}
	table[msg.Key()] = msg
}

func (s *MemoryStore) Get(_ context.Context, kind types.MessageKind, key string) (types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.Message{}, ErrClosed
	}
	msg, ok := s.records[kind][key]
	if !ok {
		return types.Message{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, key)
	}
	return msg, nil
}

// Scan 先在鎖內複製，再於鎖外呼叫 fn
func (s *MemoryStore) Scan(ctx context.Context, kind types.MessageKind, fn func(types.Message) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	table := s.records[kind]
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]types.Message, len(keys))
	for i, k := range keys {
		msgs[i] = table[k]
	}
	s.mu.RUnlock()

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context, kind types.MessageKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.records[kind]), nil
}

func (s *MemoryStore) HasBatch(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.batches[hash]
	return ok, nil
}

func (s *MemoryStore) MarkBatch(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.batches[hash] = struct{}{}
	return nil
}

func (s *MemoryStore) ApplyBatch(_ context.Context, hash string, msgs []types.Message) (bool, error) {
	for i, msg := range msgs {
		if err := msg.Validate(); err != nil {
			return false, fmt.Errorf("message %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.batches[hash]; ok {
		return false, nil
	}
	for _, msg := range msgs {
		s.putLocked(msg)
	}
	s.batches[hash] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
