// ============================================================================
// Beaver-Migrate 來源資料集
// ============================================================================
//
// Package: internal/source
// 文件: source.go
// 功能: 來源系統中各領域資料表的有序鍵值存取
//
// 設計:
//   - 每個資料表內以鍵的位元組順序遞增走訪（確定性順序）
//   - Next(table, after) 回傳嚴格位於 after 之後的第一筆；after 為 nil 表示從頭開始
//   - 遷移器讀取後立即 Delete，讀取恰好一次
//
// 實作:
//   - Memory: 記憶體版本，測試與 demo 使用
//   - Badger: dgraph-io/badger/v4 持久化版本，鍵格式 {table}/{key}
//
// ============================================================================

package source

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("source: entry not found")
	ErrInvalidTable = errors.New("source: invalid table name")
)

// Entry 資料表中的一筆記錄
type Entry struct {
	Key   string
	Value []byte
}

// Dataset 來源資料集介面
type Dataset interface {
	// Next 回傳 table 中嚴格位於 after 之後的第一筆；沒有更多資料時 ok 為 false
	Next(table string, after *string) (entry Entry, ok bool, err error)
	Get(table, key string) ([]byte, error)
	Put(table, key string, value []byte) error
	Delete(table, key string) error
	Count(table string) (int, error)
	// Scan 依鍵順序走訪 table，fn 回傳錯誤時中止
	Scan(table string, fn func(Entry) error) error
	Close() error
}

// PutJSON 以 JSON 編碼寫入記錄
func PutJSON(ds Dataset, table, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", table, key, err)
	}
	return ds.Put(table, key, data)
}

// DecodeJSON 解碼記錄
func DecodeJSON(e Entry, v any) error {
	if err := json.Unmarshal(e.Value, v); err != nil {
		return fmt.Errorf("failed to unmarshal entry %q: %w", e.Key, err)
	}
	return nil
}

func validTable(table string) error {
	if table == "" {
		return ErrInvalidTable
	}
	for i := 0; i < len(table); i++ {
		if table[i] == '/' {
			return fmt.Errorf("%w: %q", ErrInvalidTable, table)
		}
	}
	return nil
}
