package source

import (
	"sort"
	"sync"
)

var _ Dataset = (*Memory)(nil)

// Memory 記憶體資料集，每個資料表維護排序後的鍵
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	keys   []string // 遞增排序
	values map[string][]byte
}

// NewMemory 建立空的記憶體資料集
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

func (m *Memory) table(name string, create bool) *memTable {
	t, ok := m.tables[name]
	if !ok && create {
		t = &memTable{values: make(map[string][]byte)}
		m.tables[name] = t
	}
	return t
}

// Next 二分搜尋嚴格大於 after 的第一個鍵
func (m *Memory) Next(table string, after *string) (Entry, bool, error) {
	if err := validTable(table); err != nil {
		return Entry{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.table(table, false)
	if t == nil || len(t.keys) == 0 {
		return Entry{}, false, nil
	}

	i := 0
	if after != nil {
		i = sort.Search(len(t.keys), func(i int) bool { return t.keys[i] > *after })
	}
	if i >= len(t.keys) {
		return Entry{}, false, nil
	}
	key := t.keys[i]
	return Entry{Key: key, Value: clone(t.values[key])}, true, nil
}

func (m *Memory) Get(table, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.table(table, false)
	if t == nil {
		return nil, ErrNotFound
	}
	v, ok := t.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Put(table, key string, value []byte) error {
	if err := validTable(table); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table, true)
	if _, exists := t.values[key]; !exists {
		i := sort.SearchStrings(t.keys, key)
		t.keys = append(t.keys, "")
		copy(t.keys[i+1:], t.keys[i:])
		t.keys[i] = key
	}
	t.values[key] = clone(value)
	return nil
}

// Delete 刪除不存在的鍵不視為錯誤
func (m *Memory) Delete(table, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(table, false)
	if t == nil {
		return nil
	}
	if _, exists := t.values[key]; !exists {
		return nil
	}
	delete(t.values, key)
	i := sort.SearchStrings(t.keys, key)
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	return nil
}

func (m *Memory) Count(table string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.table(table, false)
	if t == nil {
		return 0, nil
	}
	return len(t.keys), nil
}

func (m *Memory) Scan(table string, fn func(Entry) error) error {
	m.mu.RLock()
	t := m.table(table, false)
	var entries []Entry
	if t != nil {
		entries = make([]Entry, 0, len(t.keys))
		for _, k := range t.keys {
			entries = append(entries, Entry{Key: k, Value: clone(t.values[k])})
		}
	}
	m.mu.RUnlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
