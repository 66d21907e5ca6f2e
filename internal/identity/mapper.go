package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var log = slog.Default()

// Witness 衍生帳戶的見證：來源帳戶由 Owner 沿 Path 衍生而來
type Witness struct {
	Source string   `yaml:"source" json:"source"`
	Owner  string   `yaml:"owner" json:"owner"`
	Path   []uint16 `yaml:"path" json:"path"`
}

type witness struct {
	owner AccountID
	path  []uint16
}

// Mapper 遷移器使用的身分轉換器
//
// 轉換規則依序：
//  1. 已登記見證的衍生帳戶 → TranslateDerived
//  2. 來源端主權帳戶 → TranslateSovereign
//  3. 其他帳戶在兩端定址相同，原樣保留
type Mapper struct {
	mu        sync.RWMutex
	witnesses map[AccountID]witness
	prefix    uint16 // 輸出位址使用的網路前綴
}

// NewMapper 建立轉換器並登記見證
func NewMapper(prefix uint16, witnesses []Witness) (*Mapper, error) {
	m := &Mapper{
		witnesses: make(map[AccountID]witness),
		prefix:    prefix,
	}
	for _, w := range witnesses {
		if err := m.RegisterAddress(w); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Register 登記見證（重複登記時以最後一次為準）
func (m *Mapper) Register(source, owner AccountID, path []uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.witnesses[source] = witness{owner: owner, path: append([]uint16(nil), path...)}
}

// RegisterAddress 以文字位址登記見證
func (m *Mapper) RegisterAddress(w Witness) error {
	source, err := ParseAccount(w.Source)
	if err != nil {
		return fmt.Errorf("witness source %q: %w", w.Source, err)
	}
	owner, err := ParseAccount(w.Owner)
	if err != nil {
		return fmt.Errorf("witness owner %q: %w", w.Owner, err)
	}
	m.Register(source, owner, w.Path)
	return nil
}

// Witnesses 已登記見證數量
func (m *Mapper) Witnesses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.witnesses)
}

// Map 將來源端帳戶轉為目的端帳戶
func (m *Mapper) Map(id AccountID) (AccountID, error) {
	m.mu.RLock()
	w, ok := m.witnesses[id]
	m.mu.RUnlock()

	if ok {
		return TranslateDerived(id, w.owner, w.path)
	}

	translated, err := TranslateSovereign(id)
	if err == nil {
		return translated, nil
	}
	if errors.Is(err, ErrNotSovereign) {
		return id, nil
	}
	return AccountID{}, err
}

// MapAddress 同 Map，輸入與輸出皆為文字位址
func (m *Mapper) MapAddress(addr string) (string, error) {
	id, err := ParseAccount(addr)
	if err != nil {
		return "", err
	}
	out, err := m.Map(id)
	if err != nil {
		log.Warn("Identity translation rejected", "address", addr, "error", err)
		return "", err
	}
	return FormatSS58(out, m.prefix), nil
}

// Prefix 輸出位址的網路前綴
func (m *Mapper) Prefix() uint16 {
	return m.prefix
}
