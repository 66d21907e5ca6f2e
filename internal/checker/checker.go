// ============================================================================
// Beaver-Migrate 一致性檢查
// ============================================================================
//
// Package: internal/checker
// 文件: checker.go
// 功能: 遷移前後比對來源與目的端的內容
//
// 流程（每個領域）:
//   1. PreCheck(src)：遷移前在來源端轉換所有項目（不刪除），記下鍵集合與總額
//   2. PreDestination(dst)：遷移前記下目的端既有的記錄
//   3. PostCheck(dst, pre, preDst)：遷移後目的端必須恰好等於 preDst 覆蓋上 pre
//   4. PostSource(src, pre)：遷移後來源端只剩被拒絕的項目
//
// 錯誤處理:
//   每個不一致都是一個 *Mismatch；PostCheck/PostSource 以 errors.Join 收集全部，
//   並以 ErrConsistency 包裝，可用 errors.Is / errors.As 檢查。
//
// ============================================================================

package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ChuLiYu/beaver-migrate/internal/destination"
	"github.com/ChuLiYu/beaver-migrate/internal/source"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

var log = slog.Default()

// ErrConsistency 遷移前後內容不一致
var ErrConsistency = errors.New("consistency check failed")

// Previewer 在不消耗來源資料的情況下轉換一個領域（migrator.Set）
type Previewer interface {
	Preview(domain types.DomainID, fn func(types.Message) error) (rejected int, err error)
}

// ============================================================================
// 快照
// ============================================================================

// RecordKey 目的端記錄的主鍵
type RecordKey struct {
	Kind types.MessageKind `json:"kind"`
	Key  string            `json:"key"`
}

func (k RecordKey) String() string {
	return string(k.Kind) + "/" + k.Key
}

// MarshalText 讓 RecordKey 可作為 JSON map 的鍵
func (k RecordKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *RecordKey) UnmarshalText(text []byte) error {
	kind, key, ok := strings.Cut(string(text), "/")
	if !ok || kind == "" {
		return fmt.Errorf("invalid record key %q", text)
	}
	k.Kind, k.Key = types.MessageKind(kind), key
	return nil
}

// DomainState 單一領域的內容摘要
type DomainState struct {
	Records  map[RecordKey]uint64 `json:"records"` // 記錄 → 總額貢獻
	Total    uint64               `json:"total"`
	Rejected int                  `json:"rejected,omitempty"` // 只有來源端快照會填
}

// Snapshot 各領域的內容摘要
type Snapshot struct {
	Domains map[types.DomainID]*DomainState `json:"domains"`
}

// DestinationSnapshot 遷移前目的端的內容摘要
type DestinationSnapshot struct {
	Snapshot
}

func newSnapshot() Snapshot {
	return Snapshot{Domains: make(map[types.DomainID]*DomainState)}
}

func (s Snapshot) domain(d types.DomainID) *DomainState {
	st, ok := s.Domains[d]
	if !ok {
		st = &DomainState{Records: make(map[RecordKey]uint64)}
		s.Domains[d] = st
	}
	return st
}

func (st *DomainState) add(msg types.Message) {
	k := RecordKey{Kind: msg.Kind, Key: msg.Key()}
	if old, ok := st.Records[k]; ok {
		st.Total -= old
	}
	amount := msg.Amount()
	st.Records[k] = amount
	st.Total += amount
}

// ============================================================================
// 不一致
// ============================================================================

// Mismatch 單一不一致
type Mismatch struct {
	Domain types.DomainID
	Record string // 空字串表示領域層級
	Field  string // "missing", "unexpected", "amount", "total", "remaining"
	Want   string
	Got    string
}

func (m *Mismatch) Error() string {
	if m.Record == "" {
		return fmt.Sprintf("%s: %s: want %s, got %s", m.Domain, m.Field, m.Want, m.Got)
	}
	return fmt.Sprintf("%s: %s %s: want %s, got %s", m.Domain, m.Record, m.Field, m.Want, m.Got)
}

func joinMismatches(ms []error) error {
	if len(ms) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d mismatches: %w", ErrConsistency, len(ms), errors.Join(ms...))
}

// ============================================================================
// 檢查
// ============================================================================

// PreCheck 遷移前在來源端取得各領域應遷移的內容
func PreCheck(ctx context.Context, p Previewer, domains ...types.DomainID) (Snapshot, error) {
	if len(domains) == 0 {
		domains = types.Domains
	}
	snap := newSnapshot()
	for _, d := range domains {
		st := snap.domain(d)
		rejected, err := p.Preview(d, func(msg types.Message) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			st.add(msg)
			return nil
		})
		if err != nil {
			return snap, fmt.Errorf("precheck %s: %w", d, err)
		}
		st.Rejected = rejected
		log.Info("Source precheck",
			"domain", d,
			"records", len(st.Records),
			"total", st.Total,
			"rejected", rejected)
	}
	return snap, nil
}

// PreDestination 遷移前記下目的端中與 pre 相同領域的既有內容
func PreDestination(ctx context.Context, dst destination.Store, pre Snapshot) (DestinationSnapshot, error) {
	out := DestinationSnapshot{Snapshot: newSnapshot()}
	for d := range pre.Domains {
		st, err := scanDestination(ctx, dst, d)
		if err != nil {
			return out, err
		}
		out.Domains[d] = st
	}
	return out, nil
}

// PostCheck 遷移後比對目的端：必須恰好等於 preDst 覆蓋上 pre 的內容
func PostCheck(ctx context.Context, dst destination.Store, pre Snapshot, preDst DestinationSnapshot) error {
	var mismatches []error
	for _, d := range sortedDomains(pre.Domains) {
		want := expected(pre.Domains[d], preDst.Domains[d])
		got, err := scanDestination(ctx, dst, d)
		if err != nil {
			return err
		}
		mismatches = append(mismatches, compare(d, want, got)...)
	}

	if err := joinMismatches(mismatches); err != nil {
		log.Error("Destination postcheck failed", "mismatches", len(mismatches))
		return err
	}
	log.Info("Destination postcheck passed", "domains", len(pre.Domains))
	return nil
}

// PostSource 遷移後來源端每個領域只能剩下被拒絕的項目
func PostSource(src source.Dataset, pre Snapshot) error {
	var mismatches []error
	for _, d := range sortedDomains(pre.Domains) {
		remaining := 0
		for _, table := range source.DomainTables[d] {
			n, err := src.Count(table)
			if err != nil {
				return fmt.Errorf("postsource %s: %w", d, err)
			}
			remaining += n
		}
		if want := pre.Domains[d].Rejected; remaining != want {
			mismatches = append(mismatches, &Mismatch{
				Domain: d,
				Field:  "remaining",
				Want:   fmt.Sprint(want),
				Got:    fmt.Sprint(remaining),
			})
		}
	}
	return joinMismatches(mismatches)
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func scanDestination(ctx context.Context, dst destination.Store, d types.DomainID) (*DomainState, error) {
	st := &DomainState{Records: make(map[RecordKey]uint64)}
	for _, kind := range types.DomainKinds[d] {
		err := dst.Scan(ctx, kind, func(msg types.Message) error {
			st.add(msg)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan destination %s: %w", kind, err)
		}
	}
	return st, nil
}

// expected 目的端既有內容被來源內容覆蓋（upsert）後的結果
func expected(src, dst *DomainState) *DomainState {
	out := &DomainState{Records: make(map[RecordKey]uint64)}
	for _, st := range []*DomainState{dst, src} {
		if st == nil {
			continue
		}
		for k, v := range st.Records {
			if old, ok := out.Records[k]; ok {
				out.Total -= old
			}
			out.Records[k] = v
			out.Total += v
		}
	}
	return out
}

func compare(d types.DomainID, want, got *DomainState) []error {
	var out []error
	for _, k := range sortedKeys(want.Records) {
		g, ok := got.Records[k]
		if !ok {
			out = append(out, &Mismatch{Domain: d, Record: k.String(), Field: "missing", Want: fmt.Sprint(want.Records[k]), Got: "none"})
			continue
		}
		if w := want.Records[k]; g != w {
			out = append(out, &Mismatch{Domain: d, Record: k.String(), Field: "amount", Want: fmt.Sprint(w), Got: fmt.Sprint(g)})
		}
	}
	for _, k := range sortedKeys(got.Records) {
		if _, ok := want.Records[k]; !ok {
			out = append(out, &Mismatch{Domain: d, Record: k.String(), Field: "unexpected", Want: "none", Got: fmt.Sprint(got.Records[k])})
		}
	}
	if want.Total != got.Total {
		out = append(out, &Mismatch{Domain: d, Field: "total", Want: fmt.Sprint(want.Total), Got: fmt.Sprint(got.Total)})
	}
	return out
}

func sortedKeys(m map[RecordKey]uint64) []RecordKey {
	keys := make([]RecordKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].Key < keys[j].Key
	})
	return keys
}

// sortedDomains 依遷移順序排列
func sortedDomains(m map[types.DomainID]*DomainState) []types.DomainID {
	out := make([]types.DomainID, 0, len(m))
	for _, d := range types.Domains {
		if _, ok := m[d]; ok {
			out = append(out, d)
		}
	}
	return out
}
