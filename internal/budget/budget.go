// ============================================================================
// Beaver-Migrate 資源預算 - 雙維度消耗限制器
// ============================================================================
//
// Package: internal/budget
// 文件: budget.go
// 功能: 以兩個獨立維度（RefTime 時間代理、ProofSize 大小代理）限制單一 tick 的工作量
//
// 使用規則:
//   - 先檢查再動作：呼叫端在提交任何工作或訊息前必須通過 TryConsume
//   - TryConsume 是原子的 check-and-decrement，任一維度不足時完全不扣減
//   - Meter 只存活一個 tick，由該 tick 的呼叫獨佔
//
// ============================================================================

package budget

import (
	"errors"
	"fmt"
)

// ErrOutOfBudget 預算不足以容納下一個工作單位
var ErrOutOfBudget = errors.New("out of budget")

// Cost 雙維度成本
type Cost struct {
	RefTime   uint64 `json:"ref_time" yaml:"ref_time"`
	ProofSize uint64 `json:"proof_size" yaml:"proof_size"`
}

// Add 兩個成本相加（飽和加法，不會溢位回繞）
func (c Cost) Add(o Cost) Cost {
	return Cost{
		RefTime:   satAdd(c.RefTime, o.RefTime),
		ProofSize: satAdd(c.ProofSize, o.ProofSize),
	}
}

// Scale 成本乘以 n（飽和乘法）
func (c Cost) Scale(n uint64) Cost {
	return Cost{
		RefTime:   satMul(c.RefTime, n),
		ProofSize: satMul(c.ProofSize, n),
	}
}

// AnyGt 任一維度大於 o 即為 true
func (c Cost) AnyGt(o Cost) bool {
	return c.RefTime > o.RefTime || c.ProofSize > o.ProofSize
}

// IsZero 兩個維度皆為零
func (c Cost) IsZero() bool {
	return c.RefTime == 0 && c.ProofSize == 0
}

func (c Cost) String() string {
	return fmt.Sprintf("{ref_time=%d, proof_size=%d}", c.RefTime, c.ProofSize)
}

// WithMargin 保留 percent% 的安全餘量後的上限
//
// percent 超出 [0, 100] 時會被夾住。
func WithMargin(limit Cost, percent int) Cost {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	keep := uint64(100 - percent)
	return Cost{
		RefTime:   limit.RefTime/100*keep + limit.RefTime%100*keep/100,
		ProofSize: limit.ProofSize/100*keep + limit.ProofSize%100*keep/100,
	}
}

// ============================================================================
// Meter 預算計量器
// ============================================================================

// Meter 單一 tick 的預算計量器（非並發安全，由單一呼叫者獨佔）
type Meter struct {
	limit    Cost
	consumed Cost
}

// NewMeter 建立上限為 limit 的計量器
func NewMeter(limit Cost) *Meter {
	return &Meter{limit: limit}
}

// CanConsume 判斷是否還能容納 cost（不扣減）
func (m *Meter) CanConsume(cost Cost) bool {
	next := m.consumed.Add(cost)
	return !next.AnyGt(m.limit)
}

// TryConsume 原子地檢查並扣減 cost
//
// 返回值：
//   - error: 任一維度不足時回傳 ErrOutOfBudget，且不扣減任何維度
func (m *Meter) TryConsume(cost Cost) error {
	if !m.CanConsume(cost) {
		return fmt.Errorf("%w: need %s, remaining %s", ErrOutOfBudget, cost, m.Remaining())
	}
	m.consumed = m.consumed.Add(cost)
	return nil
}

// Remaining 剩餘預算
func (m *Meter) Remaining() Cost {
	return Cost{
		RefTime:   m.limit.RefTime - min(m.consumed.RefTime, m.limit.RefTime),
		ProofSize: m.limit.ProofSize - min(m.consumed.ProofSize, m.limit.ProofSize),
	}
}

// Consumed 已消耗的預算
func (m *Meter) Consumed() Cost {
	return m.consumed
}

// Limit 計量器上限
func (m *Meter) Limit() Cost {
	return m.limit
}

func satAdd(a, b uint64) uint64 {
	s := a + b
	if s < a {
		return ^uint64(0)
	}
	return s
}

func satMul(a, n uint64) uint64 {
	if a == 0 || n == 0 {
		return 0
	}
	p := a * n
	if p/n != a {
		return ^uint64(0)
	}
	return p
}
