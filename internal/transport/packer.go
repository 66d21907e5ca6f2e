package transport

// ============================================================================
// 批次打包
// 職責：以貪婪方式把訊息裝入批次，每批受以下上限約束：
// 1. 編碼後位元組上限 (MaxBytes)
// 2. 目的端每批處理預算 (BatchBudget)
// 3. 每批訊息數上限 (MaxItems)
// 另有每個 tick 的批次數上限 (MaxBatches)。
// 每則訊息放入第一個放得下的開啟中批次，都放不下才開新批次；
// 這不是最佳裝箱，但保證終止且批次數有界。
// ============================================================================

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ChuLiYu/beaver-migrate/internal/budget"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

var (
	// ErrMessageTooLarge 單則訊息即使放入空批次也超出上限（設定錯誤）
	ErrMessageTooLarge = errors.New("message does not fit into an empty batch")
	// ErrBatchLimit 已達批次數上限
	ErrBatchLimit = errors.New("batch limit reached")
)

// CostModel 目的端處理單則訊息的成本模型
type CostModel struct {
	PerItem budget.Cost `yaml:"per_item"`
	PerByte budget.Cost `yaml:"per_byte"`
}

// Of 編碼大小為 size 的訊息成本
func (c CostModel) Of(size int) budget.Cost {
	return c.PerItem.Add(c.PerByte.Scale(uint64(size)))
}

// Limits 批次上限；零值代表不限制
type Limits struct {
	MaxBytes    int
	MaxItems    int
	MaxBatches  int
	BatchBudget budget.Cost
	Cost        CostModel
}

// Origin 訊息在來源資料集中的位置
type Origin struct {
	Table string
	Key   string
}

// Sealed 已關閉的批次與其訊息的來源位置（與 Messages 一一對應）
type Sealed struct {
	Batch   types.Batch
	Origins []Origin
}

// bin 開啟中的批次
type bin struct {
	msgs    []types.Message
	origins []Origin
	bytes   int
	cost    budget.Cost
}

// Packer 增量式批次打包器（first-fit）
//
// 每則訊息放入第一個放得下的開啟中批次；都放不下時開新批次。
// 項目數已滿的批次立即關閉，其餘批次保持開啟直到 Flush。
type Packer struct {
	domain types.DomainID
	limits Limits

	open   []*bin
	closed []Sealed
	sealed int // 已關閉的批次數（含已被取走的）
	items  int
}

// NewPacker 建立領域 domain 的打包器
func NewPacker(domain types.DomainID, limits Limits) *Packer {
	return &Packer{domain: domain, limits: limits}
}

// Measure 回傳訊息的編碼大小與目的端處理成本
func (p *Packer) Measure(m types.Message) (int, budget.Cost, error) {
	size, err := MessageSize(m)
	if err != nil {
		return 0, budget.Cost{}, err
	}
	return size, p.limits.Cost.Of(size), nil
}

// Fits 判斷訊息能否放入某個開啟中的批次或新開的批次
//
// 錯誤處理：
//   - ErrMessageTooLarge: 訊息無法放入任何批次
func (p *Packer) Fits(m types.Message) (bool, error) {
	size, cost, err := p.Measure(m)
	if err != nil {
		return false, err
	}
	if err := p.fitsAlone(size, cost); err != nil {
		return false, err
	}
	return p.find(size, cost) != nil || p.canOpen(), nil
}

// Add 加入訊息
func (p *Packer) Add(m types.Message) error {
	return p.AddFrom(m, Origin{})
}

// AddFrom 加入訊息並記下它的來源位置
func (p *Packer) AddFrom(m types.Message, origin Origin) error {
	size, cost, err := p.Measure(m)
	if err != nil {
		return err
	}
	if err := p.fitsAlone(size, cost); err != nil {
		return err
	}

	b := p.find(size, cost)
	if b == nil {
		if !p.canOpen() {
			return fmt.Errorf("%w: %d batches", ErrBatchLimit, p.BatchCount())
		}
		b = &bin{bytes: EnvelopeSize(p.domain)}
		p.open = append(p.open, b)
	} else {
		b.bytes++ // ','
	}

	b.msgs = append(b.msgs, m)
	b.origins = append(b.origins, origin)
	b.bytes += size
	b.cost = b.cost.Add(cost)
	p.items++

	if p.limits.MaxItems > 0 && len(b.msgs) >= p.limits.MaxItems {
		p.seal(b)
	}
	return nil
}

// Drain 取走已關閉的批次，開啟中的批次保留
func (p *Packer) Drain() []types.Batch {
	return batchesOf(p.DrainSealed())
}

// DrainSealed 同 Drain，另附來源位置
func (p *Packer) DrainSealed() []Sealed {
	out := p.closed
	p.closed = nil
	return out
}

// Batches 關閉所有批次並取走所有尚未取走的批次
func (p *Packer) Batches() []types.Batch {
	return batchesOf(p.Flush())
}

// Flush 同 Batches，另附來源位置
func (p *Packer) Flush() []Sealed {
	for len(p.open) > 0 {
		p.seal(p.open[0])
	}
	return p.DrainSealed()
}

// Items 已加入的訊息總數
func (p *Packer) Items() int {
	return p.items
}

// BatchCount 已產生的批次數（含開啟中的批次）
func (p *Packer) BatchCount() int {
	return p.sealed + len(p.open)
}

// Empty 尚未加入任何訊息
func (p *Packer) Empty() bool {
	return p.items == 0
}

func (p *Packer) fitsAlone(size int, cost budget.Cost) error {
	if p.limits.MaxBytes > 0 && EnvelopeSize(p.domain)+size > p.limits.MaxBytes {
		return fmt.Errorf("%w: %d bytes exceeds ceiling %d", ErrMessageTooLarge, EnvelopeSize(p.domain)+size, p.limits.MaxBytes)
	}
	if !p.limits.BatchBudget.IsZero() && cost.AnyGt(p.limits.BatchBudget) {
		return fmt.Errorf("%w: cost %s exceeds batch budget %s", ErrMessageTooLarge, cost, p.limits.BatchBudget)
	}
	return nil
}

// find 第一個放得下的開啟中批次
func (p *Packer) find(size int, cost budget.Cost) *bin {
	for _, b := range p.open {
		if p.fits(b, size, cost) {
			return b
		}
	}
	return nil
}

func (p *Packer) fits(b *bin, size int, cost budget.Cost) bool {
	if p.limits.MaxItems > 0 && len(b.msgs) >= p.limits.MaxItems {
		return false
	}
	if p.limits.MaxBytes > 0 && b.bytes+1+size > p.limits.MaxBytes {
		return false
	}
	if !p.limits.BatchBudget.IsZero() && b.cost.Add(cost).AnyGt(p.limits.BatchBudget) {
		return false
	}
	return true
}

func (p *Packer) canOpen() bool {
	return p.limits.MaxBatches <= 0 || p.BatchCount() < p.limits.MaxBatches
}

func (p *Packer) seal(b *bin) {
	for i, o := range p.open {
		if o == b {
			p.open = append(p.open[:i], p.open[i+1:]...)
			break
		}
	}
	p.closed = append(p.closed, Sealed{
		Batch:   types.Batch{Domain: p.domain, Messages: b.msgs},
		Origins: b.origins,
	})
	p.sealed++
}

func batchesOf(sealed []Sealed) []types.Batch {
	if len(sealed) == 0 {
		return nil
	}
	out := make([]types.Batch, len(sealed))
	for i, s := range sealed {
		out[i] = s.Batch
	}
	return out
}

// Pack 將整個工作集打包成批次（first-fit decreasing）
//
// 工作集與順序無關：先依編碼大小由大到小排序（大小相同者保持原順序），再逐則 first-fit。
func Pack(domain types.DomainID, msgs []types.Message, limits Limits) ([]types.Batch, error) {
	type sized struct {
		msg  types.Message
		size int
	}
	set := make([]sized, len(msgs))
	for i, m := range msgs {
		size, err := MessageSize(m)
		if err != nil {
			return nil, err
		}
		set[i] = sized{msg: m, size: size}
	}
	sort.SliceStable(set, func(i, j int) bool { return set[i].size > set[j].size })

	p := NewPacker(domain, limits)
	for _, s := range set {
		if err := p.Add(s.msg); err != nil {
			return nil, err
		}
	}
	return p.Batches(), nil
}
