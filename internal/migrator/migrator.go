// ============================================================================
// Beaver-Migrate 遷移器 - 單一領域的排空與批次化
// ============================================================================
//
// Package: internal/migrator
// 文件: migrator.go
// 功能: 在雙維度預算下，從游標處排空一個領域的資料集並交給傳輸層
//
// 每個 tick 的迴圈 (drain):
//   1. 檢查上限：本 tick 項目數已滿 → 停止
//      本地預算或目的端預算付不起一個項目 → 批次為空時回傳 ErrOutOfBudget
//      （游標不變），否則停止並送出
//   2. 讀取游標之後的下一筆；子階段已空 → 進入下一子階段；全部已空 → 回傳 nil
//   3. 轉換為 Message，確認放得進批次與預算後扣款
//   4. 連同來源位置加入打包器並推進游標；已關閉的批次立即交出
//
// 交出 (handoff)：Send 先把批次寫入 WAL 再投遞，之後才從來源刪除該批的項目。
// 在這之前崩潰，項目仍在來源中會被重新讀取；在這之後崩潰，WAL 保有完整批次。
// 刪除前崩潰只會造成重送，由目的端依內容雜湊去重。
//
// 交出失敗時回傳原游標，未交出的項目留在來源，下一個 tick 重新讀取。
// 身分轉換失敗的項目不刪除、不送出，回報一次後以游標跳過。
//
// ============================================================================

package migrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChuLiYu/beaver-migrate/internal/budget"
	"github.com/ChuLiYu/beaver-migrate/internal/identity"
	"github.com/ChuLiYu/beaver-migrate/internal/source"
	"github.com/ChuLiYu/beaver-migrate/internal/transport"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

var log = slog.Default()

// ErrRejected 項目無法轉換，保留在來源資料中
var ErrRejected = errors.New("item rejected")

// BatchSender 傳輸層的送出介面
type BatchSender interface {
	Send(ctx context.Context, batch types.Batch) (types.Ticket, error)
}

// Config 遷移器設定
type Config struct {
	MaxItemsPerTick   int         // 每 tick 項目數上限，0 表示不限
	MaxBatchesPerTick int         // 每 tick 批次數上限，0 表示不限
	MaxItemsPerBatch  int         // 每批項目數上限
	MaxBatchBytes     int         // 每批編碼後位元組上限
	BatchBudget       budget.Cost // 目的端每批處理預算（已扣除安全邊際）
	DestinationBudget budget.Cost // 目的端每 tick 處理預算（已扣除安全邊際），零值表示不限
	ItemCost          budget.Cost // 本地讀取並刪除一個項目的成本
	MessageCost       transport.CostModel
}

// Rejection 被拒絕的項目
type Rejection struct {
	Domain types.DomainID
	Table  string
	Key    string
	Err    error
}

// Report 一次 MigrateMany 的結果
type Report struct {
	Domain   types.DomainID
	Items    int
	Batches  int
	Rejected int
	Drained  bool
}

// stage 子階段：一張資料表與其轉換函式
type stage struct {
	table   string
	convert func(tr *identity.Mapper, e source.Entry) (types.Message, error)
}

// newStage 以記錄型別 R 解碼資料表項目並轉換為 Message
func newStage[R any](table string, build func(tr *identity.Mapper, key string, rec R) (types.Message, error)) stage {
	return stage{
		table: table,
		convert: func(tr *identity.Mapper, e source.Entry) (types.Message, error) {
			var rec R
			if err := source.DecodeJSON(e, &rec); err != nil {
				return types.Message{}, err
			}
			return build(tr, e.Key, rec)
		},
	}
}

// drain 對一個領域執行一次排空
//
// 參數說明：
//   - stages: 依順序的子階段
//   - cursor: 上次回傳的游標，nil 表示從頭開始
//   - meter: 本 tick 的本地預算，由呼叫者擁有
//
// 返回值：
//   - *types.Cursor: 尚有資料時的新游標；排空時為 nil
//   - Report: 本次處理統計
//   - error: 空批次也付不起一個項目時為 ErrOutOfBudget；任何錯誤時游標都不變
func (s *Set) drain(ctx context.Context, domain types.DomainID, stages []stage, cursor *types.Cursor, meter *budget.Meter) (*types.Cursor, Report, error) {
	report := Report{Domain: domain}
	cfg := s.cfg

	start := cursor.Clone()
	cur := cursor.Clone()
	if cur == nil {
		cur = types.StageStart(0)
	}

	packer := transport.NewPacker(domain, transport.Limits{
		MaxBytes:    cfg.MaxBatchBytes,
		MaxItems:    cfg.MaxItemsPerBatch,
		MaxBatches:  cfg.MaxBatchesPerTick,
		BatchBudget: cfg.BatchBudget,
		Cost:        cfg.MessageCost,
	})

	var dest *budget.Meter
	if !cfg.DestinationBudget.IsZero() {
		dest = budget.NewMeter(cfg.DestinationBudget)
	}
	destCanAfford := func(c budget.Cost) bool {
		return dest == nil || dest.CanConsume(c)
	}

	outOfBudget := func() (*types.Cursor, Report, error) {
		return start, Report{Domain: domain}, fmt.Errorf("%w: cannot afford one %s item (local remaining %s)",
			budget.ErrOutOfBudget, domain, meter.Remaining())
	}

	visited := 0
	var loopErr error

loop:
	for {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}

		// 1. 上限與預算檢查
		if cfg.MaxItemsPerTick > 0 && visited >= cfg.MaxItemsPerTick {
			break
		}
		if !meter.CanConsume(cfg.ItemCost) || !destCanAfford(cfg.MessageCost.PerItem) {
			if packer.Empty() && cur.Equal(startOrZero(start)) {
				return outOfBudget()
			}
			break
		}

		// 2. 讀取下一筆
		if int(cur.Stage) >= len(stages) {
			cur = nil
			break
		}
		st := stages[cur.Stage]
		entry, ok, err := s.src.Next(st.table, cur.Key)
		if err != nil {
			loopErr = fmt.Errorf("failed to read %s: %w", st.table, err)
			break
		}
		if !ok {
			if int(cur.Stage)+1 < len(stages) {
				cur = types.StageStart(cur.Stage + 1)
				continue
			}
			cur = nil
			break
		}

		// 3. 轉換；失敗則保留來源資料並跳過
		msg, err := st.convert(s.mapper, entry)
		if err != nil {
			if s.reject(Rejection{Domain: domain, Table: st.table, Key: entry.Key, Err: fmt.Errorf("%w: %w", ErrRejected, err)}) {
				report.Rejected++
			}
			visited++
			cur = types.After(cur.Stage, entry.Key)
			continue
		}

		fits, err := packer.Fits(msg)
		if err != nil {
			if errors.Is(err, transport.ErrMessageTooLarge) && packer.Empty() {
				return start, Report{Domain: domain}, fmt.Errorf("%w: %v", budget.ErrOutOfBudget, err)
			}
			if errors.Is(err, transport.ErrMessageTooLarge) {
				break
			}
			loopErr = err
			break
		}
		if !fits {
			break
		}

		_, cost, err := packer.Measure(msg)
		if err != nil {
			loopErr = err
			break
		}
		if !meter.CanConsume(cfg.ItemCost) || !destCanAfford(cost) {
			if packer.Empty() && cur.Equal(startOrZero(start)) {
				return outOfBudget()
			}
			break
		}

		if err := meter.TryConsume(cfg.ItemCost); err != nil {
			break
		}
		if dest != nil {
			if err := dest.TryConsume(cost); err != nil {
				break
			}
		}

		// 4. 加入批次並推進游標；來源資料在交出後才刪除
		if err := packer.AddFrom(msg, transport.Origin{Table: st.table, Key: entry.Key}); err != nil {
			// Fits 已確認，不應發生
			loopErr = err
			break
		}
		visited++
		cur = types.After(cur.Stage, entry.Key)

		for _, sealed := range packer.DrainSealed() {
			if err := s.handoff(ctx, sealed); err != nil {
				loopErr = err
				break loop
			}
			report.Items += len(sealed.Batch.Messages)
			report.Batches++
		}
	}

	// 已讀取的項目都要交出；失敗的批次留在來源
	for _, sealed := range packer.Flush() {
		if loopErr != nil {
			break
		}
		if err := s.handoff(ctx, sealed); err != nil {
			loopErr = err
			break
		}
		report.Items += len(sealed.Batch.Messages)
		report.Batches++
	}

	if loopErr != nil {
		// 未交出的項目仍在來源中；回到原游標重新讀取，已刪除的項目自然被略過
		return start, report, loopErr
	}
	report.Drained = cur == nil
	return cur, report, nil
}

// handoff 送出一個批次，成功交給傳輸層後才從來源刪除其項目
func (s *Set) handoff(ctx context.Context, sealed transport.Sealed) error {
	if err := s.send(ctx, sealed.Batch); err != nil {
		return err
	}
	for _, o := range sealed.Origins {
		if err := s.src.Delete(o.Table, o.Key); err != nil {
			return fmt.Errorf("failed to remove %s/%s: %w", o.Table, o.Key, err)
		}
	}
	return nil
}

// send 送出一個批次；投遞失敗不是遷移失敗（資料已保留為 unsent）
func (s *Set) send(ctx context.Context, b types.Batch) error {
	_, err := s.sender.Send(ctx, b)
	if err == nil || errors.Is(err, transport.ErrTransportSend) {
		return nil
	}
	return fmt.Errorf("failed to hand batch to transport: %w", err)
}

// reject 回報被拒絕的項目；同一項目只回報一次
func (s *Set) reject(r Rejection) bool {
	id := string(r.Domain) + "/" + r.Table + "/" + r.Key
	if _, seen := s.rejected[id]; seen {
		return false
	}
	if s.rejected == nil {
		s.rejected = make(map[string]struct{})
	}
	s.rejected[id] = struct{}{}

	log.Warn("Item rejected, left in source",
		"domain", r.Domain,
		"table", r.Table,
		"key", r.Key,
		"error", r.Err)
	if s.onReject != nil {
		s.onReject(r)
	}
	return true
}

// startOrZero 把 nil 游標視為第一個子階段的起點
func startOrZero(c *types.Cursor) *types.Cursor {
	if c == nil {
		return types.StageStart(0)
	}
	return c
}
