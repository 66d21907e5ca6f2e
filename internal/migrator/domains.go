package migrator

// ============================================================================
// 職責說明：
// 1. Set 持有來源資料集、身分轉換器與傳輸層，依領域分派 MigrateMany
// 2. 每個領域定義依序讀取的子階段（資料表 + 轉換函式）
// 3. preimage 的兩種歷史格式在第一次讀取時正規化為同一種訊息
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/beaver-migrate/internal/budget"
	"github.com/ChuLiYu/beaver-migrate/internal/identity"
	"github.com/ChuLiYu/beaver-migrate/internal/source"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

var ErrUnknownDomain = errors.New("unknown domain")

// Set 所有領域的遷移器
type Set struct {
	mu     sync.Mutex
	cfg    Config
	src    source.Dataset
	mapper *identity.Mapper
	sender BatchSender

	onReject func(Rejection)
	onReport func(Report)
	rejected map[string]struct{} // 已回報過的被拒絕項目
}

// NewSet 建立遷移器集合
func NewSet(cfg Config, src source.Dataset, mapper *identity.Mapper, sender BatchSender) *Set {
	if cfg.MaxItemsPerBatch <= 0 {
		cfg.MaxItemsPerBatch = 100
	}
	return &Set{
		cfg:    cfg,
		src:    src,
		mapper: mapper,
		sender: sender,
	}
}

// SetLimits 調整每 tick 上限，0 表示不限
func (s *Set) SetLimits(maxItems, maxBatches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxItemsPerTick = maxItems
	s.cfg.MaxBatchesPerTick = maxBatches
}

// OnReject 註冊被拒絕項目的回呼
func (s *Set) OnReject(fn func(Rejection)) {
	s.onReject = fn
}

// OnReport 註冊每次 MigrateMany 完成後的回呼
func (s *Set) OnReport(fn func(Report)) {
	s.onReport = fn
}

// MigrateMany 在預算內遷移一個領域的資料
//
// 參數說明：
//   - domain: 要遷移的領域
//   - cursor: 上次回傳的游標，nil 表示從頭開始
//   - meter: 本 tick 的本地預算
//
// 返回值：
//   - *types.Cursor: 尚有資料時的新游標；領域已排空時為 nil
//   - error: ErrOutOfBudget（游標不變）、讀寫錯誤或 ErrUnknownDomain
//
// 併發安全：同一時間只會有一個 MigrateMany 執行
func (s *Set) MigrateMany(ctx context.Context, domain types.DomainID, cursor *types.Cursor, meter *budget.Meter) (*types.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stages, err := stagesFor(domain)
	if err != nil {
		return cursor, err
	}

	next, report, err := s.drain(ctx, domain, stages, cursor, meter)
	log.Debug("Domain step finished",
		"domain", domain,
		"items", report.Items,
		"batches", report.Batches,
		"rejected", report.Rejected,
		"drained", report.Drained)
	if s.onReport != nil {
		s.onReport(report)
	}
	return next, err
}

// Preview 轉換一個領域的所有資料但不刪除、不送出
//
// 供一致性檢查在遷移前取得目的端應有的內容；無法轉換的項目計入 rejected。
func (s *Set) Preview(domain types.DomainID, fn func(types.Message) error) (rejected int, err error) {
	stages, err := stagesFor(domain)
	if err != nil {
		return 0, err
	}
	for _, st := range stages {
		err := s.src.Scan(st.table, func(e source.Entry) error {
			msg, err := st.convert(s.mapper, e)
			if err != nil {
				rejected++
				return nil
			}
			return fn(msg)
		})
		if err != nil {
			return rejected, fmt.Errorf("failed to scan %s: %w", st.table, err)
		}
	}
	return rejected, nil
}

// stagesFor 領域分派（封閉集合，編譯期固定）
func stagesFor(domain types.DomainID) ([]stage, error) {
	switch domain {
	case types.DomainAccounts:
		return accountStages, nil
	case types.DomainMultisigs:
		return multisigStages, nil
	case types.DomainProxies:
		return proxyStages, nil
	case types.DomainPreimages:
		return preimageStages, nil
	case types.DomainVesting:
		return vestingStages, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, domain)
}

// ============================================================================
// 領域子階段
// ============================================================================

var accountStages = []stage{
	newStage(source.TableAccounts, func(tr *identity.Mapper, key string, rec source.AccountRecord) (types.Message, error) {
		who, err := tr.MapAddress(key)
		if err != nil {
			return types.Message{}, err
		}
		return types.Message{Kind: types.KindAccount, Account: &types.AccountMessage{
			Who:      who,
			Free:     rec.Free,
			Reserved: rec.Reserved,
			Nonce:    rec.Nonce,
		}}, nil
	}),
}

var multisigStages = []stage{
	newStage(source.TableMultisigs, func(tr *identity.Mapper, _ string, rec source.MultisigRecord) (types.Message, error) {
		creator, err := tr.MapAddress(rec.Creator)
		if err != nil {
			return types.Message{}, err
		}
		return types.Message{Kind: types.KindMultisig, Multisig: &types.MultisigMessage{
			Creator:  creator,
			Deposit:  rec.Deposit,
			CallHash: rec.CallHash,
		}}, nil
	}),
}

// 代理：先 proxies，再 announcements，游標不會回到第一階段
var proxyStages = []stage{
	newStage(source.TableProxies, func(tr *identity.Mapper, key string, rec source.ProxyRecord) (types.Message, error) {
		delegator, err := tr.MapAddress(key)
		if err != nil {
			return types.Message{}, err
		}
		proxies := make([]types.ProxyDefinition, len(rec.Proxies))
		for i, p := range rec.Proxies {
			delegate, err := tr.MapAddress(p.Delegate)
			if err != nil {
				return types.Message{}, fmt.Errorf("delegate %d: %w", i, err)
			}
			proxies[i] = types.ProxyDefinition{Delegate: delegate, ProxyType: p.ProxyType, Delay: p.Delay}
		}
		return types.Message{Kind: types.KindProxy, Proxy: &types.ProxyMessage{
			Delegator: delegator,
			Deposit:   rec.Deposit,
			Proxies:   proxies,
		}}, nil
	}),
	newStage(source.TableAnnouncements, func(tr *identity.Mapper, key string, rec source.AnnouncementRecord) (types.Message, error) {
		depositor, err := tr.MapAddress(key)
		if err != nil {
			return types.Message{}, err
		}
		return types.Message{Kind: types.KindProxyAnnouncement, Announcement: &types.AnnouncementMessage{
			Depositor: depositor,
			Deposit:   rec.Deposit,
		}}, nil
	}),
}

// preimage：先舊格式，再新格式；兩者都正規化為 preimageStatus
var preimageStages = []stage{
	newStage(source.TablePreimagesLegacy, func(tr *identity.Mapper, key string, rec source.LegacyRequestStatus) (types.Message, error) {
		st, err := fromLegacy(rec)
		if err != nil {
			return types.Message{}, err
		}
		return st.message(tr, key)
	}),
	newStage(source.TablePreimagesCurrent, func(tr *identity.Mapper, key string, rec source.RequestStatus) (types.Message, error) {
		st, err := fromCurrent(rec)
		if err != nil {
			return types.Message{}, err
		}
		return st.message(tr, key)
	}),
}

var vestingStages = []stage{
	newStage(source.TableVesting, func(tr *identity.Mapper, key string, rec source.VestingRecord) (types.Message, error) {
		who, err := tr.MapAddress(key)
		if err != nil {
			return types.Message{}, err
		}
		return types.Message{Kind: types.KindVesting, Vesting: &types.VestingMessage{
			Who:       who,
			Schedules: rec.Schedules,
		}}, nil
	}),
}

// ============================================================================
// preimage 正規化
// ============================================================================

var errEmptyStatus = errors.New("request status has no variant set")

// preimageStatus 兩種歷史格式共同的正規化形式
type preimageStatus struct {
	requested bool
	deposit   *source.Deposit
	count     uint32
	length    *uint32
}

func fromLegacy(rec source.LegacyRequestStatus) (preimageStatus, error) {
	switch {
	case rec.Unrequested != nil && rec.Requested == nil:
		d := rec.Unrequested.Deposit
		n := rec.Unrequested.Len
		return preimageStatus{deposit: &d, length: &n}, nil
	case rec.Requested != nil && rec.Unrequested == nil:
		return preimageStatus{
			requested: true,
			deposit:   rec.Requested.Deposit,
			count:     rec.Requested.Count,
			length:    rec.Requested.Len,
		}, nil
	}
	return preimageStatus{}, errEmptyStatus
}

func fromCurrent(rec source.RequestStatus) (preimageStatus, error) {
	switch {
	case rec.Unrequested != nil && rec.Requested == nil:
		d := rec.Unrequested.Ticket
		n := rec.Unrequested.Len
		return preimageStatus{deposit: &d, length: &n}, nil
	case rec.Requested != nil && rec.Unrequested == nil:
		return preimageStatus{
			requested: true,
			deposit:   rec.Requested.MaybeTicket,
			count:     rec.Requested.Count,
			length:    rec.Requested.MaybeLen,
		}, nil
	}
	return preimageStatus{}, errEmptyStatus
}

func (p preimageStatus) message(tr *identity.Mapper, hash string) (types.Message, error) {
	out := &types.PreimageMessage{
		Hash:      hash,
		Requested: p.requested,
		Count:     p.count,
	}
	if p.length != nil {
		n := *p.length
		out.Len = &n
	}
	if p.deposit != nil {
		who, err := tr.MapAddress(p.deposit.Who)
		if err != nil {
			return types.Message{}, err
		}
		out.Depositor = who
		out.Deposit = p.deposit.Amount
	}
	return types.Message{Kind: types.KindPreimageStatus, Preimage: out}, nil
}
