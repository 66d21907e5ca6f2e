package coordinator

// ============================================================================
// 職責說明：
// 1. 管理介面：排程、強制階段、每 tick 上限、管理者身分、手動重送
// 2. 呼叫者必須是 root 或已設定的管理者（SetManager 只限 root）
// 3. 所有設定變更先寫 WAL (SETTINGS) 再生效
// ============================================================================

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

// Schedule 排程遷移
//
// 參數說明：
//   - caller: 呼叫者身分
//   - start: 開始時間，不可早於現在
//   - warmUp: 暖身期長度
//   - coolOff: 冷卻期長度
//
// 錯誤處理：
//   - ErrUnauthorized: 呼叫者沒有管理權限
//   - ErrInvalidPhase: 目前不是 Pending，或 start 早於現在
func (c *Coordinator) Schedule(caller string, start time.Time, warmUp, coolOff time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authorize(caller, false); err != nil {
		return err
	}
	if c.phase.Kind != types.PhasePending {
		return fmt.Errorf("%w: cannot schedule from %s", ErrInvalidPhase, c.phase.Kind)
	}
	now := c.clock.Now()
	if start.Before(now) {
		return fmt.Errorf("%w: start %s is in the past", ErrInvalidPhase, start.Format(time.RFC3339))
	}
	if warmUp < 0 || coolOff < 0 {
		return fmt.Errorf("%w: negative warm-up or cool-off", ErrInvalidPhase)
	}

	settings := c.settings
	settings.WarmUp = warmUp
	settings.CoolOff = coolOff
	if err := c.saveSettings(settings); err != nil {
		return err
	}

	log.Info("Migration scheduled",
		"caller", caller,
		"start", start,
		"warm_up", warmUp,
		"cool_off", coolOff)
	return c.transition(types.Scheduled(start), types.EventPhaseChanged)
}

// ForcePhase 強制設定階段（可違反只能前進的順序）
func (c *Coordinator) ForcePhase(caller string, phase types.Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authorize(caller, false); err != nil {
		return err
	}

	backwards := phase.Before(c.phase)
	log.Warn("Phase forced by administrator, forward-only order overridden",
		"caller", caller,
		"from", c.phase.String(),
		"to", phase.String(),
		"backwards", backwards)
	return c.transition(phase, types.EventPhaseForced)
}

// SetLimits 設定每 tick 項目數與批次數上限，0 表示不限
func (c *Coordinator) SetLimits(caller string, maxItems, maxBatches int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authorize(caller, false); err != nil {
		return err
	}
	if maxItems < 0 || maxBatches < 0 {
		return fmt.Errorf("invalid limits: items=%d batches=%d", maxItems, maxBatches)
	}

	settings := c.settings
	settings.MaxItemsPerTick = maxItems
	settings.MaxBatchesPerTick = maxBatches
	if err := c.saveSettings(settings); err != nil {
		return err
	}
	log.Info("Per-tick limits updated", "caller", caller, "max_items", maxItems, "max_batches", maxBatches)
	return nil
}

// SetManager 設定管理者身分（只限 root），空字串表示移除
func (c *Coordinator) SetManager(caller, manager string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authorize(caller, true); err != nil {
		return err
	}

	settings := c.settings
	settings.Manager = manager
	if err := c.saveSettings(settings); err != nil {
		return err
	}
	log.Info("Manager updated", "caller", caller, "manager", manager)
	return nil
}

// Resend 手動重送出站批次（包含死信）
func (c *Coordinator) Resend(ctx context.Context, caller string, ticket types.Ticket) (types.Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authorize(caller, false); err != nil {
		return "", err
	}
	next, err := c.sender.Resend(ctx, ticket)
	c.updateGauges()
	if err != nil {
		return "", err
	}
	log.Info("Batch resent by administrator", "caller", caller, "ticket", ticket, "new_ticket", next)
	return next, nil
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (c *Coordinator) authorize(caller string, rootOnly bool) error {
	if !c.started {
		return ErrNotStarted
	}
	if caller == c.cfg.Root {
		return nil
	}
	if !rootOnly && c.settings.Manager != "" && caller == c.settings.Manager {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnauthorized, caller)
}

// saveSettings 先寫 WAL 再套用設定
func (c *Coordinator) saveSettings(settings types.Settings) error {
	if err := c.wal.Append(wal.EventSettings, "settings", settings, true); err != nil {
		return fmt.Errorf("failed to journal settings: %w", err)
	}
	c.applySettings(settings)
	return nil
}

func (c *Coordinator) applySettings(settings types.Settings) {
	c.settings = settings
	c.migrators.SetLimits(settings.MaxItemsPerTick, settings.MaxBatchesPerTick)
}
