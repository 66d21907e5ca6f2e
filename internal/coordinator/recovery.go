package coordinator

// ============================================================================
// 職責說明：
// 1. Start：載入快照 → 重放 seq > LastSeq 的 WAL 事件
// 2. 定期快照：寫入快照後旋轉 WAL（序號延續，不會歸零）
// 3. Stop：最後一次快照並關閉 WAL
// ============================================================================

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

// Start 恢復狀態並開始接受 tick
//
// 流程：
//  1. loadSnapshot：階段、設定、出站記錄
//  2. replayWAL：只重放快照之後的事件（冪等）
//  3. 套用每 tick 上限
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	start := time.Now()
	log.Info("Starting recovery...")

	lastSeq, err := c.loadSnapshot()
	if err != nil {
		return fmt.Errorf("loadSnapshot failed: %w", err)
	}

	replayed, err := c.replayWAL(lastSeq)
	if err != nil {
		return fmt.Errorf("replayWAL failed: %w", err)
	}

	c.migrators.SetLimits(c.settings.MaxItemsPerTick, c.settings.MaxBatchesPerTick)
	c.started = true

	recoveryTime := time.Since(start)
	if recoveryTime > 3*time.Second {
		log.Warn("Recovery time exceeds 3s", "duration", recoveryTime)
	}
	if c.metrics != nil {
		c.metrics.SetRecoveryTime(recoveryTime.Seconds())
		c.metrics.SetPhase(c.phase.Kind)
	}
	c.updateGauges()

	stats := c.sender.Tracker().Stats()
	log.Info("Recovery completed",
		"duration", recoveryTime,
		"phase", c.phase.String(),
		"replayed_events", replayed,
		"in_flight", stats.InFlight,
		"unsent", stats.Unsent,
		"dead", stats.Dead)
	return nil
}

// loadSnapshot 從快照恢復狀態，回傳快照涵蓋的最後 WAL 序號
func (c *Coordinator) loadSnapshot() (uint64, error) {
	exists := c.snapshots.Exists()
	data, err := c.snapshots.Load()
	if err != nil {
		return 0, err
	}

	c.phase = data.Phase
	if exists {
		c.settings = data.Settings
	}
	c.sender.Tracker().Restore(data.Outbound)

	// 旋轉後的 WAL 可能是空的，序號仍須延續
	c.wal.AdvanceTo(data.LastSeq)

	log.Info("Snapshot loaded",
		"found", exists,
		"phase", data.Phase.String(),
		"outbound", len(data.Outbound),
		"last_seq", data.LastSeq)
	return data.LastSeq, nil
}

// replayWAL 重放快照之後的事件
func (c *Coordinator) replayWAL(after uint64) (int, error) {
	count := 0
	err := c.wal.ReplayAfter(after, func(ev wal.Event) error {
		count++
		switch ev.Type {
		case wal.EventPhase:
			var p types.Phase
			if err := ev.Decode(&p); err != nil {
				return fmt.Errorf("failed to decode phase event %d: %w", ev.Seq, err)
			}
			if !p.Valid() {
				return fmt.Errorf("%w: event %d holds %q", ErrInvalidPhase, ev.Seq, p.Kind)
			}
			c.phase = p

		case wal.EventSettings:
			var s types.Settings
			if err := ev.Decode(&s); err != nil {
				return fmt.Errorf("failed to decode settings event %d: %w", ev.Seq, err)
			}
			c.settings = s

		default:
			return c.sender.Apply(ev)
		}
		return nil
	})
	return count, err
}

// Snapshot 立即寫入快照並旋轉 WAL
func (c *Coordinator) Snapshot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() error {
	start := time.Now()

	data := types.SnapshotData{
		Phase:    c.phase,
		Settings: c.settings,
		Outbound: c.sender.Tracker().Snapshot(),
		LastSeq:  c.wal.GetLastSeq(),
	}
	data.Phase.Cursor = data.Phase.Cursor.Clone()

	var err error
	if c.cfg.SnapshotBackups > 0 {
		err = c.snapshots.WriteWithBackup(data, c.cfg.SnapshotBackups)
	} else {
		err = c.snapshots.Write(data)
	}
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := c.wal.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate WAL: %w", err)
	}
	c.sinceSnapshot = 0

	log.Info("Snapshot taken",
		"duration", time.Since(start),
		"phase", data.Phase.String(),
		"outbound", len(data.Outbound),
		"last_seq", data.LastSeq)
	return nil
}

// Stop 寫入最後一次快照並關閉 WAL（可重複呼叫）
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		log.Info("Coordinator already stopped")
		return nil
	}
	c.stopped = true
	log.Info("Stopping coordinator...")

	var snapErr error
	if c.started {
		snapErr = c.snapshotLocked()
		if snapErr != nil {
			log.Error("Failed to take final snapshot", "error", snapErr)
		}
	}
	if err := c.wal.Close(); err != nil {
		log.Error("Failed to close WAL", "error", err)
		if snapErr == nil {
			return err
		}
	}

	log.Info("Coordinator stopped")
	return snapErr
}
