package snapshot

// ============================================================================
// 職責說明：
// 1. 將協調器完整狀態（階段、設定、出站記錄）序列化為 JSON 快照檔
// 2. 使用原子性寫入（temp file + fsync + rename）防止損壞
// 3. 載入時驗證 schema 版本相容性
// 4. 配合 WAL 實現快速恢復：快照 + 重放 seq > LastSeq 的事件
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
)

// SchemaVersion 目前的快照版本
const SchemaVersion = 1

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot file is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

// Manager 快照管理器
type Manager struct {
	path string
	mu   sync.Mutex
}

// NewManager 建立快照管理器實例
func NewManager(path string) *Manager {
	return &Manager{
		path: path,
	}
}

// Write 原子性寫入快照
//
// 流程：
// 1. 寫入臨時檔案（.tmp）並 fsync
// 2. 使用 os.Rename 原子性替換原始檔案
func (m *Manager) Write(data types.SnapshotData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(data)
}

// Load 載入快照
//
// 行為：
//   - 如果檔案不存在，回傳初始狀態（Pending、無出站記錄）
//   - 驗證 schema 版本是否相容
//   - 偵測損壞的快照檔案
func (m *Manager) Load() (types.SnapshotData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var data types.SnapshotData

	raw, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Initial(), nil
		}
		return data, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	if !data.Phase.Valid() {
		return data, fmt.Errorf("%w: invalid phase %q", ErrCorruptedSnapshot, data.Phase.Kind)
	}

	if data.Outbound == nil {
		data.Outbound = make(map[types.Ticket]*types.OutboundRecord)
	}
	for ticket, rec := range data.Outbound {
		if rec == nil {
			return data, fmt.Errorf("%w: empty outbound record %s", ErrCorruptedSnapshot, ticket)
		}
	}
	return data, nil
}

// Initial 首次啟動的狀態
func Initial() types.SnapshotData {
	return types.SnapshotData{
		Phase:     types.Pending(),
		Outbound:  make(map[types.Ticket]*types.OutboundRecord),
		SchemaVer: SchemaVersion,
	}
}

// Exists 檢查快照檔案是否存在
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// GetPath 取得快照檔案路徑
func (m *Manager) GetPath() string {
	return m.path
}

// WriteWithBackup 寫入快照並保留舊版本備份
//
// 舊快照先複製為帶時間戳的備份，再原子性寫入新快照；
// 只保留最近 keepBackups 份備份。
func (m *Manager) WriteWithBackup(data types.SnapshotData, keepBackups int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if raw, err := os.ReadFile(m.path); err == nil {
		backupPath := fmt.Sprintf("%s.%s", m.path, time.Now().Format("20060102_150405.000000000"))
		if err := os.WriteFile(backupPath, raw, 0644); err != nil {
			return fmt.Errorf("failed to backup old snapshot: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read old snapshot: %w", err)
	}

	if err := m.writeLocked(data); err != nil {
		return err
	}
	return m.pruneBackups(keepBackups)
}

// Backups 列出備份檔，由舊到新
func (m *Manager) Backups() ([]string, error) {
	matches, err := filepath.Glob(m.path + ".*")
	if err != nil {
		return nil, err
	}
	var backups []string
	for _, p := range matches {
		if strings.HasSuffix(p, ".tmp") {
			continue
		}
		backups = append(backups, p)
	}
	sort.Strings(backups)
	return backups, nil
}

// ============================================================================
// 內部輔助方法
// ============================================================================

func (m *Manager) writeLocked(data types.SnapshotData) error {
	data.SchemaVer = SchemaVersion
	if data.Outbound == nil {
		data.Outbound = make(map[types.Ticket]*types.OutboundRecord)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpPath := m.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

func (m *Manager) pruneBackups(keep int) error {
	if keep < 0 {
		keep = 0
	}
	backups, err := m.Backups()
	if err != nil {
		return err
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune snapshot backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}
