package snapshot

// ============================================================================
// Snapshot Manager 測試檔案
// 職責：驗證快照的原子性寫入、載入、版本驗證與錯誤處理
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleSnapshot 建立進行中的遷移狀態
func sampleSnapshot(lastSeq uint64) types.SnapshotData {
	return types.SnapshotData{
		Phase: types.Ongoing(2, types.After(1, "alice")),
		Settings: types.Settings{
			MaxItemsPerTick:   100,
			MaxBatchesPerTick: 4,
			Manager:           "admin",
			WarmUp:            time.Minute,
		},
		Outbound: map[types.Ticket]*types.OutboundRecord{
			"t1": {
				Ticket:   "t1",
				Domain:   types.DomainProxies,
				Payload:  []byte(`{"domain":"proxies","messages":[]}`),
				Hash:     "abc",
				Items:    3,
				Status:   types.OutboundInFlight,
				SentAt:   1000,
				Deadline: 61000,
			},
			"t2": {
				Ticket:  "t2",
				Domain:  types.DomainAccounts,
				Payload: []byte(`{"domain":"accounts","messages":[]}`),
				Status:  types.OutboundDead,
				Attempt: 5,
			},
		},
		LastSeq: lastSeq,
	}
}

// ============================================================================
// 基礎功能測試
// ============================================================================

func TestNewManager(t *testing.T) {
	manager := NewManager("test_snapshot.json")
	assert.NotNil(t, manager)
	assert.Equal(t, "test_snapshot.json", manager.GetPath())
}

// TestWriteAndLoad 測試寫入與載入快照
func TestWriteAndLoad(t *testing.T) {
	snapshotPath := filepath.Join(t.TempDir(), "test_snapshot.json")
	manager := NewManager(snapshotPath)

	original := sampleSnapshot(100)
	require.NoError(t, manager.Write(original))

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, loaded.SchemaVer)
	assert.Equal(t, original.LastSeq, loaded.LastSeq)
	assert.Equal(t, original.Settings, loaded.Settings)
	assert.Equal(t, types.PhaseOngoing, loaded.Phase.Kind)
	assert.Equal(t, types.DomainProxies, loaded.Phase.Domain())
	assert.True(t, loaded.Phase.Cursor.Equal(types.After(1, "alice")))

	require.Len(t, loaded.Outbound, 2)
	for ticket, rec := range original.Outbound {
		got, exists := loaded.Outbound[ticket]
		require.True(t, exists, "record %s should exist", ticket)
		assert.Equal(t, rec, got)
	}
}

// TestAtomicWrite 測試原子性寫入
func TestAtomicWrite(t *testing.T) {
	snapshotPath := filepath.Join(t.TempDir(), "test_snapshot.json")
	manager := NewManager(snapshotPath)
	require.NoError(t, manager.Write(sampleSnapshot(50)))

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		assert.NoError(t, manager.Write(sampleSnapshot(100)))
	}()

	var loaded types.SnapshotData
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		data, err := manager.Load()
		assert.NoError(t, err)
		loaded = data
	}()

	wg.Wait()

	// 應該讀到完整的快照（舊的或新的），不會是半成品
	assert.True(t, loaded.LastSeq == 50 || loaded.LastSeq == 100,
		"Should load either old (50) or new (100) snapshot, got %d", loaded.LastSeq)

	_, err := os.Stat(snapshotPath + ".tmp")
	assert.True(t, os.IsNotExist(err), "Temp file should not exist after write")
}

func TestExists(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "test_snapshot.json"))
	assert.False(t, manager.Exists())

	require.NoError(t, manager.Write(Initial()))
	assert.True(t, manager.Exists())
}

// ============================================================================
// 錯誤處理測試
// ============================================================================

// TestFirstBoot 首次啟動（無快照）回傳 Pending 初始狀態
func TestFirstBoot(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "non_existent_snapshot.json"))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, loaded.SchemaVer)
	assert.Equal(t, uint64(0), loaded.LastSeq)
	assert.Equal(t, types.PhasePending, loaded.Phase.Kind)
	assert.NotNil(t, loaded.Outbound)
	assert.Empty(t, loaded.Outbound)
}

func TestNilOutboundIsNormalized(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "test_snapshot.json"))
	require.NoError(t, manager.Write(types.SnapshotData{Phase: types.Done()}))

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.NotNil(t, loaded.Outbound)
	assert.Equal(t, types.PhaseDone, loaded.Phase.Kind)
}

func TestVersionMismatch(t *testing.T) {
	snapshotPath := filepath.Join(t.TempDir(), "test_snapshot.json")
	manager := NewManager(snapshotPath)

	invalid := sampleSnapshot(0)
	invalid.SchemaVer = 2
	raw, err := json.MarshalIndent(invalid, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snapshotPath, raw, 0644))

	_, err = manager.Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestCorrupted(t *testing.T) {
	cases := map[string]string{
		"truncated":     `{"phase": {"kind": "pending"}, "outbound": {"t1": {"ticket": "t1"`,
		"unknown phase": `{"phase": {"kind": "paused"}, "schema_ver": 1}`,
		"bad domain":    `{"phase": {"kind": "data_migration_ongoing", "domain_index": 9}, "schema_ver": 1}`,
		"null record":   `{"phase": {"kind": "pending"}, "outbound": {"t1": null}, "schema_ver": 1}`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			snapshotPath := filepath.Join(t.TempDir(), "test_snapshot.json")
			require.NoError(t, os.WriteFile(snapshotPath, []byte(content), 0644))

			_, err := NewManager(snapshotPath).Load()
			assert.ErrorIs(t, err, ErrCorruptedSnapshot)
		})
	}
}

// TestWriteFailure 測試寫入失敗（唯讀目錄）
func TestWriteFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	readOnlyDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0444))
	defer os.Chmod(readOnlyDir, 0755)

	manager := NewManager(filepath.Join(readOnlyDir, "test_snapshot.json"))
	assert.Error(t, manager.Write(Initial()))
}

// ============================================================================
// 進階功能測試
// ============================================================================

func TestWriteWithBackup(t *testing.T) {
	tempDir := t.TempDir()
	snapshotPath := filepath.Join(tempDir, "test_snapshot.json")
	manager := NewManager(snapshotPath)

	// 沒有舊快照時不產生備份
	require.NoError(t, manager.WriteWithBackup(sampleSnapshot(10), 2))
	backups, err := manager.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	for seq := uint64(20); seq <= 50; seq += 10 {
		require.NoError(t, manager.WriteWithBackup(sampleSnapshot(seq), 2))
	}

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(50), loaded.LastSeq)

	// 只保留最近兩份備份（seq 30 與 40）
	backups, err = manager.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	oldest, err := NewManager(backups[0]).Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(30), oldest.LastSeq)
}

func TestLargeSnapshot(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "test_snapshot.json"))

	large := types.SnapshotData{
		Phase:    types.Ongoing(0, nil),
		Outbound: make(map[types.Ticket]*types.OutboundRecord),
		LastSeq:  10000,
	}
	for i := 0; i < 1000; i++ {
		ticket := types.Ticket(fmt.Sprintf("ticket-%04d", i))
		large.Outbound[ticket] = &types.OutboundRecord{
			Ticket:  ticket,
			Domain:  types.DomainAccounts,
			Payload: []byte(fmt.Sprintf(`{"domain":"accounts","messages":[%d]}`, i)),
			Items:   1,
			Status:  types.OutboundInFlight,
			SentAt:  int64(i),
		}
	}

	start := time.Now()
	require.NoError(t, manager.Write(large))
	t.Logf("Write 1000 records took %v", time.Since(start))

	start = time.Now()
	loaded, err := manager.Load()
	require.NoError(t, err)
	t.Logf("Load 1000 records took %v", time.Since(start))

	assert.Len(t, loaded.Outbound, 1000)
	assert.Nil(t, loaded.Phase.Cursor)
}

func TestConcurrentWrites(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "test_snapshot.json"))

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			assert.NoError(t, manager.Write(sampleSnapshot(seq)))
		}(uint64(i))
	}
	wg.Wait()

	loaded, err := manager.Load()
	require.NoError(t, err)
	assert.True(t, loaded.LastSeq >= 1 && loaded.LastSeq <= 10)
}

func BenchmarkWrite(b *testing.B) {
	manager := NewManager(filepath.Join(b.TempDir(), "bench_snapshot.json"))
	data := sampleSnapshot(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := manager.Write(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLoad(b *testing.B) {
	manager := NewManager(filepath.Join(b.TempDir(), "bench_snapshot.json"))
	if err := manager.Write(sampleSnapshot(1)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := manager.Load(); err != nil {
			b.Fatal(err)
		}
	}
}
