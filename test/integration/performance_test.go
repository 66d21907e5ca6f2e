// ============================================================================
// Beaver-Migrate Performance Test Suite
// ============================================================================
//
// Package: test/integration
// File: performance_test.go
// Functionality: Migration throughput and recovery time over the gRPC path
//
// TestMigrationThroughput:
//   - seed 3000 accounts into badger
//   - migrate with 200 items per tick
//   - target: >= 500 items/s end to end
//
// TestRecoveryPerformance:
//   - migrate with snapshots disabled so recovery replays the whole WAL
//   - measure coordinator Start on the same state directory
//   - target: < 3 seconds recovery time
//
// Both tests are skipped with -short.
//
// ============================================================================

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/ChuLiYu/beaver-migrate/internal/storage/wal"
	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}
	const totalItems = 3000

	dst := startDestination(t)
	n := startNode(t, t.TempDir(), dst, nodeOpts{maxItemsPerTick: 200, coolOff: 200 * time.Millisecond})
	seedAccounts(t, n.src, totalItems)

	startTime := time.Now()
	schedule(t, n, 200*time.Millisecond)
	runToDone(t, n, 60*time.Second)
	elapsed := time.Since(startTime)

	migrated, err := dst.store.Count(context.Background(), types.KindAccount)
	require.NoError(t, err)
	throughput := float64(migrated) / elapsed.Seconds()

	t.Logf("=== Performance Test Results ===")
	t.Logf("Accounts migrated: %d", migrated)
	t.Logf("Elapsed time: %v", elapsed)
	t.Logf("Throughput: %.2f items/second", throughput)

	assert.Equal(t, totalItems, migrated)
	assert.GreaterOrEqual(t, throughput, 500.0, "throughput below target")
	n.stop(t)
}

func TestRecoveryPerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}
	dir := t.TempDir()
	dst := startDestination(t)

	n := startNode(t, dir, dst, nodeOpts{maxItemsPerTick: 100, coolOff: 200 * time.Millisecond})
	seedAccounts(t, n.src, 2000)
	schedule(t, n, 200*time.Millisecond)
	runToDone(t, n, 60*time.Second)
	n.crash(t)

	stats, err := wal.GetStats(n.w.Path())
	require.NoError(t, err)
	t.Logf("WAL events to replay: %d", stats.TotalEvents)

	n = startNode(t, dir, dst, nodeOpts{maxItemsPerTick: 100})
	t.Logf("Recovery time: %v", n.recovery)

	assert.Less(t, n.recovery, 3*time.Second, "recovery must finish within 3s")
	assert.Equal(t, types.PhaseDone, n.coord.Phase().Kind)
	n.stop(t)
}
