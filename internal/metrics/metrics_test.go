package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector(t *testing.T) {
	collector, _ := newTestCollector(t)

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.itemsMigrated, "itemsMigrated counter should be initialized")
	assert.NotNil(t, collector.batches, "batches counter should be initialized")
	assert.NotNil(t, collector.tickLatency, "tickLatency histogram should be initialized")
	assert.NotNil(t, collector.phase, "phase gauge should be initialized")
	assert.NotNil(t, collector.outbound, "outbound gauge should be initialized")
}

func TestRecordItems(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordItems(types.DomainAccounts, 100)
	collector.RecordItems(types.DomainAccounts, 50)
	collector.RecordItems(types.DomainProxies, 0)

	assert.Equal(t, 150.0, testutil.ToFloat64(collector.itemsMigrated.WithLabelValues("accounts")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.itemsMigrated.WithLabelValues("proxies")))
}

func TestRecordBatchAndRejected(t *testing.T) {
	collector, _ := newTestCollector(t)

	for i := 0; i < 3; i++ {
		collector.RecordBatch(BatchSent)
	}
	collector.RecordBatch(BatchAcked)
	collector.RecordRejected(types.DomainVesting)

	assert.Equal(t, 3.0, testutil.ToFloat64(collector.batches.WithLabelValues(BatchSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.batches.WithLabelValues(BatchAcked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.itemsRejected.WithLabelValues("vesting")))
}

func TestSetPhase(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.SetPhase(types.PhaseWarmUp)
	collector.SetPhase(types.PhaseOngoing)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.phase.WithLabelValues(string(types.PhaseOngoing))))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.phase.WithLabelValues(string(types.PhaseWarmUp))))
}

func TestUpdateOutboundStats(t *testing.T) {
	collector, _ := newTestCollector(t)

	testCases := []struct {
		name                   string
		inFlight, unsent, dead int
	}{
		{"zero values", 0, 0, 0},
		{"normal values", 10, 2, 0},
		{"with dead", 1, 0, 4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			collector.UpdateOutboundStats(tc.inFlight, tc.unsent, tc.dead)
			assert.Equal(t, float64(tc.inFlight), testutil.ToFloat64(collector.outbound.WithLabelValues("in_flight")))
			assert.Equal(t, float64(tc.unsent), testutil.ToFloat64(collector.outbound.WithLabelValues("unsent")))
			assert.Equal(t, float64(tc.dead), testutil.ToFloat64(collector.outbound.WithLabelValues("dead")))
		})
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordItems(types.DomainAccounts, 1)
			collector.RecordBatch(BatchSent)
			collector.ObserveTick(10 * time.Millisecond)
			collector.RecordApplied(types.DomainAccounts, 1, time.Millisecond)
			collector.UpdateOutboundStats(10, 5, 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, testutil.ToFloat64(collector.itemsMigrated.WithLabelValues("accounts")))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.destApplied.WithLabelValues("accounts")))
}

func TestCollectorIsolation(t *testing.T) {
	reg := prometheus.NewRegistry()

	collector1 := NewCollector(reg)
	require.NotNil(t, collector1)

	// 同一個 registry 不能註冊兩次
	assert.Panics(t, func() {
		NewCollector(reg)
	}, "Creating a second collector on the same registry should panic")

	// 不同 registry 互不影響
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	collector, reg := newTestCollector(t)
	collector.RecordItems(types.DomainMultisigs, 7)
	collector.SetRecoveryTime(0.25)
	collector.RecordSkippedTick("out_of_budget")
	collector.RecordDuplicate()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `migrate_items_total{domain="multisigs"} 7`), text)
	assert.Contains(t, text, "migrate_recovery_time_seconds 0.25")
	assert.Contains(t, text, `migrate_ticks_skipped_total{reason="out_of_budget"} 1`)
	assert.Contains(t, text, "destination_duplicate_batches_total 1")
}
