// ============================================================================
// Beaver-Migrate Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露遷移引擎與目的端的運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 遷移計數器 (Counter)：
//      - migrate_items_total{domain}: 已從來源取出並送出的項目數
//      - migrate_items_rejected_total{domain}: 身分轉換失敗、保留在來源的項目數
//      - migrate_batches_total{result}: 批次事件（sent/resent/acked）
//      - migrate_ticks_skipped_total{reason}: 因錯誤成為空操作的 tick 數
//
//   2. 性能指標 (Histogram)：
//      - migrate_tick_duration_seconds: 單一 tick 耗時
//      - destination_batch_duration_seconds: 目的端處理一個批次的耗時
//
//   3. 狀態指標 (Gauge)：
//      - migrate_phase{phase}: 目前階段為 1，其餘為 0
//      - migrate_outbound{status}: 出站記錄數（in_flight/unsent/dead）
//      - migrate_recovery_time_seconds: 最近一次恢復時間
//
// Prometheus 查詢示例:
//
//   # 每分鐘遷移項目數
//   sum(rate(migrate_items_total[1m])) by (domain)
//
//   # 等待確認的批次
//   migrate_outbound{status="in_flight"}
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//
// ============================================================================

package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = slog.Default()

// 批次事件結果
const (
	BatchSent   = "sent"
	BatchResent = "resent"
	BatchAcked  = "acked"
)

var phases = []types.PhaseKind{
	types.PhasePending,
	types.PhaseScheduled,
	types.PhaseWarmUp,
	types.PhaseOngoing,
	types.PhaseCoolOff,
	types.PhaseDone,
}

// Collector Prometheus 指標收集器
type Collector struct {
	// 遷移相關指標
	itemsMigrated *prometheus.CounterVec
	itemsRejected *prometheus.CounterVec
	batches       *prometheus.CounterVec
	ticksSkipped  *prometheus.CounterVec

	// 效能指標
	tickLatency  prometheus.Histogram
	recoveryTime prometheus.Gauge

	// 狀態指標
	phase    *prometheus.GaugeVec
	outbound *prometheus.GaugeVec

	// 目的端指標
	destApplied    *prometheus.CounterVec
	destLatency    prometheus.Histogram
	destDuplicates prometheus.Counter
}

// NewCollector 創建新的指標收集器並註冊到 reg
//
// reg 為 nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		itemsMigrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_items_total",
			Help: "Total number of items taken from the source and handed to the transport",
		}, []string{"domain"}),
		itemsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_items_rejected_total",
			Help: "Total number of items left in the source because translation failed",
		}, []string{"domain"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_batches_total",
			Help: "Total number of outbound batch events by result",
		}, []string{"result"}),
		ticksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_ticks_skipped_total",
			Help: "Total number of ticks turned into no-ops by an error",
		}, []string{"reason"}),
		tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "migrate_tick_duration_seconds",
			Help:    "Tick processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "migrate_recovery_time_seconds",
			Help: "Time taken to recover from snapshot and WAL in seconds",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrate_phase",
			Help: "Current migration phase (1 for the active phase)",
		}, []string{"phase"}),
		outbound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrate_outbound",
			Help: "Current number of outbound records by status",
		}, []string{"status"}),
		destApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "destination_items_applied_total",
			Help: "Total number of messages applied by the destination",
		}, []string{"domain"}),
		destLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "destination_batch_duration_seconds",
			Help:    "Destination batch processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		destDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "destination_duplicate_batches_total",
			Help: "Total number of batches skipped because their content hash was already applied",
		}),
	}

	reg.MustRegister(
		c.itemsMigrated,
		c.itemsRejected,
		c.batches,
		c.ticksSkipped,
		c.tickLatency,
		c.recoveryTime,
		c.phase,
		c.outbound,
		c.destApplied,
		c.destLatency,
		c.destDuplicates,
	)

	return c
}

// RecordItems 記錄遷移項目
func (c *Collector) RecordItems(domain types.DomainID, n int) {
	if n > 0 {
		c.itemsMigrated.WithLabelValues(string(domain)).Add(float64(n))
	}
}

// RecordRejected 記錄被拒絕的項目
func (c *Collector) RecordRejected(domain types.DomainID) {
	c.itemsRejected.WithLabelValues(string(domain)).Inc()
}

// RecordBatch 記錄批次事件
func (c *Collector) RecordBatch(result string) {
	c.batches.WithLabelValues(result).Inc()
}

// RecordSkippedTick 記錄成為空操作的 tick
func (c *Collector) RecordSkippedTick(reason string) {
	c.ticksSkipped.WithLabelValues(reason).Inc()
}

// ObserveTick 記錄 tick 耗時
func (c *Collector) ObserveTick(d time.Duration) {
	c.tickLatency.Observe(d.Seconds())
}

// SetRecoveryTime 設置恢復時間
func (c *Collector) SetRecoveryTime(seconds float64) {
	c.recoveryTime.Set(seconds)
}

// SetPhase 設置目前階段
func (c *Collector) SetPhase(kind types.PhaseKind) {
	for _, p := range phases {
		v := 0.0
		if p == kind {
			v = 1
		}
		c.phase.WithLabelValues(string(p)).Set(v)
	}
}

// UpdateOutboundStats 更新出站記錄統計
func (c *Collector) UpdateOutboundStats(inFlight, unsent, dead int) {
	c.outbound.WithLabelValues(string(types.OutboundInFlight)).Set(float64(inFlight))
	c.outbound.WithLabelValues(string(types.OutboundUnsent)).Set(float64(unsent))
	c.outbound.WithLabelValues(string(types.OutboundDead)).Set(float64(dead))
}

// RecordApplied 記錄目的端套用一個批次
func (c *Collector) RecordApplied(domain types.DomainID, items int, d time.Duration) {
	c.destApplied.WithLabelValues(string(domain)).Add(float64(items))
	c.destLatency.Observe(d.Seconds())
}

// RecordDuplicate 記錄目的端略過的重複批次
func (c *Collector) RecordDuplicate() {
	c.destDuplicates.Inc()
}

// Handler 回傳 gatherer 的 /metrics 處理器
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - addr: 監聽位址，例如 ":9090"
//   - gatherer: 指標來源，nil 表示預設 registry
//
// 返回值：
//   - *http.Server: 呼叫端負責 Shutdown
func StartServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	return srv
}
