// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordCheckOutcome(outcome string)
	RecordCheckLatency(duration time.Duration)
	RecordNewTrophies(count int)
	RecordCacheHit()
	RecordCacheMiss()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkOutcomes *prometheus.CounterVec
	checkLatency  prometheus.Histogram
	newTrophies   prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	httpStatus    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trophyman_check_outcome_total",
			Help: "トロフィーチェックの結果種別ごとの合計数",
		}, []string{"outcome"}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trophyman_check_latency_seconds",
			Help:    "トロフィーチェックのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		newTrophies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trophyman_new_trophies_total",
			Help: "永続化された新規トロフィーの合計数",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trophyman_cache_hit_total",
			Help: "トロフィーキャッシュのヒット数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trophyman_cache_miss_total",
			Help: "トロフィーキャッシュのミス数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trophyman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.checkOutcomes,
		c.checkLatency,
		c.newTrophies,
		c.cacheHits,
		c.cacheMisses,
		c.httpStatus,
	)

	return c
}

// RecordCheckOutcome はチェック結果の種別を記録する。
func (c *Collector) RecordCheckOutcome(outcome string) {
	c.checkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCheckLatency はチェックのレイテンシを記録する。
func (c *Collector) RecordCheckLatency(duration time.Duration) {
	c.checkLatency.Observe(duration.Seconds())
}

// RecordNewTrophies は永続化された新規トロフィー数を記録する。
func (c *Collector) RecordNewTrophies(count int) {
	c.newTrophies.Add(float64(count))
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
