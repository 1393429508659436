// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取り込みパイプラインや検索エンジンから利用する。
type MetricsCollector interface {
	RecordSourceFetchSuccess(source string)
	RecordSourceFetchFailure(source string)
	RecordItemsInserted(count int)
	RecordItemsSkipped(count int)
	RecordEmbeddingsGenerated(count int)
	RecordNotificationsQueued(count int)
	RecordSearch(mode string)
	RecordSearchLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sourceFetchSuccess  *prometheus.CounterVec
	sourceFetchFail     *prometheus.CounterVec
	itemsInserted       prometheus.Counter
	itemsSkipped        prometheus.Counter
	embeddingsGenerated prometheus.Counter
	notificationsQueued prometheus.Counter
	searchTotal         *prometheus.CounterVec
	searchLatency       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sourceFetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oppengine_source_fetch_success_total",
			Help: "ソースフェッチ成功の合計数",
		}, []string{"source"}),
		sourceFetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oppengine_source_fetch_fail_total",
			Help: "ソースフェッチ失敗の合計数",
		}, []string{"source"}),
		itemsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppengine_items_inserted_total",
			Help: "新規挿入された募集情報の合計数",
		}),
		itemsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppengine_items_skipped_total",
			Help: "重複・正規化エラーでスキップされた項目の合計数",
		}),
		embeddingsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppengine_embeddings_generated_total",
			Help: "生成された埋め込みベクトルの合計数",
		}),
		notificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oppengine_notifications_queued_total",
			Help: "キューに登録された通知の合計数",
		}),
		searchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oppengine_search_total",
			Help: "検索モード別の実行数",
		}, []string{"mode"}),
		searchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oppengine_search_latency_seconds",
			Help:    "検索のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sourceFetchSuccess,
		c.sourceFetchFail,
		c.itemsInserted,
		c.itemsSkipped,
		c.embeddingsGenerated,
		c.notificationsQueued,
		c.searchTotal,
		c.searchLatency,
	)

	return c
}

// RecordSourceFetchSuccess はソースフェッチ成功を記録する。
func (c *Collector) RecordSourceFetchSuccess(source string) {
	c.sourceFetchSuccess.WithLabelValues(source).Inc()
}

// RecordSourceFetchFailure はソースフェッチ失敗を記録する。
func (c *Collector) RecordSourceFetchFailure(source string) {
	c.sourceFetchFail.WithLabelValues(source).Inc()
}

// RecordItemsInserted は新規挿入された募集情報数を記録する。
func (c *Collector) RecordItemsInserted(count int) {
	c.itemsInserted.Add(float64(count))
}

// RecordItemsSkipped はスキップされた項目数を記録する。
func (c *Collector) RecordItemsSkipped(count int) {
	c.itemsSkipped.Add(float64(count))
}

// RecordEmbeddingsGenerated は生成された埋め込み数を記録する。
func (c *Collector) RecordEmbeddingsGenerated(count int) {
	c.embeddingsGenerated.Add(float64(count))
}

// RecordNotificationsQueued はキュー登録された通知数を記録する。
func (c *Collector) RecordNotificationsQueued(count int) {
	c.notificationsQueued.Add(float64(count))
}

// RecordSearch は検索モード別の実行を記録する。
// mode: "semantic", "hybrid", "keyword", "listing"
func (c *Collector) RecordSearch(mode string) {
	c.searchTotal.WithLabelValues(mode).Inc()
}

// RecordSearchLatency は検索のレイテンシを記録する。
func (c *Collector) RecordSearchLatency(duration time.Duration) {
	c.searchLatency.Observe(duration.Seconds())
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
