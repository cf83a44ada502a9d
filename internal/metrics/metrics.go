// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーや分類処理から利用する。
type MetricsCollector interface {
	RecordFetchSuccess()
	RecordFetchFailure(reason string)
	RecordPagesFetched(count int)
	RecordFetchLatency(duration time.Duration)
	RecordEventClassified(category string)
	RecordEventDropped()
	RecordNewsStored(count int)
	RecordLoanOpened()
	RecordLoanResolved()
	RecordUnmatchedResolution()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess     prometheus.Counter
	fetchFail        *prometheus.CounterVec
	pagesFetched     prometheus.Counter
	fetchLatency     prometheus.Histogram
	eventsClassified *prometheus.CounterVec
	eventsDropped    prometheus.Counter
	newsStored       prometheus.Counter
	loansOpened      prometheus.Counter
	loansResolved    prometheus.Counter
	unmatchedResolve prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "armorylog_fetch_success_total",
			Help: "ニュースウィンドウ取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armorylog_fetch_fail_total",
			Help: "ニュースウィンドウ取得失敗の合計数（理由別）",
		}, []string{"reason"}),
		pagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "armorylog_pages_fetched_total",
			Help: "取得したニュースページの合計数",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "armorylog_fetch_latency_seconds",
			Help:    "ニュースウィンドウ取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		eventsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armorylog_events_classified_total",
			Help: "分類されたアーマリーイベントの合計数（カテゴリ別）",
		}, []string{"category"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "armorylog_events_dropped_total",
			Help: "分類できず破棄されたニュースレコードの合計数",
		}),
		newsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "armorylog_news_stored_total",
			Help: "監査用に保存されたニュースレコードの合計数",
		}),
		loansOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "armorylog_loans_opened_total",
			Help: "新規に開かれた貸出バッチの合計数",
		}),
		loansResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "armorylog_loans_resolved_total",
			Help: "完全に消化された貸出バッチの合計数",
		}),
		unmatchedResolve: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "armorylog_unmatched_resolutions_total",
			Help: "対応する貸出が見つからなかった返却・回収の合計数",
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.pagesFetched,
		c.fetchLatency,
		c.eventsClassified,
		c.eventsDropped,
		c.newsStored,
		c.loansOpened,
		c.loansResolved,
		c.unmatchedResolve,
	)

	return c
}

// RecordFetchSuccess はニュースウィンドウ取得の成功を記録する。
func (c *Collector) RecordFetchSuccess() {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はニュースウィンドウ取得の失敗を理由付きで記録する。
func (c *Collector) RecordFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordPagesFetched は取得したページ数を記録する。
func (c *Collector) RecordPagesFetched(count int) {
	c.pagesFetched.Add(float64(count))
}

// RecordFetchLatency はウィンドウ取得全体のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEventClassified は分類されたイベントをカテゴリ別に記録する。
func (c *Collector) RecordEventClassified(category string) {
	c.eventsClassified.WithLabelValues(category).Inc()
}

// RecordEventDropped は分類できなかったレコードを記録する。
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// RecordNewsStored は監査保存されたレコード数を記録する。
func (c *Collector) RecordNewsStored(count int) {
	c.newsStored.Add(float64(count))
}

// RecordLoanOpened は新規貸出バッチを記録する。
func (c *Collector) RecordLoanOpened() {
	c.loansOpened.Inc()
}

// RecordLoanResolved は完全消化された貸出バッチを記録する。
func (c *Collector) RecordLoanResolved() {
	c.loansResolved.Inc()
}

// RecordUnmatchedResolution は対応貸出なしの返却・回収を記録する。
func (c *Collector) RecordUnmatchedResolution() {
	c.unmatchedResolve.Inc()
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
