// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordExtractionSuccess()
	RecordExtractionFailure()
	RecordValidationDefects(count int)
	RecordDispatchCycle(duration time.Duration)
	RecordNotificationsSent(count int)
	RecordNotificationsFailed(count int)
	RecordSubscriptionsPruned(count int)
	RecordSchedulesAdvanced(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	extractionSuccess   prometheus.Counter
	extractionFail      prometheus.Counter
	validationDefects   prometheus.Counter
	dispatchCycles      prometheus.Counter
	dispatchDuration    prometheus.Histogram
	notificationsSent   prometheus.Counter
	notificationsFailed prometheus.Counter
	subscriptionsPruned prometheus.Counter
	schedulesAdvanced   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		extractionSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_extraction_success_total",
			Help: "取説抽出成功の合計数",
		}),
		extractionFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_extraction_fail_total",
			Help: "取説抽出失敗の合計数",
		}),
		validationDefects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_validation_defects_total",
			Help: "スキーマ検証で破棄された抽出項目の合計数",
		}),
		dispatchCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_dispatch_cycles_total",
			Help: "リマインダーディスパッチサイクルの実行回数",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "menteman_dispatch_cycle_seconds",
			Help:    "ディスパッチサイクル1回の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_notifications_sent_total",
			Help: "配信に成功したプッシュ通知の合計数",
		}),
		notificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_notifications_failed_total",
			Help: "配信に失敗したプッシュ通知の合計数",
		}),
		subscriptionsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_subscriptions_pruned_total",
			Help: "購読消滅により自動削除されたプッシュ購読の合計数",
		}),
		schedulesAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "menteman_schedules_advanced_total",
			Help: "通知後に期日を進めた予定の合計数",
		}),
	}

	reg.MustRegister(
		c.extractionSuccess,
		c.extractionFail,
		c.validationDefects,
		c.dispatchCycles,
		c.dispatchDuration,
		c.notificationsSent,
		c.notificationsFailed,
		c.subscriptionsPruned,
		c.schedulesAdvanced,
	)

	return c
}

// RecordExtractionSuccess は抽出成功を記録する。
func (c *Collector) RecordExtractionSuccess() {
	c.extractionSuccess.Inc()
}

// RecordExtractionFailure は抽出失敗を記録する。
func (c *Collector) RecordExtractionFailure() {
	c.extractionFail.Inc()
}

// RecordValidationDefects はスキーマ検証で破棄した項目数を記録する。
func (c *Collector) RecordValidationDefects(count int) {
	c.validationDefects.Add(float64(count))
}

// RecordDispatchCycle はディスパッチサイクルの完了と所要時間を記録する。
func (c *Collector) RecordDispatchCycle(duration time.Duration) {
	c.dispatchCycles.Inc()
	c.dispatchDuration.Observe(duration.Seconds())
}

// RecordNotificationsSent は配信成功数を記録する。
func (c *Collector) RecordNotificationsSent(count int) {
	c.notificationsSent.Add(float64(count))
}

// RecordNotificationsFailed は配信失敗数を記録する。
func (c *Collector) RecordNotificationsFailed(count int) {
	c.notificationsFailed.Add(float64(count))
}

// RecordSubscriptionsPruned は自動削除した購読数を記録する。
func (c *Collector) RecordSubscriptionsPruned(count int) {
	c.subscriptionsPruned.Add(float64(count))
}

// RecordSchedulesAdvanced は期日を進めた予定数を記録する。
func (c *Collector) RecordSchedulesAdvanced(count int) {
	c.schedulesAdvanced.Add(float64(count))
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
