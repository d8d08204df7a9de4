// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	OutcomeAdmitted  = "admitted"
	OutcomeReturning = "returning"
	OutcomeRejected  = "rejected"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 入場サービスやリポジトリから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordTokenRejection()
	RecordStoreCorruption(store string)
	SetLedgerSize(size int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	tokenRejections prometheus.Counter
	storeCorruption *prometheus.CounterVec
	ledgerSize      prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waitlist_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		tokenRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "waitlist_token_rejections_total",
			Help: "デコードできずに破棄したセッショントークンの数",
		}),
		storeCorruption: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "waitlist_store_corruption_total",
			Help: "読み込めずに空として扱ったストアの検出数",
		}, []string{"store"}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "waitlist_ledger_size",
			Help: "参加者台帳の現在の件数",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.tokenRejections,
		c.storeCorruption,
		c.ledgerSize,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordTokenRejection はトークン破棄を記録する。
func (c *Collector) RecordTokenRejection() {
	c.tokenRejections.Inc()
}

// RecordStoreCorruption はストア破損の検出を記録する。
func (c *Collector) RecordStoreCorruption(store string) {
	c.storeCorruption.WithLabelValues(store).Inc()
}

// SetLedgerSize は台帳の件数を更新する。
func (c *Collector) SetLedgerSize(size int) {
	c.ledgerSize.Set(float64(size))
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)           {}
func (NopCollector) RecordTokenRejection()        {}
func (NopCollector) RecordStoreCorruption(string) {}
func (NopCollector) SetLedgerSize(int)            {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
