// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginOutcomeNewUser      = "new_user"
	LoginOutcomeExistingUser = "existing_user"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、スイーパー、ミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordSessionIssued(reused bool)
	RecordProviderLatency(operation string, duration time.Duration)
	RecordSessionsSwept(count int64)
	RecordSweepFailure()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	sessionsIssued  *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	sessionsSwept   prometheus.Counter
	sweepFail       prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpad_login_total",
			Help: "ログインコールバックの結果別の合計数",
		}, []string{"outcome"}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpad_sessions_issued_total",
			Help: "ログイン時に発行（または再利用）されたセッション数",
		}, []string{"reused"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docpad_provider_latency_seconds",
			Help:    "IDプロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpad_sessions_swept_total",
			Help: "期限切れとして削除されたセッションの合計数",
		}),
		sweepFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpad_sweep_fail_total",
			Help: "期限切れセッション削除の失敗回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpad_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.sessionsIssued,
		c.providerLatency,
		c.sessionsSwept,
		c.sweepFail,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン結果を記録する。失敗時はエラー種別をoutcomeに渡す。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordSessionIssued はセッションの発行を記録する。
func (c *Collector) RecordSessionIssued(reused bool) {
	c.sessionsIssued.WithLabelValues(strconv.FormatBool(reused)).Inc()
}

// RecordProviderLatency はトークン交換・ユーザー情報取得のレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSessionsSwept は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordSweepFailure はスイープ失敗を記録する。
func (c *Collector) RecordSweepFailure() {
	c.sweepFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わない構成やテストで使う。
type Nop struct{}

func (Nop) RecordLogin(string)                          {}
func (Nop) RecordSessionIssued(bool)                    {}
func (Nop) RecordProviderLatency(string, time.Duration) {}
func (Nop) RecordSessionsSwept(int64)                   {}
func (Nop) RecordSweepFailure()                         {}
func (Nop) RecordHTTPStatus(int)                        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
