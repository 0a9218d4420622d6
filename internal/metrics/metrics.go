// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 検証結果のラベル値。
const (
	ValidationOK            = "ok"
	ValidationInvalidFormat = "invalid_format"
	ValidationUnauthorized  = "unauthorized"
	ValidationError         = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、IdPクライアント、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordSessionIssued(newUser bool)
	RecordIdentityFailure(reason string)
	RecordIdentityLatency(duration time.Duration)
	RecordValidation(result string)
	RecordHTTPStatus(statusCode int)
	RecordTokensCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsIssued   prometheus.Counter
	usersCreated     prometheus.Counter
	identityFailures *prometheus.CounterVec
	identityLatency  prometheus.Histogram
	validations      *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	tokensCleaned    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenbridge_sessions_issued_total",
			Help: "発行したセッショントークンの合計数",
		}),
		usersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenbridge_users_created_total",
			Help: "初回ログインで作成したユーザーの合計数",
		}),
		identityFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbridge_identity_verification_failures_total",
			Help: "外部IdPでの検証失敗数（原因別）",
		}, []string{"reason"}),
		identityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tokenbridge_identity_request_latency_seconds",
			Help:    "外部IdP呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbridge_token_validations_total",
			Help: "トークン検証の結果別件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenbridge_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		tokensCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokenbridge_tokens_cleaned_total",
			Help: "クリーンアップジョブで削除した期限切れトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.sessionsIssued,
		c.usersCreated,
		c.identityFailures,
		c.identityLatency,
		c.validations,
		c.httpStatus,
		c.tokensCleaned,
	)

	return c
}

// RecordSessionIssued はセッション発行を記録する。newUserがtrueの場合はユーザー作成も記録する。
func (c *Collector) RecordSessionIssued(newUser bool) {
	c.sessionsIssued.Inc()
	if newUser {
		c.usersCreated.Inc()
	}
}

// RecordIdentityFailure はIdP検証失敗を原因別に記録する。
func (c *Collector) RecordIdentityFailure(reason string) {
	c.identityFailures.WithLabelValues(reason).Inc()
}

// RecordIdentityLatency はIdP呼び出しのレイテンシを記録する。
func (c *Collector) RecordIdentityLatency(duration time.Duration) {
	c.identityLatency.Observe(duration.Seconds())
}

// RecordValidation はトークン検証結果を記録する。
func (c *Collector) RecordValidation(result string) {
	c.validations.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordTokensCleaned は削除したトークン数を記録する。
func (c *Collector) RecordTokensCleaned(count int64) {
	c.tokensCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクス不要なテストや未設定時に使用する。
type Nop struct{}

func (Nop) RecordSessionIssued(bool) {}
func (Nop) RecordIdentityFailure(string) {}
func (Nop) RecordIdentityLatency(time.Duration) {}
func (Nop) RecordValidation(string) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordTokensCleaned(int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NewHTTPStatusMiddleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func NewHTTPStatusMiddleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.statusCode)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.written = true
	return sr.ResponseWriter.Write(b)
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
