// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証フローの結果ラベル。
const (
	OutcomeSuccess      = "success"
	OutcomeConflict     = "conflict"
	OutcomeInvalid      = "invalid"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeUpstream     = "upstream"
	OutcomeError        = "error"
)

// AuthRecorder は認証サービスが利用するメトリクス記録のインターフェース。
type AuthRecorder interface {
	RecordRegistration(outcome string)
	RecordLogin(outcome string)
	RecordOAuthCallback(outcome string)
	RecordSessionResolution(outcome string)
	RecordSessionsRevoked(count int64)
	RecordPasswordHashDuration(duration time.Duration)
}

// CleanupRecorder はセッションクリーンアップジョブが利用するメトリクス記録のインターフェース。
type CleanupRecorder interface {
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations      *prometheus.CounterVec
	logins             *prometheus.CounterVec
	oauthCallbacks     *prometheus.CounterVec
	sessionResolutions *prometheus.CounterVec
	sessionsRevoked    prometheus.Counter
	sessionsPurged     prometheus.Counter
	passwordHash       prometheus.Histogram
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famledger_registrations_total",
			Help: "アカウント登録の試行数（結果別）",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famledger_logins_total",
			Help: "パスワードログインの試行数（結果別）",
		}, []string{"outcome"}),
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famledger_oauth_callbacks_total",
			Help: "OAuthコールバックの処理数（結果別）",
		}, []string{"outcome"}),
		sessionResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famledger_session_resolutions_total",
			Help: "セッション解決の回数（結果別）",
		}, []string{"outcome"}),
		sessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "famledger_sessions_revoked_total",
			Help: "失効させたセッションの合計数",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "famledger_sessions_purged_total",
			Help: "クリーンアップで削除したセッションの合計数",
		}),
		passwordHash: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "famledger_password_hash_seconds",
			Help:    "パスワードハッシュ計算の所要時間（秒）",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "famledger_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.oauthCallbacks,
		c.sessionResolutions,
		c.sessionsRevoked,
		c.sessionsPurged,
		c.passwordHash,
		c.httpStatus,
	)

	return c
}

// RecordRegistration は登録結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordOAuthCallback はOAuthコールバック結果を記録する。
func (c *Collector) RecordOAuthCallback(outcome string) {
	c.oauthCallbacks.WithLabelValues(outcome).Inc()
}

// RecordSessionResolution はセッション解決結果を記録する。
func (c *Collector) RecordSessionResolution(outcome string) {
	c.sessionResolutions.WithLabelValues(outcome).Inc()
}

// RecordSessionsRevoked は失効させたセッション数を記録する。
func (c *Collector) RecordSessionsRevoked(count int64) {
	c.sessionsRevoked.Add(float64(count))
}

// RecordSessionsPurged はクリーンアップで削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordPasswordHashDuration はパスワードハッシュの所要時間を記録する。
func (c *Collector) RecordPasswordHashDuration(duration time.Duration) {
	c.passwordHash.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopRecorder は何も記録しないAuthRecorder/CleanupRecorderの実装。
// メトリクスを使わないテストや構成で使用する。
type NopRecorder struct{}

func (NopRecorder) RecordRegistration(string)                {}
func (NopRecorder) RecordLogin(string)                       {}
func (NopRecorder) RecordOAuthCallback(string)               {}
func (NopRecorder) RecordSessionResolution(string)           {}
func (NopRecorder) RecordSessionsRevoked(int64)              {}
func (NopRecorder) RecordSessionsPurged(int64)               {}
func (NopRecorder) RecordPasswordHashDuration(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても残りのメトリクスは返し、OpenMetrics形式の要求にも応じる。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

// compile-time interface checks
var _ AuthRecorder = (*Collector)(nil)
var _ CleanupRecorder = (*Collector)(nil)
var _ AuthRecorder = NopRecorder{}
var _ CleanupRecorder = NopRecorder{}
