// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証操作の結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// プロフィール準備の結果ラベル。
const (
	ProvisionFound     = "found"
	ProvisionCreated   = "created"
	ProvisionDuplicate = "duplicate"
	ProvisionDegraded  = "degraded"
)

// Recorder はメトリクス記録のインターフェース。
// 認証サービス・ルートガード・認証バックエンドクライアントから利用する。
type Recorder interface {
	RecordLogin(outcome string)
	RecordRegistration(outcome string)
	RecordLogout(outcome string)
	RecordProvisioning(outcome string)
	RecordGuardDecision(outcome, reason string)
	RecordVerificationFailure()
	RecordBackendRequest(operation string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	logouts         *prometheus.CounterVec
	provisioning    *prometheus.CounterVec
	guardDecisions  *prometheus.CounterVec
	verifyFailures  prometheus.Counter
	backendRequests *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_login_total",
			Help: "ログイン試行の合計数（結果別）",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_registration_total",
			Help: "ユーザー登録試行の合計数（結果別）",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_logout_total",
			Help: "ログアウト試行の合計数（結果別）",
		}, []string{"outcome"}),
		provisioning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_profile_provisioning_total",
			Help: "プロフィール準備の合計数（found/created/duplicate/degraded）",
		}, []string{"outcome"}),
		guardDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_guard_decisions_total",
			Help: "ルートガードの判定数（判定・理由別）",
		}, []string{"outcome", "reason"}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studyhub_guard_live_verification_failures_total",
			Help: "メール確認状態のライブ再検証に失敗した回数",
		}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studyhub_auth_backend_requests_total",
			Help: "認証バックエンドへのリクエスト数（操作・ステータスコード別）",
		}, []string{"operation", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studyhub_auth_backend_latency_seconds",
			Help:    "認証バックエンドへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.logouts,
		c.provisioning,
		c.guardDecisions,
		c.verifyFailures,
		c.backendRequests,
		c.backendLatency,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordRegistration はユーザー登録結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogout はログアウト結果を記録する。
func (c *Collector) RecordLogout(outcome string) {
	c.logouts.WithLabelValues(outcome).Inc()
}

// RecordProvisioning はプロフィール準備の結果を記録する。
func (c *Collector) RecordProvisioning(outcome string) {
	c.provisioning.WithLabelValues(outcome).Inc()
}

// RecordGuardDecision はルートガードの判定を記録する。
func (c *Collector) RecordGuardDecision(outcome, reason string) {
	c.guardDecisions.WithLabelValues(outcome, reason).Inc()
}

// RecordVerificationFailure はライブ再検証の失敗を記録する。
func (c *Collector) RecordVerificationFailure() {
	c.verifyFailures.Inc()
}

// RecordBackendRequest は認証バックエンドへのリクエストを記録する。
// statusCodeが0の場合は通信エラーとして"error"ラベルで記録する。
func (c *Collector) RecordBackendRequest(operation string, statusCode int, duration time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	c.backendRequests.WithLabelValues(operation, code).Inc()
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLogin(string)                              {}
func (Nop) RecordRegistration(string)                       {}
func (Nop) RecordLogout(string)                             {}
func (Nop) RecordProvisioning(string)                       {}
func (Nop) RecordGuardDecision(string, string)              {}
func (Nop) RecordVerificationFailure()                      {}
func (Nop) RecordBackendRequest(string, int, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
