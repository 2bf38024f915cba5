// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// セッションキャッシュの参照結果
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogin(provider, outcome string)
	RecordIdentityConflict()
	RecordTokenRefresh(success bool)
	RecordAuthFailure(reason string)
	RecordSessionCache(result string)
	RecordHTTPStatus(statusCode int)
	RecordResolveLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins            *prometheus.CounterVec
	identityConflicts prometheus.Counter
	tokenRefresh      *prometheus.CounterVec
	authFailures      *prometheus.CounterVec
	sessionCache      *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	resolveLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_oauth_logins_total",
			Help: "OAuthログインの合計数（IdP・結果別）",
		}, []string{"provider", "outcome"}),
		identityConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "academy_identity_conflicts_total",
			Help: "アカウント解決時の一意制約競合の合計数",
		}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_token_refresh_total",
			Help: "アクセストークン再発行の合計数",
		}, []string{"result"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_auth_failures_total",
			Help: "Bearerトークン検証失敗の合計数（理由別）",
		}, []string{"reason"}),
		sessionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_session_cache_total",
			Help: "セッションキャッシュ参照の合計数（hit/miss/error）",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "academy_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "academy_identity_resolve_seconds",
			Help:    "アカウント解決のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.identityConflicts,
		c.tokenRefresh,
		c.authFailures,
		c.sessionCache,
		c.httpStatus,
		c.resolveLatency,
	)

	return c
}

// RecordLogin はOAuthログインの結果を記録する。
// outcomeは成功時に linked / merged / created、失敗時に exchange_failed / incomplete / conflict / store_unavailable / error。
func (c *Collector) RecordLogin(provider, outcome string) {
	c.logins.WithLabelValues(provider, outcome).Inc()
}

// RecordIdentityConflict は一意制約競合を記録する。
func (c *Collector) RecordIdentityConflict() {
	c.identityConflicts.Inc()
}

// RecordTokenRefresh はトークン再発行の成否を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordAuthFailure はトークン検証失敗を記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordSessionCache はセッションキャッシュの参照結果を記録する。
func (c *Collector) RecordSessionCache(result string) {
	c.sessionCache.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordResolveLatency はアカウント解決のレイテンシを記録する。
func (c *Collector) RecordResolveLatency(duration time.Duration) {
	c.resolveLatency.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLogin(string, string)         {}
func (Nop) RecordIdentityConflict()            {}
func (Nop) RecordTokenRefresh(bool)            {}
func (Nop) RecordAuthFailure(string)           {}
func (Nop) RecordSessionCache(string)          {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordResolveLatency(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
