package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/waterballsa/academy/internal/model"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// newUserRequest は認証済みユーザーのリクエストを生成する。
func newUserRequest(method, target string, userID int64) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(ContextWithPrincipal(req.Context(), &model.Principal{
		UserID: userID,
		Role:   model.RoleStudent,
	}))
}

// newIPRequest は指定IPアドレスからの匿名リクエストを生成する。
func newIPRequest(method, target, ip string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = ip + ":54321"
	return req
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2, // 2 req/sec
		GeneralBurst:    5, // バースト5
		AuthRate:        1, // 未使用
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newUserRequest(http.MethodGet, "/api/session", 1))

		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newUserRequest(http.MethodGet, "/api/session", 2))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newUserRequest(http.MethodGet, "/api/session", 2))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.5, // 2秒に1回
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), newUserRequest(http.MethodGet, "/api/session", 3))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newUserRequest(http.MethodGet, "/api/session", 3))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter := w.Header().Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header")
	}
	sec, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", retryAfter)
	}
	if sec != 2 {
		t.Errorf("Retry-After = %d, want 2", sec)
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// ユーザーAのバーストを消費
	handler.ServeHTTP(httptest.NewRecorder(), newUserRequest(http.MethodGet, "/api/session", 10))

	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, newUserRequest(http.MethodGet, "/api/session", 10))
	if wA.Code != http.StatusTooManyRequests {
		t.Errorf("user A: status = %d, want %d", wA.Code, http.StatusTooManyRequests)
	}

	// ユーザーBは影響を受けない
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, newUserRequest(http.MethodGet, "/api/session", 11))
	if wB.Code != http.StatusOK {
		t.Errorf("user B: status = %d, want %d", wB.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_AnonymousFallsBackToIP(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), newIPRequest(http.MethodGet, "/health", "203.0.113.5"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newIPRequest(http.MethodGet, "/health", "203.0.113.5"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same IP: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, newIPRequest(http.MethodGet, "/health", "203.0.113.6"))
	if w2.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want %d", w2.Code, http.StatusOK)
	}
}

// --- AuthMiddleware (認証エンドポイント) のテスト ---

func TestAuthRateLimitMiddleware_LimitsPerIP(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		AuthRate:        1,
		AuthBurst:       3,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.AuthMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newIPRequest(http.MethodPost, "/api/auth/refresh", "198.51.100.1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newIPRequest(http.MethodPost, "/api/auth/refresh", "198.51.100.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("request 4: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	if got := rl.AuthLimiterCount(); got != 1 {
		t.Errorf("AuthLimiterCount() = %d, want 1", got)
	}
}

func TestAuthRateLimitMiddleware_IndependentFromGeneral(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       5,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	auth := rl.AuthMiddleware()(okHandler())

	// API全般の制限を使い切る
	general.ServeHTTP(httptest.NewRecorder(), newIPRequest(http.MethodGet, "/api/session", "192.0.2.10"))
	w := httptest.NewRecorder()
	general.ServeHTTP(w, newIPRequest(http.MethodGet, "/api/session", "192.0.2.10"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("general: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 認証エンドポイントは独立して通る
	w2 := httptest.NewRecorder()
	auth.ServeHTTP(w2, newIPRequest(http.MethodPost, "/api/auth/refresh", "192.0.2.10"))
	if w2.Code != http.StatusOK {
		t.Errorf("auth: status = %d, want %d", w2.Code, http.StatusOK)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"IPv4とポート", "203.0.113.1:1234", "203.0.113.1"},
		{"IPv6とポート", "[2001:db8::1]:443", "2001:db8::1"},
		{"ポートなし", "203.0.113.2", "203.0.113.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- 429レスポンスフォーマットのテスト ---

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), newUserRequest(http.MethodGet, "/api/session", 20))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newUserRequest(http.MethodGet, "/api/session", 20))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body["code"], "RATE_LIMIT_EXCEEDED")
	}
	if body["message"] == "" {
		t.Error("expected 'message' field in error response")
	}
	if body["category"] == "" {
		t.Error("expected 'category' field in error response")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		AuthRate:        1,
		AuthBurst:       10,
		CleanupInterval: 50 * time.Millisecond, // テスト用に短く
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), newUserRequest(http.MethodGet, "/api/session", 30))
	rl.AuthMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), newIPRequest(http.MethodPost, "/api/auth/refresh", "192.0.2.30"))

	if rl.GeneralLimiterCount() == 0 || rl.AuthLimiterCount() == 0 {
		t.Fatal("expected limiter entries")
	}

	// TTLはクリーンアップ間隔の2倍（100ms）。300ms待てば削除されている
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general limiter entries after cleanup, got %d", count)
	}
	if count := rl.AuthLimiterCount(); count != 0 {
		t.Errorf("expected 0 auth limiter entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.AuthRate != 0.5 { // 30/60
		t.Errorf("AuthRate = %f, want 0.5", cfg.AuthRate)
	}
	if cfg.AuthBurst != 30 {
		t.Errorf("AuthBurst = %d, want 30", cfg.AuthBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
