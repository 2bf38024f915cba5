package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/waterballsa/academy/internal/metrics"
	"github.com/waterballsa/academy/internal/middleware"
	"github.com/waterballsa/academy/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.AccessTokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService  UserServiceInterface
	AdminService AdminServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → Metrics → SecurityHeaders → CORS → Authenticator → RateLimit(General)
//
// OAuthフローとリフレッシュには認証エンドポイント用のIP単位レート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.AdminService)

	// --- 運用エンドポイント ---
	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証エンドポイント（IP単位のレート制限） ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Get("/auth/oauth/{provider}/authorize", authHandler.Authorize)
		r.Get("/auth/oauth/{provider}/callback", authHandler.Callback)
		r.Post("/auth/refresh", authHandler.Refresh)
	})

	// --- Bearerトークンで認証するルート ---
	// ミドルウェアスタック: Authenticator → RateLimit(General) → RequireAuth
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthenticator(deps.TokenVerifier, collector))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.RequireAuth)

		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/auth/session", authHandler.Session)

		// ユーザー管理
		r.Delete("/api/users/me", userHandler.Withdraw)

		// 管理者操作
		r.Route("/api/admin/users", func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Post("/", adminHandler.ProvisionUser)
			r.Patch("/{id}/role", adminHandler.UpdateRole)
			r.Post("/{id}/experience", adminHandler.AwardExperience)
		})
	})

	return r
}
