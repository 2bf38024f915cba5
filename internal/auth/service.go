// Package auth はOAuthログイン、アカウント解決、トークン発行、セッション参照を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/waterballsa/academy/internal/metrics"
	"github.com/waterballsa/academy/internal/model"
	"github.com/waterballsa/academy/internal/repository"
	"github.com/waterballsa/academy/internal/session"
)

var (
	// ErrUnsupportedProvider は設定されていないIdPが指定された場合のエラー。
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
	// ErrOAuthExchange はIdPとの認可コード交換やユーザー情報取得に失敗した場合のエラー。
	ErrOAuthExchange = errors.New("oauth exchange failed")
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider model.ProviderKind `validate:"required"`
	Subject  string             `validate:"required"`
	Email    string             `validate:"required,email"`
	Name     string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Kind はIdP種別を返す。
	Kind() model.ProviderKind
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionCacheTTL time.Duration
}

// LoginResult はログイン成功時に発行されるトークンとユーザー情報。
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // アクセストークンの有効期間（秒）
	UserID       int64
	IsNewUser    bool
}

// AccessGrant はリフレッシュで再発行されたアクセストークン。
type AccessGrant struct {
	AccessToken string
	ExpiresIn   int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	providers map[model.ProviderKind]OAuthProvider
	resolver  *IdentityResolver
	tokens    *TokenService
	userRepo  repository.UserRepository
	linkRepo  repository.ProviderLinkRepository
	cache     session.Cache
	metrics   metrics.MetricsCollector
	validate  *validator.Validate
	config    ServiceConfig

	// invalidations はスナップショット破棄のたびに増える。
	// 読み込み中に破棄があった場合、再構築結果をキャッシュしない。
	invalidations atomic.Uint64
}

// NewService はServiceを生成する。
func NewService(
	providers []OAuthProvider,
	resolver *IdentityResolver,
	tokens *TokenService,
	userRepo repository.UserRepository,
	linkRepo repository.ProviderLinkRepository,
	cache session.Cache,
	collector metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	byKind := make(map[model.ProviderKind]OAuthProvider, len(providers))
	for _, p := range providers {
		byKind[p.Kind()] = p
	}
	if cache == nil {
		cache = session.NopCache{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		providers: byKind,
		resolver:  resolver,
		tokens:    tokens,
		userRepo:  userRepo,
		linkRepo:  linkRepo,
		cache:     cache,
		metrics:   collector,
		validate:  validator.New(),
		config:    config,
	}
}

// GetLoginURL は指定IdPのOAuth認証URLを生成する。
func (s *Service) GetLoginURL(kind model.ProviderKind, state string) (string, error) {
	p, ok := s.providers[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}
	return p.GetLoginURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、トークンを発行する。
func (s *Service) HandleCallback(ctx context.Context, kind model.ProviderKind, code string) (*LoginResult, error) {
	p, ok := s.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}

	userInfo, err := p.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(string(kind), "exchange_failed")
		return nil, fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}
	if userInfo != nil {
		userInfo.Provider = kind
	}

	return s.ResolveOAuthLogin(ctx, userInfo)
}

// ResolveOAuthLogin はIdPで認証済みのユーザー情報からアカウントを解決し、
// アクセストークンとリフレッシュトークンを発行する。
func (s *Service) ResolveOAuthLogin(ctx context.Context, info *OAuthUserInfo) (*LoginResult, error) {
	if info == nil {
		return nil, model.ErrUpstreamIdentityIncomplete
	}
	if err := s.validate.Struct(info); err != nil {
		s.metrics.RecordLogin(string(info.Provider), "incomplete")
		return nil, fmt.Errorf("%w: %v", model.ErrUpstreamIdentityIncomplete, err)
	}

	res, err := s.resolver.Resolve(ctx, LoginIdentity{
		Provider: info.Provider,
		Subject:  info.Subject,
		Email:    info.Email,
		Name:     info.Name,
	})
	if err != nil {
		s.metrics.RecordLogin(string(info.Provider), loginFailureOutcome(err))
		return nil, err
	}

	user := res.User
	accessToken, err := s.tokens.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refreshToken, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	s.metrics.RecordLogin(string(info.Provider), string(res.Path))
	s.refreshSnapshot(ctx, user)

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("provider", string(info.Provider)),
		slog.Bool("is_new_user", res.IsNewUser),
	)

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(s.tokens.AccessTTL().Seconds()),
		UserID:       user.ID,
		IsNewUser:    res.IsNewUser,
	}, nil
}

// Refresh はリフレッシュトークンを検証し、新しいアクセストークンを発行する。
// ロールは発行時点でデータストアに保存されている値を用いる。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AccessGrant, error) {
	userID, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		s.metrics.RecordTokenRefresh(false)
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRefreshToken, err)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		s.metrics.RecordTokenRefresh(false)
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordTokenRefresh(false)
		return nil, fmt.Errorf("%w: user %d no longer exists", model.ErrInvalidRefreshToken, userID)
	}

	accessToken, err := s.tokens.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.metrics.RecordTokenRefresh(true)
	return &AccessGrant{
		AccessToken: accessToken,
		ExpiresIn:   int(s.tokens.AccessTTL().Seconds()),
	}, nil
}

// Authenticate はアクセストークンを検証してPrincipalを返す。
func (s *Service) Authenticate(bearer string) (*model.Principal, error) {
	return s.tokens.VerifyAccess(bearer)
}

// Logout はセッションキャッシュを破棄する。
// 発行済みのトークンは失効させない。
func (s *Service) Logout(ctx context.Context, userID int64) {
	s.invalidations.Add(1)
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		slog.Warn("failed to invalidate session cache on logout",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	slog.Info("user logged out", slog.Int64("user_id", userID))
}

// Session はユーザーのセッションスナップショットを返す。
// キャッシュにない場合やキャッシュが利用できない場合はデータストアから再構築する。
func (s *Service) Session(ctx context.Context, userID int64) (*model.SessionSnapshot, error) {
	cached, err := s.cache.Get(ctx, userID)
	switch {
	case err != nil:
		s.metrics.RecordSessionCache(metrics.CacheError)
		slog.Warn("session cache read failed, falling back to store",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	case cached != nil:
		s.metrics.RecordSessionCache(metrics.CacheHit)
		return cached, nil
	default:
		s.metrics.RecordSessionCache(metrics.CacheMiss)
	}

	generation := s.invalidations.Load()
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrUserNotFound
	}

	snapshot, err := s.buildSnapshot(ctx, user)
	if err != nil {
		return nil, err
	}
	if s.invalidations.Load() != generation {
		slog.Debug("session invalidated during rebuild, skipping cache write",
			slog.Int64("user_id", userID),
		)
		return snapshot, nil
	}
	s.putSnapshot(ctx, snapshot)
	return snapshot, nil
}

// InvalidateSession はキャッシュ済みのスナップショットを破棄する。
// 次回のSessionはデータストアから再構築される。
func (s *Service) InvalidateSession(ctx context.Context, userID int64) {
	s.invalidations.Add(1)
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		slog.Warn("failed to invalidate session cache",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) buildSnapshot(ctx context.Context, user *model.User) (*model.SessionSnapshot, error) {
	links, err := s.linkRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider links: %w", err)
	}
	return model.NewSessionSnapshot(user, links), nil
}

// refreshSnapshot はログイン直後のスナップショットをキャッシュする。失敗してもログインは成功させる。
func (s *Service) refreshSnapshot(ctx context.Context, user *model.User) {
	snapshot, err := s.buildSnapshot(ctx, user)
	if err != nil {
		slog.Warn("failed to build session snapshot",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.putSnapshot(ctx, snapshot)
}

func (s *Service) putSnapshot(ctx context.Context, snapshot *model.SessionSnapshot) {
	if err := s.cache.Put(ctx, snapshot.UserID, snapshot, s.config.SessionCacheTTL); err != nil {
		s.metrics.RecordSessionCache(metrics.CacheError)
		slog.Warn("failed to write session cache",
			slog.Int64("user_id", snapshot.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func loginFailureOutcome(err error) string {
	switch {
	case errors.Is(err, model.ErrUpstreamIdentityIncomplete):
		return "incomplete"
	case errors.Is(err, model.ErrIdentityConflict):
		return "conflict"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
