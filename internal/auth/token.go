package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/waterballsa/academy/internal/model"
)

// minSecretLength はHS256の鍵として受け入れる最小バイト数。
const minSecretLength = 32

// TokenKind はトークンの用途を表す。
type TokenKind string

// トークン種別
const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims はアクセストークン・リフレッシュトークンのクレーム。
// subにはユーザーIDの10進文字列が入る。roleはアクセストークンのみ。
type Claims struct {
	Kind TokenKind  `json:"type"`
	Role model.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID はsubクレームをユーザーIDとして返す。
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid subject %q", model.ErrMalformedToken, c.Subject)
	}
	return id, nil
}

// TokenConfig はTokenServiceの設定。
type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService はHS256署名のJWTを発行・検証する。
// 検証はDBやキャッシュを参照せず、署名と有効期限のみで完結する。
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
	now        func() time.Time
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLength)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh token ttl must be longer than access token ttl")
	}

	s := &TokenService{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return s, nil
}

// AccessTTL はアクセストークンの有効期間を返す。
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// RefreshTTL はリフレッシュトークンの有効期間を返す。
func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// IssueAccess はアクセストークンを発行する。
func (s *TokenService) IssueAccess(userID int64, role model.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("invalid role: %q", role)
	}
	return s.issue(userID, KindAccess, role, s.accessTTL)
}

// IssueRefresh はリフレッシュトークンを発行する。
func (s *TokenService) IssueRefresh(userID int64) (string, error) {
	return s.issue(userID, KindRefresh, "", s.refreshTTL)
}

func (s *TokenService) issue(userID int64, kind TokenKind, role model.Role, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("invalid user id: %d", userID)
	}

	now := s.now()
	claims := &Claims{
		Kind: kind,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// 失敗時はmodel.ErrTokenExpired、model.ErrInvalidSignature、model.ErrMalformedTokenのいずれかを返す。
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, model.ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, model.ErrInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", model.ErrMalformedToken, err)
		}
	}

	// 未知の種別・ロールは拒否する
	switch claims.Kind {
	case KindAccess:
		if !claims.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", model.ErrMalformedToken, claims.Role)
		}
	case KindRefresh:
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", model.ErrMalformedToken, claims.Kind)
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}

	return claims, nil
}

// KindOf はクレームのトークン種別を返す。
func KindOf(claims *Claims) TokenKind {
	return claims.Kind
}

// VerifyKind はトークンを検証し、種別がwantでなければmodel.ErrWrongTokenKindを返す。
func (s *TokenService) VerifyKind(tokenString string, want TokenKind) (*Claims, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if KindOf(claims) != want {
		return nil, fmt.Errorf("%w: got %s, want %s", model.ErrWrongTokenKind, claims.Kind, want)
	}
	return claims, nil
}

// VerifyAccess はアクセストークンを検証し、認証主体を返す。
func (s *TokenService) VerifyAccess(tokenString string) (*model.Principal, error) {
	claims, err := s.VerifyKind(tokenString, KindAccess)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	return &model.Principal{UserID: userID, Role: claims.Role}, nil
}

// VerifyRefresh はリフレッシュトークンを検証し、ユーザーIDを返す。
func (s *TokenService) VerifyRefresh(tokenString string) (int64, error) {
	claims, err := s.VerifyKind(tokenString, KindRefresh)
	if err != nil {
		return 0, err
	}
	return claims.UserID()
}
