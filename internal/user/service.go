// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/waterballsa/academy/internal/model"
	"github.com/waterballsa/academy/internal/repository"
	"github.com/waterballsa/academy/internal/security"
)

// 管理者によるユーザー作成の入力エラー。
var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidName  = errors.New("invalid display name")
	ErrInvalidRole  = errors.New("invalid role")
)

// SessionInvalidator はセッションキャッシュの破棄インターフェース。
// auth.Serviceが実装する。
type SessionInvalidator interface {
	InvalidateSession(ctx context.Context, userID int64)
}

// ProvisionInput は管理者によるユーザー作成の入力。
type ProvisionInput struct {
	Email string
	Name  string
	Role  model.Role
}

// Service はユーザー管理のサービス層。
// 退会、ロール変更、経験値付与、管理者によるユーザー作成を提供する。
type Service struct {
	userRepo  repository.UserRepository
	sessions  SessionInvalidator
	sanitizer security.NameSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessions SessionInvalidator,
	sanitizer security.NameSanitizer,
) *Service {
	return &Service{
		userRepo:  userRepo,
		sessions:  sessions,
		sanitizer: sanitizer,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// oauth_provider_linksはCASCADE削除される。発行済みのトークンは失効させない。
func (s *Service) Withdraw(ctx context.Context, userID int64) error {
	slog.Info("退会処理を開始します", slog.Int64("user_id", userID))

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	s.invalidate(ctx, userID)

	slog.Info("退会処理が完了しました", slog.Int64("user_id", userID))
	return nil
}

// UpdateRole はユーザーのロールを変更する。
// 変更は次回のアクセストークン発行（リフレッシュ）から反映される。
func (s *Service) UpdateRole(ctx context.Context, userID int64, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := s.userRepo.UpdateRole(ctx, userID, role); err != nil {
		return fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}
	s.invalidate(ctx, userID)

	slog.Info("ロールを変更しました",
		slog.Int64("user_id", userID),
		slog.String("role", string(role)),
	)
	return nil
}

// AwardExperience は経験値を加算し、加算後の経験値を返す。
// 経験値は減らせないため、負の値やmodel.MaxExperienceDeltaを超える値はmodel.ErrInvalidExperienceとなる。
func (s *Service) AwardExperience(ctx context.Context, userID int64, delta int) (int, error) {
	if delta < 0 || delta > model.MaxExperienceDelta {
		return 0, fmt.Errorf("%w: %d", model.ErrInvalidExperience, delta)
	}
	exp, err := s.userRepo.AddExp(ctx, userID, delta)
	if err != nil {
		return 0, fmt.Errorf("経験値の加算に失敗しました: %w", err)
	}
	s.invalidate(ctx, userID)

	before := model.LevelForExp(exp - delta)
	after := model.LevelForExp(exp)
	if after > before {
		slog.Info("レベルが上がりました",
			slog.Int64("user_id", userID),
			slog.Int("level", after),
		)
	}
	return exp, nil
}

// Provision はIdPの紐付けを持たないユーザーを作成する。
// 同じメールアドレスで後からOAuthログインすると、このユーザーに紐付けられる。
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (*model.User, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	name := s.sanitizer.Sanitize(in.Name, model.MaxNameLength)
	if name == "" {
		return nil, ErrInvalidName
	}
	role := in.Role
	if role == "" {
		role = model.DefaultRole
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}

	fingerprint := security.Fingerprint(email)
	existing, err := s.userRepo.FindByEmailFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: email already registered", model.ErrIdentityConflict)
	}

	u := &model.User{
		Name:             name,
		Email:            email,
		EmailFingerprint: fingerprint,
		Role:             role,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.Int64("user_id", u.ID),
		slog.String("role", string(role)),
	)
	return u, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.sessions != nil {
		s.sessions.InvalidateSession(ctx, userID)
	}
}
