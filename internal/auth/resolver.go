package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/waterballsa/academy/internal/metrics"
	"github.com/waterballsa/academy/internal/model"
	"github.com/waterballsa/academy/internal/repository"
	"github.com/waterballsa/academy/internal/security"
)

// ResolutionPath はログイン時にどの経路でアカウントが特定されたかを表す。
type ResolutionPath string

const (
	// PathLinked は既存の紐付けからユーザーを特定した。
	PathLinked ResolutionPath = "linked"
	// PathMerged はメールアドレスが一致する既存ユーザーに新しいIdPを紐付けた。
	PathMerged ResolutionPath = "merged"
	// PathCreated はユーザーと紐付けを新規作成した。
	PathCreated ResolutionPath = "created"
)

// LoginIdentity はIdPで認証済みのアカウント情報。
type LoginIdentity struct {
	Provider model.ProviderKind
	Subject  string
	Email    string
	Name     string
}

// Resolution はアカウント解決の結果。
type Resolution struct {
	User      *model.User
	IsNewUser bool
	Path      ResolutionPath
}

// IdentityResolver はIdPのアカウントをプラットフォームのユーザーへ対応付ける。
type IdentityResolver struct {
	store     repository.IdentityStore
	sanitizer security.NameSanitizer
	metrics   metrics.MetricsCollector
}

// NewIdentityResolver はIdentityResolverを生成する。
func NewIdentityResolver(
	store repository.IdentityStore,
	sanitizer security.NameSanitizer,
	collector metrics.MetricsCollector,
) *IdentityResolver {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &IdentityResolver{
		store:     store,
		sanitizer: sanitizer,
		metrics:   collector,
	}
}

// Resolve はIdPのアカウントに対応するユーザーを返す。
//
// 1. (Provider, Subject) の紐付けがあればそのユーザー
// 2. メールアドレスのフィンガープリントが一致するユーザーがいれば紐付けを追加
// 3. いずれもなければユーザーと紐付けを新規作成
//
// 同時ログインで一意制約に衝突した場合はトランザクション全体を1回だけ再試行する。
func (r *IdentityResolver) Resolve(ctx context.Context, identity LoginIdentity) (*Resolution, error) {
	if strings.TrimSpace(identity.Subject) == "" || strings.TrimSpace(identity.Email) == "" {
		return nil, model.ErrUpstreamIdentityIncomplete
	}

	start := time.Now()
	defer func() {
		r.metrics.RecordResolveLatency(time.Since(start))
	}()

	res, err := r.resolveOnce(ctx, identity)
	if errors.Is(err, model.ErrIdentityConflict) {
		r.metrics.RecordIdentityConflict()
		slog.Warn("identity resolution conflicted, retrying",
			slog.String("provider", string(identity.Provider)),
		)
		res, err = r.resolveOnce(ctx, identity)
		if errors.Is(err, model.ErrIdentityConflict) {
			r.metrics.RecordIdentityConflict()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}

	slog.Info("identity resolved",
		slog.Int64("user_id", res.User.ID),
		slog.String("provider", string(identity.Provider)),
		slog.String("path", string(res.Path)),
	)
	return res, nil
}

func (r *IdentityResolver) resolveOnce(ctx context.Context, identity LoginIdentity) (*Resolution, error) {
	var res *Resolution
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx repository.IdentityTx) error {
		link, err := tx.FindLinkByProvider(ctx, identity.Provider, identity.Subject)
		if err != nil {
			return err
		}
		if link != nil {
			user, err := tx.FindUserByID(ctx, link.UserID)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("provider link %d references missing user %d: %w", link.ID, link.UserID, model.ErrUserNotFound)
			}
			res = &Resolution{User: user, Path: PathLinked}
			return nil
		}

		fingerprint := security.Fingerprint(identity.Email)
		newLink := &model.ProviderLink{
			Provider:        identity.Provider,
			ProviderSubject: identity.Subject,
			ProviderEmail:   identity.Email,
		}

		user, err := tx.FindUserByEmailFingerprint(ctx, fingerprint)
		if err != nil {
			return err
		}
		if user != nil {
			newLink.UserID = user.ID
			if err := tx.InsertLink(ctx, newLink); err != nil {
				return err
			}
			res = &Resolution{User: user, Path: PathMerged}
			return nil
		}

		user = &model.User{
			Name:             r.displayName(identity),
			Email:            strings.TrimSpace(identity.Email),
			EmailFingerprint: fingerprint,
			Role:             model.DefaultRole,
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			return err
		}
		newLink.UserID = user.ID
		if err := tx.InsertLink(ctx, newLink); err != nil {
			return err
		}
		res = &Resolution{User: user, IsNewUser: true, Path: PathCreated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// displayName はIdPの表示名、メールアドレスのローカル部、ランダムな名前の順に採用する。
func (r *IdentityResolver) displayName(identity LoginIdentity) string {
	if name := r.sanitizer.Sanitize(identity.Name, model.MaxNameLength); name != "" {
		return name
	}
	local, _, _ := strings.Cut(strings.TrimSpace(identity.Email), "@")
	if name := r.sanitizer.Sanitize(local, model.MaxNameLength); name != "" {
		return name
	}
	return "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
