// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"

	"github.com/waterballsa/academy/internal/model"
)

// FieldCipher は個人情報カラムの暗号化・復号を行う。
// security.PIICipherが実装する。
type FieldCipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(blob []byte) (string, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmailFingerprint はメールアドレスのフィンガープリントでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmailFingerprint(ctx context.Context, fingerprint string) (*model.User, error)

	// Create はIdPの紐付けを持たないユーザーを作成する（管理者によるプロビジョニング）。
	// フィンガープリントが重複する場合はmodel.ErrIdentityConflictを返す。
	Create(ctx context.Context, user *model.User) error

	// AddExp は経験値をdelta加算し、加算後の経験値を返す。
	// deltaが負の場合はmodel.ErrInvalidExperienceを返す。
	AddExp(ctx context.Context, id int64, delta int) (int, error)

	// UpdateRole はユーザーのロールを更新する。
	UpdateRole(ctx context.Context, id int64, role model.Role) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するoauth_provider_linksはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) error
}

// ProviderLinkRepository は外部IdP紐付け情報の参照インターフェース。
type ProviderLinkRepository interface {
	// FindByProvider はIdP種別とIdP側のアカウントIDで紐付けを検索する。
	// 見つからない場合はnilを返す。
	FindByProvider(ctx context.Context, provider model.ProviderKind, subject string) (*model.ProviderLink, error)

	// ListByUserID はユーザーに紐付いた全IdPを紐付け順に返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.ProviderLink, error)
}

// IdentityTx はアカウント解決処理で1トランザクション内に行う操作。
type IdentityTx interface {
	FindLinkByProvider(ctx context.Context, provider model.ProviderKind, subject string) (*model.ProviderLink, error)
	FindUserByID(ctx context.Context, id int64) (*model.User, error)
	FindUserByEmailFingerprint(ctx context.Context, fingerprint string) (*model.User, error)

	// InsertUser はユーザーを作成し、採番されたIDと作成日時をuserに設定する。
	InsertUser(ctx context.Context, user *model.User) error

	// InsertLink は紐付けを作成し、採番されたIDと紐付け日時をlinkに設定する。
	InsertLink(ctx context.Context, link *model.ProviderLink) error
}

// IdentityStore はアカウント解決処理のトランザクション境界を提供する。
type IdentityStore interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返した場合はロールバックし、そのエラーを返す。
	// 一意制約違反はmodel.ErrIdentityConflictとして返る。
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx IdentityTx) error) error
}

// querier は*sql.DBと*sql.Txに共通するクエリ操作。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
