package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/waterballsa/academy/internal/model"
)

const linkColumns = `id, user_id, provider_kind, provider_subject, provider_email_encrypted, linked_at`

// PostgresProviderLinkRepo はPostgreSQLを使用したIdP紐付けリポジトリ。
type PostgresProviderLinkRepo struct {
	db      *sql.DB
	cipher  FieldCipher
	timeout time.Duration
}

// NewPostgresProviderLinkRepo はPostgresProviderLinkRepoを生成する。
func NewPostgresProviderLinkRepo(db *sql.DB, cipher FieldCipher, timeout time.Duration) *PostgresProviderLinkRepo {
	return &PostgresProviderLinkRepo{db: db, cipher: cipher, timeout: timeout}
}

// FindByProvider はIdP種別とアカウントIDで紐付けを検索する。見つからない場合はnilを返す。
func (r *PostgresProviderLinkRepo) FindByProvider(ctx context.Context, provider model.ProviderKind, subject string) (*model.ProviderLink, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return findLink(ctx, r.db, r.cipher, provider, subject)
}

// ListByUserID はユーザーに紐付いた全IdPを紐付け順に返す。
func (r *PostgresProviderLinkRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.ProviderLink, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM oauth_provider_links WHERE user_id = $1 ORDER BY linked_at, id`,
		userID,
	)
	if err != nil {
		return nil, wrapStoreError("list provider links", err)
	}
	defer rows.Close()

	var links []*model.ProviderLink
	for rows.Next() {
		link, err := scanLink(rows, r.cipher)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError("iterate provider links", err)
	}
	return links, nil
}

func findLink(ctx context.Context, q querier, cipher FieldCipher, provider model.ProviderKind, subject string) (*model.ProviderLink, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM oauth_provider_links WHERE provider_kind = $1 AND provider_subject = $2`,
		string(provider), subject,
	)
	link, err := scanLink(row, cipher)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

func scanLink(row rowScanner, cipher FieldCipher) (*model.ProviderLink, error) {
	var (
		link     model.ProviderLink
		provider string
		emailEnc []byte
	)
	err := row.Scan(&link.ID, &link.UserID, &provider, &link.ProviderSubject, &emailEnc, &link.LinkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, wrapStoreError("scan provider link", err)
	}

	if link.Provider, err = model.ParseProviderKind(provider); err != nil {
		return nil, fmt.Errorf("failed to load provider of link %d: %w", link.ID, err)
	}
	if link.ProviderEmail, err = cipher.Decrypt(emailEnc); err != nil {
		return nil, fmt.Errorf("failed to decrypt provider email of link %d: %w", link.ID, err)
	}
	return &link, nil
}

func insertLink(ctx context.Context, q querier, cipher FieldCipher, link *model.ProviderLink) error {
	emailEnc, err := cipher.Encrypt(link.ProviderEmail)
	if err != nil {
		return fmt.Errorf("failed to encrypt provider email: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO oauth_provider_links (user_id, provider_kind, provider_subject, provider_email_encrypted)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, linked_at`,
		link.UserID, string(link.Provider), link.ProviderSubject, emailEnc,
	).Scan(&link.ID, &link.LinkedAt)
	if err != nil {
		return wrapStoreError("insert provider link", err)
	}
	return nil
}

// compile-time interface check
var _ ProviderLinkRepository = (*PostgresProviderLinkRepo)(nil)
