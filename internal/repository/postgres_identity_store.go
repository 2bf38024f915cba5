package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/waterballsa/academy/internal/model"
)

// PostgresIdentityStore はアカウント解決処理用のトランザクションを提供する。
type PostgresIdentityStore struct {
	db      *sql.DB
	cipher  FieldCipher
	timeout time.Duration
}

// NewPostgresIdentityStore はPostgresIdentityStoreを生成する。
// timeoutはトランザクション全体に許容する最大時間。
func NewPostgresIdentityStore(db *sql.DB, cipher FieldCipher, timeout time.Duration) *PostgresIdentityStore {
	return &PostgresIdentityStore{db: db, cipher: cipher, timeout: timeout}
}

// WithinTx はfnをREAD COMMITTEDのトランザクション内で実行する。
func (s *PostgresIdentityStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx IdentityTx) error) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return wrapStoreError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgIdentityTx{tx: tx, cipher: s.cipher}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreError("commit transaction", err)
	}
	return nil
}

// pgIdentityTx は*sql.Txに対するIdentityTxの実装。
type pgIdentityTx struct {
	tx     *sql.Tx
	cipher FieldCipher
}

func (t *pgIdentityTx) FindLinkByProvider(ctx context.Context, provider model.ProviderKind, subject string) (*model.ProviderLink, error) {
	return findLink(ctx, t.tx, t.cipher, provider, subject)
}

func (t *pgIdentityTx) FindUserByID(ctx context.Context, id int64) (*model.User, error) {
	return findUser(ctx, t.tx, t.cipher, "id = $1", id)
}

func (t *pgIdentityTx) FindUserByEmailFingerprint(ctx context.Context, fingerprint string) (*model.User, error) {
	return findUser(ctx, t.tx, t.cipher, "email_fingerprint = $1", fingerprint)
}

func (t *pgIdentityTx) InsertUser(ctx context.Context, user *model.User) error {
	if user.EmailFingerprint == "" {
		return fmt.Errorf("failed to insert user: empty email fingerprint")
	}
	return insertUser(ctx, t.tx, t.cipher, user)
}

func (t *pgIdentityTx) InsertLink(ctx context.Context, link *model.ProviderLink) error {
	return insertLink(ctx, t.tx, t.cipher, link)
}

// compile-time interface check
var (
	_ IdentityStore = (*PostgresIdentityStore)(nil)
	_ IdentityTx    = (*pgIdentityTx)(nil)
)
