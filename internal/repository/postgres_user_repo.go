package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/waterballsa/academy/internal/model"
)

const userColumns = `id, name, email_encrypted, email_fingerprint, gender, birthday_encrypted,
	location_encrypted, occupation, profile_link, exp, role, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsに共通するScan。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// 個人情報カラムはcipherで暗号化して保存する。
type PostgresUserRepo struct {
	db      *sql.DB
	cipher  FieldCipher
	timeout time.Duration
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
// timeoutは1回のクエリに許容する最大時間。
func NewPostgresUserRepo(db *sql.DB, cipher FieldCipher, timeout time.Duration) *PostgresUserRepo {
	return &PostgresUserRepo{db: db, cipher: cipher, timeout: timeout}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return findUser(ctx, r.db, r.cipher, "id = $1", id)
}

// FindByEmailFingerprint はフィンガープリントでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmailFingerprint(ctx context.Context, fingerprint string) (*model.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return findUser(ctx, r.db, r.cipher, "email_fingerprint = $1", fingerprint)
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return insertUser(ctx, r.db, r.cipher, user)
}

// AddExp は経験値を加算し、加算後の値を返す。
// 減算は許可しないため、経験値は単調非減少となる。
func (r *PostgresUserRepo) AddExp(ctx context.Context, id int64, delta int) (int, error) {
	if delta < 0 || delta > model.MaxExperienceDelta {
		return 0, fmt.Errorf("%w: %d", model.ErrInvalidExperience, delta)
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var exp int
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET exp = exp + $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING exp`,
		id, delta,
	).Scan(&exp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", model.ErrUserNotFound, id)
	}
	if isNumericOutOfRange(err) {
		return 0, fmt.Errorf("%w: exp overflow for user %d", model.ErrInvalidExperience, id)
	}
	if err != nil {
		return 0, wrapStoreError("add exp", err)
	}
	return exp, nil
}

// UpdateRole はユーザーのロールを更新する。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id int64, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", role)
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`,
		id, string(role),
	)
	if err != nil {
		return wrapStoreError("update role", err)
	}
	return requireAffected(result, id)
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するoauth_provider_linksはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return wrapStoreError("delete user", err)
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %d", model.ErrUserNotFound, id)
	}
	return nil
}

// findUser は条件に一致するユーザーを1件取得し、個人情報を復号する。
func findUser(ctx context.Context, q querier, cipher FieldCipher, where string, arg any) (*model.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	user, err := scanUser(row, cipher)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func scanUser(row rowScanner, cipher FieldCipher) (*model.User, error) {
	var (
		user                                  model.User
		emailEnc, birthdayEnc, locationEnc    []byte
		gender, occupation, profileLink, role sql.NullString
	)
	err := row.Scan(
		&user.ID, &user.Name, &emailEnc, &user.EmailFingerprint, &gender, &birthdayEnc,
		&locationEnc, &occupation, &profileLink, &user.Exp, &role, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, wrapStoreError("scan user", err)
	}

	user.Gender = gender.String
	user.Occupation = occupation.String
	user.ProfileLink = profileLink.String
	if user.Role, err = model.ParseRole(role.String); err != nil {
		return nil, fmt.Errorf("failed to load role of user %d: %w", user.ID, err)
	}

	if user.Email, err = cipher.Decrypt(emailEnc); err != nil {
		return nil, fmt.Errorf("failed to decrypt email of user %d: %w", user.ID, err)
	}
	if user.Birthday, err = cipher.Decrypt(birthdayEnc); err != nil {
		return nil, fmt.Errorf("failed to decrypt birthday of user %d: %w", user.ID, err)
	}
	if user.Location, err = cipher.Decrypt(locationEnc); err != nil {
		return nil, fmt.Errorf("failed to decrypt location of user %d: %w", user.ID, err)
	}

	return &user, nil
}

// insertUser は個人情報を暗号化してユーザーを作成する。
// 採番されたIDと作成日時をuserに設定する。
func insertUser(ctx context.Context, q querier, cipher FieldCipher, user *model.User) error {
	if user.Role == "" {
		user.Role = model.DefaultRole
	}

	emailEnc, err := cipher.Encrypt(user.Email)
	if err != nil {
		return fmt.Errorf("failed to encrypt email: %w", err)
	}
	birthdayEnc, err := cipher.Encrypt(user.Birthday)
	if err != nil {
		return fmt.Errorf("failed to encrypt birthday: %w", err)
	}
	locationEnc, err := cipher.Encrypt(user.Location)
	if err != nil {
		return fmt.Errorf("failed to encrypt location: %w", err)
	}

	err = q.QueryRowContext(ctx,
		`INSERT INTO users (name, email_encrypted, email_fingerprint, gender, birthday_encrypted,
			location_encrypted, occupation, profile_link, exp, role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		user.Name, emailEnc, user.EmailFingerprint, nullString(user.Gender), birthdayEnc,
		locationEnc, nullString(user.Occupation), nullString(user.ProfileLink), user.Exp, string(user.Role),
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return wrapStoreError("insert user", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
