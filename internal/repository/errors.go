package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/waterballsa/academy/internal/model"
)

// PostgreSQLのSQLSTATE。
const (
	pqUniqueViolation        = "23505"
	pqNumericOutOfRange      = "22003"
	pqQueryCanceled          = "57014"
	pqAdminShutdown          = "57P01"
	pqCannotConnectNow       = "57P03"
	pqConnectionDoesNotExist = "08003"
	pqConnectionFailure      = "08006"
)

// wrapStoreError はドライバのエラーをドメインのエラーに変換してラップする。
//   - 一意制約違反: model.ErrIdentityConflict
//   - タイムアウト・キャンセル・接続断: model.ErrStoreUnavailable
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("failed to %s: %w: %s", op, model.ErrIdentityConflict, pqErr.Constraint)
		case pqQueryCanceled, pqAdminShutdown, pqCannotConnectNow, pqConnectionFailure, pqConnectionDoesNotExist:
			return fmt.Errorf("failed to %s: %w: %v", op, model.ErrStoreUnavailable, err)
		}
	}

	if isUnavailable(err) {
		return fmt.Errorf("failed to %s: %w: %v", op, model.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

// isUnavailable はコンテキストの期限切れ・キャンセル、または接続の問題によるエラーかを判定する。
// 期限切れのコンテキストで開始したトランザクション上の文はsql.ErrTxDoneとなる。
func isUnavailable(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrTxDone) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.As(err, &netErr)
}

// isNumericOutOfRange は列の型の範囲を超える値による失敗かを判定する。
func isNumericOutOfRange(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqNumericOutOfRange
}
