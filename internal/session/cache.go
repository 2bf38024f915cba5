// Package session はユーザーのセッションスナップショットのキャッシュを提供する。
//
// キャッシュは読み取りの高速化のためだけに存在し、正しさには関与しない。
// 障害時は呼び出し側がデータストアから再構築する。
package session

import (
	"context"
	"strconv"
	"time"

	"github.com/waterballsa/academy/internal/model"
)

// KeyPrefix はセッションキャッシュのキー接頭辞。
const KeyPrefix = "session:"

// Cache はセッションスナップショットのキャッシュ。
type Cache interface {
	// Put はスナップショットをttl付きで保存（上書き）する。
	Put(ctx context.Context, userID int64, snapshot *model.SessionSnapshot, ttl time.Duration) error

	// Get はスナップショットを取得する。存在しない・期限切れの場合はnilを返す。
	Get(ctx context.Context, userID int64) (*model.SessionSnapshot, error)

	// Invalidate はスナップショットを削除する。存在しない場合もエラーにしない。
	Invalidate(ctx context.Context, userID int64) error
}

// Key はユーザーIDに対応するキャッシュキーを返す。
func Key(userID int64) string {
	return KeyPrefix + strconv.FormatInt(userID, 10)
}

// NopCache は常にミスするキャッシュ。Redisが設定されていない環境で使用する。
type NopCache struct{}

func (NopCache) Put(context.Context, int64, *model.SessionSnapshot, time.Duration) error {
	return nil
}

func (NopCache) Get(context.Context, int64) (*model.SessionSnapshot, error) {
	return nil, nil
}

func (NopCache) Invalidate(context.Context, int64) error {
	return nil
}

// compile-time interface check
var _ Cache = NopCache{}
