// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// MaxNameLength は表示名の最大文字数（rune数）。
const MaxNameLength = 50

// User はプラットフォームの学習者アカウントを表す。
// Email・Birthday・Location はメモリ上では平文だが、永続化時は暗号化される。
type User struct {
	ID               int64
	Name             string
	Email            string
	EmailFingerprint string
	Gender           string
	Birthday         string
	Location         string
	Occupation       string
	ProfileLink      string
	Exp              int
	Role             Role
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Level は累積経験値から導出したレベルを返す。
func (u *User) Level() int {
	return LevelForExp(u.Exp)
}

// Role はユーザーの権限ロールを表す。
// GUEST < STUDENT < TEACHER < ADMIN の全順序を持つ。
type Role string

// 定義済みロール
const (
	RoleGuest   Role = "GUEST"
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleAdmin   Role = "ADMIN"
)

// DefaultRole は新規アカウントに付与されるロール。
const DefaultRole = RoleStudent

var roleRank = map[Role]int{
	RoleGuest:   0,
	RoleStudent: 1,
	RoleTeacher: 2,
	RoleAdmin:   3,
}

// ParseRole は文字列をRoleに変換する。未知の値はエラーとなる。
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast はrがmin以上の権限を持つかどうかを返す。
// 未定義のロールは常にfalseとなる。
func (r Role) AtLeast(min Role) bool {
	rank, ok := roleRank[r]
	if !ok {
		return false
	}
	minRank, ok := roleRank[min]
	if !ok {
		return false
	}
	return rank >= minRank
}

// ProviderKind は外部IdPの種別を表す。
type ProviderKind string

// 対応しているIdP
const (
	ProviderGoogle   ProviderKind = "google"
	ProviderFacebook ProviderKind = "facebook"
)

// ParseProviderKind は大文字小文字を区別せずにProviderKindへ変換する。
func ParseProviderKind(s string) (ProviderKind, error) {
	switch ProviderKind(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderGoogle:
		return ProviderGoogle, nil
	case ProviderFacebook:
		return ProviderFacebook, nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", s)
	}
}

// ProviderLink は外部IdPのアカウントとUserの紐付けを表す。
// (Provider, ProviderSubject) はグローバルに一意で、作成後は変更されない。
type ProviderLink struct {
	ID              int64
	UserID          int64
	Provider        ProviderKind
	ProviderSubject string
	ProviderEmail   string
	LinkedAt        time.Time
}

// Principal は認証済みリクエストの主体を表す。
// アクセストークンのクレームのみから構築される。
type Principal struct {
	UserID int64
	Role   Role
}

// SessionSnapshot はセッションキャッシュに保存されるユーザー情報のスナップショット。
type SessionSnapshot struct {
	UserID                int64          `json:"user_id"`
	Name                  string         `json:"name"`
	Email                 string         `json:"email"`
	Level                 int            `json:"level"`
	Exp                   int            `json:"exp"`
	ExpForNextLevel       int            `json:"exp_for_next_level"`
	ExpProgressPercentage int            `json:"exp_progress_percentage"`
	Role                  Role           `json:"role"`
	OAuthProviders        []ProviderKind `json:"oauth_providers"`
}

// NewSessionSnapshot はユーザーと紐付け済みIdPの一覧からスナップショットを生成する。
func NewSessionSnapshot(u *User, links []*ProviderLink) *SessionSnapshot {
	providers := make([]ProviderKind, 0, len(links))
	for _, l := range links {
		providers = append(providers, l.Provider)
	}
	return &SessionSnapshot{
		UserID:                u.ID,
		Name:                  u.Name,
		Email:                 u.Email,
		Level:                 u.Level(),
		Exp:                   u.Exp,
		ExpForNextLevel:       ExpForNextLevel(u.Exp),
		ExpProgressPercentage: ExpProgressPercentage(u.Exp),
		Role:                  u.Role,
		OAuthProviders:        providers,
	}
}
