package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer はIdPから受け取った表示名を保存可能なプレーンテキストに変換する。
type NameSanitizer interface {
	// Sanitize はタグを除去し、制御文字と前後の空白を取り除き、
	// maxRunes文字（rune単位）に切り詰めた文字列を返す。
	Sanitize(raw string, maxRunes int) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのStrictPolicyはすべてのタグを除去する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名をサニタイズする。
func (s *nameSanitizer) Sanitize(raw string, maxRunes int) string {
	// 1. タグ除去（StrictPolicyは特殊文字をエスケープするので元に戻す）
	cleaned := html.UnescapeString(s.policy.Sanitize(raw))

	// 2. 制御文字を除去
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)

	// 3. rune単位で切り詰め
	if maxRunes > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxRunes {
			cleaned = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}

	return cleaned
}
