package security

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint はメールアドレスの照合キー（SHA-256の16進文字列、64文字）を返す。
// 前後の空白を除去し小文字化してからハッシュするため、
// 大文字小文字だけが異なるメールアドレスは同じ値になる。
func Fingerprint(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
