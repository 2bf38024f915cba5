// Package security はアプリケーションのセキュリティ機能を提供する。
//
// PIICipher は個人情報フィールド（メールアドレス・生年月日・居住地）を
// 保存前に暗号化し、読み出し時に復号する。
// Fingerprint は大文字小文字を区別しないメールアドレスの照合キーを生成する。
// NameSanitizer はIdPから受け取った表示名からマークアップを除去する。
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/waterballsa/academy/internal/model"
)

// PIICipher はAES-256-GCMによるフィールド単位の暗号化を行う。
// 出力形式は [nonce(12byte)][ciphertext][tag(16byte)]。
// 鍵は起動時に一度だけ導出され、以降は読み取り専用のため並行利用できる。
type PIICipher struct {
	aead cipher.AEAD
}

// NewPIICipher は運用者が設定したシークレットから暗号器を生成する。
// 鍵はシークレットのSHA-256ダイジェスト（256bit）。
func NewPIICipher(secret string) (*PIICipher, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return &PIICipher{aead: aead}, nil
}

// Encrypt は平文を暗号化する。
// 空文字列はnilを返す（未設定フィールドを表す）。
// 呼び出しごとに新しいnonceを生成するため、同じ平文でも出力は毎回異なる。
func (c *PIICipher) Encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt は暗号文を復号する。
// 空の入力は空文字列を返す。
// 長さ不足・鍵の不一致・改ざんはmodel.ErrDecryptionFailedを返す。
func (c *PIICipher) Decrypt(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}

	nonceSize := c.aead.NonceSize()
	if len(blob) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short (%d bytes)", model.ErrDecryptionFailed, len(blob))
	}

	plaintext, err := c.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}
