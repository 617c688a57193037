package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// tokenBytes はセッショントークンの乱数バイト数（256bit）。
const tokenBytes = 32

// DefaultSessionValidity はセッションの既定の有効期間。
const DefaultSessionValidity = 30 * 24 * time.Hour

// GenerateToken は暗号論的に安全な乱数から64文字の16進トークンを生成する。
// クライアントのCookieに置かれるのはこの値のみ。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken はトークンのSHA-256ダイジェストを16進で返す。
// 永続化と検索にはこの値のみを使う。
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// ExpiryFrom はnowに有効期間を加えた失効日時を返す。
func ExpiryFrom(now time.Time, validity time.Duration) time.Time {
	return now.Add(validity)
}
