package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// csrfTokenBytes はCSRFトークンの乱数バイト数（256ビット）。
const csrfTokenBytes = 32

// LoginAttempt は1回のログイン試行に紐付く秘密情報。
// 両方ともログイン開始時にブラウザ側（ephemeral.Store）へ預け、コールバックで取り出す。
type LoginAttempt struct {
	CSRFToken string
	Verifier  string
}

// NewLoginAttempt は新しいCSRFトークンとPKCE verifierを生成する。
func NewLoginAttempt() (*LoginAttempt, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate csrf token: %w", err)
	}

	return &LoginAttempt{
		CSRFToken: base64.RawURLEncoding.EncodeToString(b),
		Verifier:  oauth2.GenerateVerifier(),
	}, nil
}

// Challenge はverifierに対応するS256のcode_challengeを返す。
func (a *LoginAttempt) Challenge() string {
	return oauth2.S256ChallengeFromVerifier(a.Verifier)
}

// csrfTokenMatches はstateパラメータと保存済みトークンを定数時間で比較する。
func csrfTokenMatches(stored, state string) bool {
	if stored == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(state)) == 1
}
