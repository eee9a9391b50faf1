// Package ephemeral はログイン試行中だけ必要な短命の値（CSRFトークン、PKCE verifier）を
// ブラウザに紐付けて保持するストアを提供する。
//
// Take は値を返すと同時に必ず削除する。値の有無や検証結果に関わらず、
// 一度 Take したキーは二度と取り出せない。
package ephemeral

import (
	"net/http"
	"time"
)

// Store はブラウザ単位の短命な値のストア。
type Store interface {
	// Put はkeyに値を保存し、ttl経過後に失効させる。
	Put(w http.ResponseWriter, r *http.Request, key, value string, ttl time.Duration) error
	// Take はkeyの値を取り出して削除する。存在しない、改ざんされている、
	// または失効している場合は ok=false を返す。
	Take(w http.ResponseWriter, r *http.Request, key string) (value string, ok bool)
}

// CookieOptions はストアが発行するCookieの属性。
type CookieOptions struct {
	Secure bool
	Domain string
}

// newCookie はHttpOnly・SameSite=Lax・Path=/ のCookieを生成する。
func (o CookieOptions) newCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   o.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// expire はCookieを即時失効させる。
func (o CookieOptions) expire(w http.ResponseWriter, name string) {
	http.SetCookie(w, o.newCookie(name, "", -1))
}

func maxAgeSeconds(ttl time.Duration) int {
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
