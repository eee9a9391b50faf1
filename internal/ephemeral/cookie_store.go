package ephemeral

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CookieStore は値をHMAC署名付きCookieとしてブラウザ側に保持するストア。
// Cookie値は "base64(value).有効期限(unix秒).base64(署名)" の形式。
// 有効期限は署名対象に含まれるため、MaxAgeを無視して送り返されたCookieも拒否できる。
type CookieStore struct {
	secret  []byte
	options CookieOptions
	now     func() time.Time
}

// NewCookieStore はCookieStoreを生成する。secretは署名鍵で、空であってはならない。
func NewCookieStore(secret string, options CookieOptions) (*CookieStore, error) {
	if secret == "" {
		return nil, errors.New("ephemeral: cookie signing secret is empty")
	}
	return &CookieStore{
		secret:  []byte(secret),
		options: options,
		now:     time.Now,
	}, nil
}

// Put は値を署名してCookieに保存する。
func (s *CookieStore) Put(w http.ResponseWriter, _ *http.Request, key, value string, ttl time.Duration) error {
	expiresAt := s.now().Add(ttl).Unix()
	http.SetCookie(w, s.options.newCookie(key, s.encode(key, value, expiresAt), maxAgeSeconds(ttl)))
	return nil
}

// Take はCookieから値を取り出し、Cookieを失効させる。
func (s *CookieStore) Take(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	cookie, err := r.Cookie(key)
	if err != nil {
		return "", false
	}
	s.options.expire(w, key)

	return s.decode(key, cookie.Value)
}

func (s *CookieStore) encode(key, value string, expiresAt int64) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(value)) + "." + strconv.FormatInt(expiresAt, 10)
	return payload + "." + base64.RawURLEncoding.EncodeToString(s.sign(key, payload))
}

func (s *CookieStore) decode(key, raw string) (string, bool) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", false
	}

	payload := parts[0] + "." + parts[1]
	mac, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(mac, s.sign(key, payload)) {
		return "", false
	}

	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || !s.now().Before(time.Unix(expiresAt, 0)) {
		return "", false
	}

	value, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	return string(value), true
}

// sign はCookie名も署名対象に含め、別のCookieへの値の付け替えを防ぐ。
func (s *CookieStore) sign(key, payload string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(key))
	h.Write([]byte{0})
	h.Write([]byte(payload))
	return h.Sum(nil)
}

var _ Store = (*CookieStore)(nil)
