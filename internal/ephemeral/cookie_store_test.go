package ephemeral

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// replay はレスポンスで発行されたCookieを次のリクエストに載せる。
func replay(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			req.AddCookie(c)
		}
	}
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewCookieStore_EmptySecret(t *testing.T) {
	if _, err := NewCookieStore("", CookieOptions{}); err == nil {
		t.Fatal("空の署名鍵ではエラーになるべき")
	}
}

func TestCookieStore_PutAndTake(t *testing.T) {
	store, err := NewCookieStore("test-secret", CookieOptions{Secure: true})
	if err != nil {
		t.Fatalf("NewCookieStore に失敗: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	if err := store.Put(rec, req, "auth_csrf_state", "abc123", 5*time.Minute); err != nil {
		t.Fatalf("Put に失敗: %v", err)
	}

	c := findCookie(rec, "auth_csrf_state")
	if c == nil {
		t.Fatal("Cookieが発行されていない")
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
		t.Errorf("Cookie属性が不正: %+v", c)
	}
	if c.MaxAge != 300 {
		t.Errorf("MaxAge = %d, want 300", c.MaxAge)
	}
	if strings.Contains(c.Value, "abc123") {
		t.Error("値は平文のままCookieに入れない")
	}

	takeRec := httptest.NewRecorder()
	value, ok := store.Take(takeRec, replay(rec), "auth_csrf_state")
	if !ok || value != "abc123" {
		t.Fatalf("Take = (%q, %v), want (abc123, true)", value, ok)
	}

	cleared := findCookie(takeRec, "auth_csrf_state")
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Errorf("Take 後にCookieが失効されていない: %+v", cleared)
	}
}

func TestCookieStore_Take_Rejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store, _ := NewCookieStore("test-secret", CookieOptions{})
	store.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	store.Put(rec, httptest.NewRequest(http.MethodGet, "/login", nil), "auth_code_verifier", "verifier-value", 5*time.Minute)
	issued := findCookie(rec, "auth_code_verifier")

	tests := []struct {
		name   string
		cookie *http.Cookie
		at     time.Time
	}{
		{
			name:   "Cookieなし",
			cookie: nil,
			at:     now,
		},
		{
			name:   "値の改ざん",
			cookie: &http.Cookie{Name: "auth_code_verifier", Value: "eHh4" + issued.Value[strings.Index(issued.Value, "."):]},
			at:     now,
		},
		{
			name:   "形式不正",
			cookie: &http.Cookie{Name: "auth_code_verifier", Value: "garbage"},
			at:     now,
		},
		{
			name:   "別のキーへの付け替え",
			cookie: &http.Cookie{Name: "auth_csrf_state", Value: issued.Value},
			at:     now,
		},
		{
			name:   "有効期限切れ",
			cookie: &http.Cookie{Name: "auth_code_verifier", Value: issued.Value},
			at:     now.Add(5 * time.Minute),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store.now = func() time.Time { return tt.at }
			req := httptest.NewRequest(http.MethodGet, "/callback", nil)
			key := "auth_code_verifier"
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
				key = tt.cookie.Name
			}

			if value, ok := store.Take(httptest.NewRecorder(), req, key); ok {
				t.Errorf("Take は失敗すべき: got %q", value)
			}
		})
	}
}

func TestCookieStore_DifferentSecretRejected(t *testing.T) {
	a, _ := NewCookieStore("secret-a", CookieOptions{})
	b, _ := NewCookieStore("secret-b", CookieOptions{})

	rec := httptest.NewRecorder()
	a.Put(rec, httptest.NewRequest(http.MethodGet, "/login", nil), "auth_csrf_state", "state", time.Minute)

	if _, ok := b.Take(httptest.NewRecorder(), replay(rec), "auth_csrf_state"); ok {
		t.Error("別の鍵で署名されたCookieを受け入れてはならない")
	}
}
