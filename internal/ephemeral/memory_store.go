package ephemeral

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// BindingCookieName はMemoryStoreがブラウザを識別するCookie名。
const BindingCookieName = "auth_login_binding"

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore は値をサーバープロセス内に保持するストア。
// ブラウザにはランダムなバインディングIDのCookieのみを渡す。
// 単一プロセス構成向けで、再起動すると進行中のログイン試行は失われる。
type MemoryStore struct {
	mu       sync.Mutex
	bindings map[string]map[string]memoryEntry
	options  CookieOptions
	now      func() time.Time
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore(options CookieOptions) *MemoryStore {
	return &MemoryStore{
		bindings: make(map[string]map[string]memoryEntry),
		options:  options,
		now:      time.Now,
	}
}

// Put は値を保存し、バインディングCookieを発行（または延長）する。
// 失効済みのエントリはこのタイミングでまとめて破棄する。
func (s *MemoryStore) Put(w http.ResponseWriter, r *http.Request, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.purgeLocked(now)

	// 同一レスポンス内で既に発行したバインディングがあればそれを使う
	if id, ok := s.issuedBinding(w); ok {
		s.bindings[id][key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
		return nil
	}

	bindingID := ""
	if c, err := r.Cookie(BindingCookieName); err == nil {
		if _, ok := s.bindings[c.Value]; ok {
			bindingID = c.Value
		}
	}
	if bindingID == "" {
		id, err := newBindingID()
		if err != nil {
			return err
		}
		bindingID = id
		s.bindings[bindingID] = make(map[string]memoryEntry)
	}

	s.bindings[bindingID][key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	http.SetCookie(w, s.options.newCookie(BindingCookieName, bindingID, maxAgeSeconds(ttl)))
	return nil
}

// issuedBinding はレスポンスに設定済みのバインディングCookieを探す。
func (s *MemoryStore) issuedBinding(w http.ResponseWriter) (string, bool) {
	for _, line := range w.Header().Values("Set-Cookie") {
		c, err := http.ParseSetCookie(line)
		if err != nil || c.Name != BindingCookieName || c.MaxAge < 0 {
			continue
		}
		if _, ok := s.bindings[c.Value]; ok {
			return c.Value, true
		}
	}
	return "", false
}

// Take は値を取り出して削除する。バインディングに値が残っていなければCookieも失効させる。
func (s *MemoryStore) Take(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	c, err := r.Cookie(BindingCookieName)
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.bindings[c.Value]
	if !ok {
		s.options.expire(w, BindingCookieName)
		return "", false
	}

	entry, found := entries[key]
	delete(entries, key)
	if len(entries) == 0 {
		delete(s.bindings, c.Value)
		s.options.expire(w, BindingCookieName)
	}

	if !found || !s.now().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

// Len は保持中のバインディング数を返す。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

func (s *MemoryStore) purgeLocked(now time.Time) {
	for id, entries := range s.bindings {
		for key, entry := range entries {
			if !now.Before(entry.expiresAt) {
				delete(entries, key)
			}
		}
		if len(entries) == 0 {
			delete(s.bindings, id)
		}
	}
}

func newBindingID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate binding id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

var _ Store = (*MemoryStore)(nil)
