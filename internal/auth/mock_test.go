package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/docpad/internal/model"
	"github.com/hitoshi/docpad/internal/repository"
)

// --- モック定義 ---
// 関数フィールドが設定されていればそれを呼び、未設定ならメモリ上のマップで振る舞う。

type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // key: id

	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	createCalls   int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session

	createFn       func(ctx context.Context, session *model.Session) error
	findByIDFn     func(ctx context.Context, id string) (*model.Session, error)
	findByUserIDFn func(ctx context.Context, userID string) (*model.Session, error)
	deleteByIDFn   func(ctx context.Context, id string) error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *mockSessionRepo) FindByUserID(ctx context.Context, userID string) (*model.Session, error) {
	if m.findByUserIDFn != nil {
		return m.findByUserIDFn(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Session
	for _, s := range m.sessions {
		if s.UserID == userID && (latest == nil || s.ExpiresAt.After(latest.ExpiresAt)) {
			latest = s
		}
	}
	return latest, nil
}

func (m *mockSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if m.deleteByIDFn != nil {
		return m.deleteByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpiredBefore(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

type mockProvider struct {
	validateFn      func() error
	exchangeFn      func(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	fetchUserInfoFn func(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
	exchangeCalls   int
}

func (m *mockProvider) Validate() error {
	if m.validateFn != nil {
		return m.validateFn()
	}
	return nil
}

func (m *mockProvider) AuthCodeURL(state, verifier string) string {
	return "https://accounts.example.com/auth?state=" + state + "&code_challenge=" + oauth2.S256ChallengeFromVerifier(verifier)
}

func (m *mockProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	m.exchangeCalls++
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code, verifier)
	}
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (m *mockProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	if m.fetchUserInfoFn != nil {
		return m.fetchUserInfoFn(ctx, token)
	}
	return &UserInfo{Subject: "sub-1", Name: "Alice", Email: "alice@example.com", EmailVerified: true}, nil
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ IdentityProvider = (*mockProvider)(nil)

// fakeClock はテスト用の時計。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
