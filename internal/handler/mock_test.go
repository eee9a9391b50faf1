package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/hitoshi/docpad/internal/auth"
	"github.com/hitoshi/docpad/internal/document"
	"github.com/hitoshi/docpad/internal/middleware"
	"github.com/hitoshi/docpad/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	beginLoginFn    func() (string, *auth.LoginAttempt, error)
	completeLoginFn func(ctx context.Context, in auth.CallbackInput) (*auth.LoginResult, error)
	logoutFn        func(ctx context.Context, sessionID string) error
	now             time.Time
}

func (m *mockAuthService) BeginLogin() (string, *auth.LoginAttempt, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn()
	}
	return "https://accounts.example.com/auth?state=token", &auth.LoginAttempt{CSRFToken: "token", Verifier: "verifier"}, nil
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, in auth.CallbackInput) (*auth.LoginResult, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, in)
	}
	return nil, auth.ErrPersistence
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) Now() time.Time {
	if m.now.IsZero() {
		return time.Now()
	}
	return m.now
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	meFn       func(ctx context.Context, userID string) (*model.User, error)
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Me(ctx context.Context, userID string) (*model.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// mockDocumentService はDocumentServiceInterfaceのモック実装。
type mockDocumentService struct {
	listFn   func(ctx context.Context, userID string) ([]*model.Document, error)
	getFn    func(ctx context.Context, userID, id string) (*model.Document, error)
	createFn func(ctx context.Context, userID string, in document.Input) (*model.Document, error)
	updateFn func(ctx context.Context, userID, id string, in document.Input) (*model.Document, error)
	deleteFn func(ctx context.Context, userID, id string) error
}

func (m *mockDocumentService) List(ctx context.Context, userID string) ([]*model.Document, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []*model.Document{}, nil
}

func (m *mockDocumentService) Get(ctx context.Context, userID, id string) (*model.Document, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, id)
	}
	return nil, model.NewDocumentNotFoundError(id)
}

func (m *mockDocumentService) Create(ctx context.Context, userID string, in document.Input) (*model.Document, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockDocumentService) Update(ctx context.Context, userID, id string, in document.Input) (*model.Document, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, id, in)
	}
	return nil, model.NewDocumentNotFoundError(id)
}

func (m *mockDocumentService) Delete(ctx context.Context, userID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, id)
	}
	return nil
}

// --- ヘルパー ---

// withUserID はリクエストコンテキストにユーザーIDを注入する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// replayCookies はレスポンスで設定された有効なCookieを次のリクエストに付け直す。
// ブラウザの振る舞いと同じく、MaxAgeが負のCookieは送らない。
func replayCookies(from *httptest.ResponseRecorder, to *http.Request) {
	for _, c := range from.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			continue
		}
		to.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}
