package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/docpad/internal/model"
	"github.com/hitoshi/docpad/internal/repository"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(provider IdentityProvider, users *mockUserRepo, sessions *mockSessionRepo, clock *fakeClock, reuseExpired bool) *Service {
	return NewService(provider, users, sessions, ServiceConfig{
		SessionTTL:           24 * time.Hour,
		ReuseExpiredSessions: reuseExpired,
		Now:                  clock.Now,
	})
}

func validInput() CallbackInput {
	return CallbackInput{
		Code:      "auth-code",
		State:     "abc123",
		CSRFToken: "abc123",
		Verifier:  "verifier-value",
	}
}

func TestCompleteLogin_FirstLoginCreatesUserAndSession(t *testing.T) {
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	clock := &fakeClock{now: testEpoch}
	provider := &mockProvider{
		exchangeFn: func(_ context.Context, code, verifier string) (*oauth2.Token, error) {
			if code != "auth-code" || verifier != "verifier-value" {
				t.Errorf("Exchange(%q, %q): unexpected arguments", code, verifier)
			}
			return &oauth2.Token{AccessToken: "token"}, nil
		},
		fetchUserInfoFn: func(_ context.Context, _ *oauth2.Token) (*UserInfo, error) {
			return &UserInfo{Subject: "s", Name: "<b>Alice</b>", Email: "alice@example.com", EmailVerified: true}, nil
		},
	}
	svc := newTestService(provider, users, sessions, clock, false)

	result, err := svc.CompleteLogin(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}

	if !result.UserCreated {
		t.Error("初回ログインではユーザーが作成されるべき")
	}
	if result.Reused {
		t.Error("初回ログインでセッションが再利用されている")
	}
	if result.User.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want %q（タグは除去される）", result.User.DisplayName, "Alice")
	}
	if len(users.users) != 1 || sessions.count() != 1 {
		t.Errorf("users=%d sessions=%d, want 1 and 1", len(users.users), sessions.count())
	}
	if got := result.Session.ExpiresAt.Sub(result.Session.CreatedAt); got != 24*time.Hour {
		t.Errorf("session lifetime = %v, want 24h", got)
	}
	if !IsWellFormedSessionID(result.Session.ID) {
		t.Errorf("session id %q is not 64 hex chars", result.Session.ID)
	}
}

func TestCompleteLogin_SecondLoginReusesSession(t *testing.T) {
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	clock := &fakeClock{now: testEpoch}
	svc := newTestService(&mockProvider{}, users, sessions, clock, false)

	first, err := svc.CompleteLogin(context.Background(), validInput())
	if err != nil {
		t.Fatalf("1回目の CompleteLogin() error = %v", err)
	}

	clock.Advance(time.Hour)
	second, err := svc.CompleteLogin(context.Background(), validInput())
	if err != nil {
		t.Fatalf("2回目の CompleteLogin() error = %v", err)
	}

	if second.UserCreated {
		t.Error("2回目のログインでユーザーが作成されている")
	}
	if !second.Reused || second.Session.ID != first.Session.ID {
		t.Errorf("2回目のログインは同じセッションを再利用すべき: first=%s second=%s", first.Session.ID, second.Session.ID)
	}
	if len(users.users) != 1 || sessions.count() != 1 {
		t.Errorf("users=%d sessions=%d, want 1 and 1", len(users.users), sessions.count())
	}
}

func TestCompleteLogin_ExpiredSessionPolicy(t *testing.T) {
	tests := []struct {
		name         string
		reuseExpired bool
		wantReused   bool
	}{
		{"有効なセッションのみ再利用", false, false},
		{"期限切れも再利用", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMockUserRepo()
			sessions := newMockSessionRepo()
			clock := &fakeClock{now: testEpoch}
			svc := newTestService(&mockProvider{}, users, sessions, clock, tt.reuseExpired)

			first, err := svc.CompleteLogin(context.Background(), validInput())
			if err != nil {
				t.Fatalf("CompleteLogin() error = %v", err)
			}

			clock.Advance(25 * time.Hour)
			second, err := svc.CompleteLogin(context.Background(), validInput())
			if err != nil {
				t.Fatalf("CompleteLogin() error = %v", err)
			}

			if second.Reused != tt.wantReused {
				t.Errorf("Reused = %v, want %v", second.Reused, tt.wantReused)
			}
			if (second.Session.ID == first.Session.ID) != tt.wantReused {
				t.Errorf("session id reuse = %v, want %v", second.Session.ID == first.Session.ID, tt.wantReused)
			}
			if !tt.wantReused && !second.Session.IsValidAt(clock.Now()) {
				t.Error("新しく発行したセッションが有効でない")
			}
		})
	}
}

func TestCompleteLogin_CSRFFailures(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(in *CallbackInput)
		wantKind ErrorKind
	}{
		{
			name:     "stateの不一致",
			modify:   func(in *CallbackInput) { in.State = "abc124" },
			wantKind: KindCSRFMismatch,
		},
		{
			name:     "stateが空",
			modify:   func(in *CallbackInput) { in.State = "" },
			wantKind: KindCSRFMismatch,
		},
		{
			name:     "CSRFトークンの欠落",
			modify:   func(in *CallbackInput) { in.CSRFToken = "" },
			wantKind: KindMissingEphemeralState,
		},
		{
			name:     "verifierの欠落",
			modify:   func(in *CallbackInput) { in.Verifier = "" },
			wantKind: KindMissingEphemeralState,
		},
		{
			name:     "両方の欠落",
			modify:   func(in *CallbackInput) { in.CSRFToken, in.Verifier = "", "" },
			wantKind: KindMissingEphemeralState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMockUserRepo()
			sessions := newMockSessionRepo()
			provider := &mockProvider{}
			svc := newTestService(provider, users, sessions, &fakeClock{now: testEpoch}, false)

			in := validInput()
			tt.modify(&in)
			_, err := svc.CompleteLogin(context.Background(), in)

			if KindOf(err) != tt.wantKind {
				t.Fatalf("kind = %v, want %v (err=%v)", KindOf(err), tt.wantKind, err)
			}
			var authErr *Error
			if errors.As(err, &authErr) && authErr.State != StateStart {
				t.Errorf("State = %v, want %v", authErr.State, StateStart)
			}
			if provider.exchangeCalls != 0 {
				t.Errorf("CSRF検証失敗時にプロバイダーが呼ばれた: %d回", provider.exchangeCalls)
			}
			if sessions.count() != 0 || len(users.users) != 0 {
				t.Error("CSRF検証失敗時にユーザーまたはセッションが作成された")
			}
		})
	}
}

func TestCompleteLogin_ProviderFailures(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		provider  *mockProvider
		wantKind  ErrorKind
		wantState CallbackState
	}{
		{
			name:      "認可コードなし",
			code:      "",
			provider:  &mockProvider{},
			wantKind:  KindAuthorizationDenied,
			wantState: StateCSRFChecked,
		},
		{
			name: "トークン交換の失敗",
			code: "auth-code",
			provider: &mockProvider{
				exchangeFn: func(context.Context, string, string) (*oauth2.Token, error) {
					return nil, errors.New("invalid_grant")
				},
			},
			wantKind:  KindProviderExchange,
			wantState: StateCSRFChecked,
		},
		{
			name: "ユーザー情報取得の失敗",
			code: "auth-code",
			provider: &mockProvider{
				fetchUserInfoFn: func(context.Context, *oauth2.Token) (*UserInfo, error) {
					return nil, context.DeadlineExceeded
				},
			},
			wantKind:  KindProviderExchange,
			wantState: StateCodeExchanged,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := newMockSessionRepo()
			svc := newTestService(tt.provider, newMockUserRepo(), sessions, &fakeClock{now: testEpoch}, false)

			in := validInput()
			in.Code = tt.code
			_, err := svc.CompleteLogin(context.Background(), in)

			var authErr *Error
			if !errors.As(err, &authErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if authErr.Kind != tt.wantKind || authErr.State != tt.wantState {
				t.Errorf("got (%v, %v), want (%v, %v)", authErr.Kind, authErr.State, tt.wantKind, tt.wantState)
			}
			if sessions.count() != 0 {
				t.Error("プロバイダー失敗時にセッションが作成された")
			}
		})
	}
}

func TestCompleteLogin_DuplicateEmailFallsBackToLookup(t *testing.T) {
	existing := &model.User{ID: "user-1", Email: "alice@example.com", DisplayName: "Alice"}
	lookups := 0
	users := newMockUserRepo()
	users.findByEmailFn = func(context.Context, string) (*model.User, error) {
		lookups++
		if lookups == 1 {
			return nil, nil
		}
		return existing, nil
	}
	users.createFn = func(context.Context, *model.User) error {
		return repository.ErrDuplicateEmail
	}
	sessions := newMockSessionRepo()
	svc := newTestService(&mockProvider{}, users, sessions, &fakeClock{now: testEpoch}, false)

	result, err := svc.CompleteLogin(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if result.User.ID != "user-1" || result.UserCreated {
		t.Errorf("既存ユーザーにフォールバックすべき: got %+v", result)
	}
	if lookups != 2 {
		t.Errorf("FindByEmail calls = %d, want 2", lookups)
	}
	if sessions.count() != 1 {
		t.Errorf("sessions = %d, want 1", sessions.count())
	}
}

func TestCompleteLogin_PersistenceFailures(t *testing.T) {
	dbErr := errors.New("connection reset")

	tests := []struct {
		name      string
		setup     func(u *mockUserRepo, s *mockSessionRepo)
		wantState CallbackState
	}{
		{
			name: "ユーザー検索の失敗",
			setup: func(u *mockUserRepo, _ *mockSessionRepo) {
				u.findByEmailFn = func(context.Context, string) (*model.User, error) { return nil, dbErr }
			},
			wantState: StateProfileFetched,
		},
		{
			name: "ユーザー作成の失敗",
			setup: func(u *mockUserRepo, _ *mockSessionRepo) {
				u.createFn = func(context.Context, *model.User) error { return dbErr }
			},
			wantState: StateProfileFetched,
		},
		{
			name: "セッション検索の失敗",
			setup: func(_ *mockUserRepo, s *mockSessionRepo) {
				s.findByUserIDFn = func(context.Context, string) (*model.Session, error) { return nil, dbErr }
			},
			wantState: StateUserResolved,
		},
		{
			name: "セッション作成の失敗",
			setup: func(_ *mockUserRepo, s *mockSessionRepo) {
				s.createFn = func(context.Context, *model.Session) error { return dbErr }
			},
			wantState: StateUserResolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newMockUserRepo()
			sessions := newMockSessionRepo()
			tt.setup(users, sessions)
			svc := newTestService(&mockProvider{}, users, sessions, &fakeClock{now: testEpoch}, false)

			_, err := svc.CompleteLogin(context.Background(), validInput())

			if !errors.Is(err, ErrPersistence) {
				t.Fatalf("expected ErrPersistence, got %v", err)
			}
			if !errors.Is(err, dbErr) {
				t.Errorf("原因のエラーがラップされていない: %v", err)
			}
			var authErr *Error
			errors.As(err, &authErr)
			if authErr.State != tt.wantState {
				t.Errorf("State = %v, want %v", authErr.State, tt.wantState)
			}
		})
	}
}

func TestCompleteLogin_EmptyEmailIsProfileData(t *testing.T) {
	provider := &mockProvider{
		fetchUserInfoFn: func(context.Context, *oauth2.Token) (*UserInfo, error) {
			return &UserInfo{Subject: "s", Name: "No Mail"}, nil
		},
	}
	users := newMockUserRepo()
	svc := newTestService(provider, users, newMockSessionRepo(), &fakeClock{now: testEpoch}, false)

	result, err := svc.CompleteLogin(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CompleteLogin() error = %v", err)
	}
	if result.User.Email != "" || !result.UserCreated {
		t.Errorf("emailなしでもユーザーは作成されるべき: %+v", result.User)
	}
}

// ユーザーはメールアドレスで同定するため、メールなしのプロフィールは
// subjectが異なっても同じユーザーに解決される（DESIGN.mdに記載の既知の制約）。
func TestCompleteLogin_EmptyEmailSubjectsShareUser(t *testing.T) {
	subjects := []string{"subject-a", "subject-b"}
	calls := 0
	provider := &mockProvider{
		fetchUserInfoFn: func(context.Context, *oauth2.Token) (*UserInfo, error) {
			subject := subjects[calls]
			calls++
			return &UserInfo{Subject: subject, Name: "No Mail " + subject}, nil
		},
	}
	users := newMockUserRepo()
	sessions := newMockSessionRepo()
	svc := newTestService(provider, users, sessions, &fakeClock{now: testEpoch}, false)

	first, err := svc.CompleteLogin(context.Background(), validInput())
	if err != nil {
		t.Fatalf("1回目のCompleteLogin() error = %v", err)
	}
	second, err := svc.CompleteLogin(context.Background(), validInput())
	if err != nil {
		t.Fatalf("2回目のCompleteLogin() error = %v", err)
	}

	if !first.UserCreated || second.UserCreated {
		t.Errorf("UserCreated = (%v, %v), want (true, false)", first.UserCreated, second.UserCreated)
	}
	if second.User.ID != first.User.ID {
		t.Errorf("2人目のuser ID = %q, want %q（メール空は同一ユーザー扱い）", second.User.ID, first.User.ID)
	}
	if !second.Reused || second.Session.ID != first.Session.ID {
		t.Errorf("2人目は1人目の有効なセッションを再利用するはず: reused=%v session=%q want %q",
			second.Reused, second.Session.ID, first.Session.ID)
	}
	if users.createCalls != 1 {
		t.Errorf("user Create calls = %d, want 1", users.createCalls)
	}
}

func TestCallbackState_String(t *testing.T) {
	tests := map[CallbackState]string{
		StateStart:           "start",
		StateSessionResolved: "session_resolved",
		StateError:           "error",
		CallbackState(99):    "CallbackState(99)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
