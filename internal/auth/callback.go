package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/hitoshi/docpad/internal/metrics"
	"github.com/hitoshi/docpad/internal/model"
	"github.com/hitoshi/docpad/internal/repository"
)

// CallbackState はOAuthコールバック処理の状態。
//
//	Start → CSRFChecked → CodeExchanged → ProfileFetched → UserResolved → SessionResolved → Done
//
// どの状態からもErrorに遷移しうる。
type CallbackState int

const (
	StateStart CallbackState = iota
	StateCSRFChecked
	StateCodeExchanged
	StateProfileFetched
	StateUserResolved
	StateSessionResolved
	StateDone
	StateError
)

var stateNames = [...]string{
	StateStart:           "start",
	StateCSRFChecked:     "csrf_checked",
	StateCodeExchanged:   "code_exchanged",
	StateProfileFetched:  "profile_fetched",
	StateUserResolved:    "user_resolved",
	StateSessionResolved: "session_resolved",
	StateDone:            "done",
	StateError:           "error",
}

func (s CallbackState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("CallbackState(%d)", int(s))
}

// CallbackInput はコールバックリクエストから取り出した値。
// CSRFTokenとVerifierはephemeral.Storeから取り出した（同時に削除した）値で、
// 取り出せなかった場合は空文字列。
type CallbackInput struct {
	Code      string
	State     string
	CSRFToken string
	Verifier  string
}

// LoginResult はログイン完了時の結果。
type LoginResult struct {
	User        *model.User
	Session     *model.Session
	UserCreated bool
	Reused      bool
}

// loginFlow は1回のコールバック処理の状態を保持する。
type loginFlow struct {
	svc     *Service
	in      CallbackInput
	state   CallbackState
	token   *oauth2.Token
	profile *UserInfo
	result  LoginResult
}

// CompleteLogin はコールバックを処理し、ログインを完了させる。
// 失敗時は*Errorを返し、Stateに失敗した時点の状態を設定する。
func (s *Service) CompleteLogin(ctx context.Context, in CallbackInput) (*LoginResult, error) {
	f := &loginFlow{svc: s, in: in, state: StateStart}

	steps := []struct {
		next CallbackState
		run  func(context.Context) error
	}{
		{StateCSRFChecked, f.checkCSRF},
		{StateCodeExchanged, f.exchangeCode},
		{StateProfileFetched, f.fetchProfile},
		{StateUserResolved, f.resolveUser},
		{StateSessionResolved, f.resolveSession},
	}

	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			var authErr *Error
			if !errors.As(err, &authErr) {
				authErr = newError(KindPersistence, f.state, err)
			}
			authErr.State = f.state
			f.state = StateError
			s.metrics.RecordLogin(authErr.Kind.String())
			return nil, authErr
		}
		f.state = step.next
	}
	f.state = StateDone

	outcome := metrics.LoginOutcomeExistingUser
	if f.result.UserCreated {
		outcome = metrics.LoginOutcomeNewUser
	}
	s.metrics.RecordLogin(outcome)
	s.metrics.RecordSessionIssued(f.result.Reused)

	slog.Info("user logged in",
		slog.String("user_id", f.result.User.ID),
		slog.Bool("user_created", f.result.UserCreated),
		slog.Bool("session_reused", f.result.Reused),
	)

	return &f.result, nil
}

// checkCSRF はephemeralな値がそろっていること、stateが保存済みトークンと一致することを検証する。
func (f *loginFlow) checkCSRF(_ context.Context) error {
	if f.in.CSRFToken == "" || f.in.Verifier == "" {
		return newError(KindMissingEphemeralState, f.state, errors.New("csrf token or pkce verifier is missing"))
	}
	if !csrfTokenMatches(f.in.CSRFToken, f.in.State) {
		return newError(KindCSRFMismatch, f.state, errors.New("state parameter does not match csrf token"))
	}
	return nil
}

func (f *loginFlow) exchangeCode(ctx context.Context) error {
	if f.in.Code == "" {
		return newError(KindAuthorizationDenied, f.state, errors.New("authorization code is missing"))
	}

	start := time.Now()
	token, err := f.svc.provider.Exchange(ctx, f.in.Code, f.in.Verifier)
	f.svc.metrics.RecordProviderLatency("exchange", time.Since(start))
	if err != nil {
		return newError(KindProviderExchange, f.state, err)
	}
	f.token = token
	return nil
}

func (f *loginFlow) fetchProfile(ctx context.Context) error {
	start := time.Now()
	profile, err := f.svc.provider.FetchUserInfo(ctx, f.token)
	f.svc.metrics.RecordProviderLatency("userinfo", time.Since(start))
	if err != nil {
		return newError(KindProviderExchange, f.state, err)
	}
	if !profile.EmailVerified {
		slog.Warn("identity provider returned unverified email",
			slog.String("subject", profile.Subject),
		)
	}
	f.profile = profile
	return nil
}

// resolveUser はemailでユーザーを検索し、いなければ作成する。
// 同時ログインで作成が一意制約に違反した場合は、もう一度検索する。
func (f *loginFlow) resolveUser(ctx context.Context) error {
	users := f.svc.userRepo

	user, err := users.FindByEmail(ctx, f.profile.Email)
	if err != nil {
		return newError(KindPersistence, f.state, fmt.Errorf("failed to find user: %w", err))
	}
	if user != nil {
		f.result.User = user
		return nil
	}

	now := f.svc.now()
	user = &model.User{
		ID:          uuid.New().String(),
		DisplayName: f.svc.sanitizer.DisplayName(f.profile.Name),
		Email:       f.profile.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = users.Create(ctx, user)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		existing, findErr := users.FindByEmail(ctx, f.profile.Email)
		if findErr != nil {
			return newError(KindPersistence, f.state, fmt.Errorf("failed to find user after duplicate: %w", findErr))
		}
		if existing == nil {
			return newError(KindPersistence, f.state, errors.New("user vanished after duplicate email"))
		}
		f.result.User = existing
		return nil
	}
	if err != nil {
		return newError(KindPersistence, f.state, fmt.Errorf("failed to create user: %w", err))
	}

	f.result.User = user
	f.result.UserCreated = true
	return nil
}

// resolveSession はユーザーの既存セッションを再利用するか、新しく発行する。
func (f *loginFlow) resolveSession(ctx context.Context) error {
	userID := f.result.User.ID

	existing, err := f.svc.sessionRepo.FindByUserID(ctx, userID)
	if err != nil {
		return newError(KindPersistence, f.state, fmt.Errorf("failed to find session: %w", err))
	}
	if existing != nil && f.svc.reusable(existing) {
		f.result.Session = existing
		f.result.Reused = true
		return nil
	}

	session, err := f.svc.createSession(ctx, userID)
	if err != nil {
		return newError(KindPersistence, f.state, err)
	}
	f.result.Session = session
	return nil
}
