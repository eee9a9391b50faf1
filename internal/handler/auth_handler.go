package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/docpad/internal/auth"
	"github.com/hitoshi/docpad/internal/ephemeral"
	"github.com/hitoshi/docpad/internal/middleware"
	"github.com/hitoshi/docpad/internal/model"
)

// ログイン試行中の短命な値を保存するキー。CookieStoreではそのままCookie名になる。
const (
	csrfStateKey    = "auth_csrf_state"
	codeVerifierKey = "auth_code_verifier"
)

// DefaultLoginStateTTL はCSRFトークンとPKCE verifierの既定の保持期間。
const DefaultLoginStateTTL = 5 * time.Minute

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin() (string, *auth.LoginAttempt, error)
	CompleteLogin(ctx context.Context, in auth.CallbackInput) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	Now() time.Time
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// LandingURL はログイン・ログアウト後のリダイレクト先。
	LandingURL    string
	CookieDomain  string
	CookieSecure  bool
	LoginStateTTL time.Duration
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	store   ephemeral.Store
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, store ephemeral.Store, config AuthHandlerConfig) *AuthHandler {
	if config.LoginStateTTL <= 0 {
		config.LoginStateTTL = DefaultLoginStateTTL
	}
	if config.LandingURL == "" {
		config.LandingURL = "/"
	}
	return &AuthHandler{
		service: service,
		store:   store,
		config:  config,
	}
}

// Login はGoogle OAuthフローを開始する。
// CSRFトークンとPKCE verifierを短命ストアに保存し、認可URLへリダイレクトする。
// GET /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, attempt, err := h.service.BeginLogin()
	if err != nil {
		slog.Error("failed to begin login", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, model.NewInternalError())
		return
	}

	if err := h.store.Put(w, r, csrfStateKey, attempt.CSRFToken, h.config.LoginStateTTL); err != nil {
		slog.Error("failed to store csrf state", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, model.NewInternalError())
		return
	}
	if err := h.store.Put(w, r, codeVerifierKey, attempt.Verifier, h.config.LoginStateTTL); err != nil {
		slog.Error("failed to store pkce verifier", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, model.NewInternalError())
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// 短命ストアの値は結果に関わらず最初に取り出して削除する。
// GET /callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	csrfToken, _ := h.store.Take(w, r, csrfStateKey)
	verifier, _ := h.store.Take(w, r, codeVerifierKey)

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		slog.Warn("identity provider returned an error", slog.String("provider_error", providerErr))
	}

	result, err := h.service.CompleteLogin(r.Context(), auth.CallbackInput{
		Code:      query.Get("code"),
		State:     query.Get("state"),
		CSRFToken: csrfToken,
		Verifier:  verifier,
	})
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	session := result.Session
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   sessionCookieMaxAge(session, h.service.Now()),
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.LandingURL, http.StatusFound)
}

// Logout はセッションを破棄する。
// 存在しないセッションやストアの障害でもCookieはクリアしてリダイレクトする。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.LandingURL, http.StatusFound)
}

// writeLoginError は認証エラーの種別をHTTPステータスに変換して書き込む。
// 原因はログにのみ記録する。
func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	kind := auth.KindOf(err)
	attrs := []any{
		slog.String("error_kind", kind.String()),
		slog.String("error", err.Error()),
	}

	switch kind {
	case auth.KindCSRFMismatch:
		slog.Warn("login rejected", attrs...)
		middleware.WriteAPIError(w, model.NewLoginFailedError("stateが一致しません"))
	case auth.KindMissingEphemeralState:
		slog.Warn("login rejected", attrs...)
		middleware.WriteAPIError(w, model.NewLoginFailedError("ログイン状態が見つからないか期限切れです"))
	case auth.KindAuthorizationDenied:
		slog.Warn("login rejected", attrs...)
		middleware.WriteAPIError(w, model.NewLoginFailedError("認可コードがありません"))
	default:
		slog.Error("login failed", attrs...)
		middleware.WriteAPIError(w, model.NewInternalError())
	}
}

// sessionCookieMaxAge はセッションの残り有効期間を秒で返す。最低1秒。
func sessionCookieMaxAge(session *model.Session, now time.Time) int {
	seconds := int(session.RemainingAt(now) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}
