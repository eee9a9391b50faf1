package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/hitoshi/docpad/internal/security"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	defaultProviderTimeout = 10 * time.Second

	// maxUserInfoBytes はユーザー情報レスポンスの読み込み上限。
	maxUserInfoBytes = 1 << 20
)

const tracerName = "github.com/hitoshi/docpad/internal/auth"

// UserInfo はIDプロバイダーから取得したプロフィール。
// Emailが空、またはEmailVerifiedがfalseでもそのまま扱う。
type UserInfo struct {
	Subject       string
	Name          string
	Email         string
	EmailVerified bool
}

// IdentityProvider はOAuth2 IDプロバイダーのインターフェース。
type IdentityProvider interface {
	// Validate はプロバイダー設定を検証する。不正な場合はエラーを返す。
	Validate() error
	// AuthCodeURL は認可エンドポイントのURLを生成する。ネットワーク通信は行わない。
	AuthCodeURL(state, verifier string) string
	// Exchange は認可コードとPKCE verifierをトークンに交換する。
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	// FetchUserInfo はアクセストークンでプロフィールを取得する。
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error)
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// HTTPClient はプロバイダー呼び出しに使うクライアント。nilの場合は10秒タイムアウトのクライアントを使う。
	HTTPClient *http.Client
	// StrictEndpoints がtrueの場合、エンドポイントURLを公開httpsアドレスに限定する。
	StrictEndpoints bool
	// TracerProvider はプロバイダー呼び出しのスパンを記録する先。nilの場合はグローバルのものを使う。
	TracerProvider trace.TracerProvider

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthProvider はGoogle OAuth 2.0（認可コード + PKCE）による認証を提供する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	strict      bool
	tracer      trace.Tracer
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// 設定の検証はValidateで行い、生成自体は失敗しない。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultProviderTimeout}
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: config.UserInfoURL,
		httpClient:  client,
		strict:      config.StrictEndpoints,
		tracer:      tp.Tracer(tracerName),
	}
}

// Validate はクライアントID・シークレット・リダイレクトURLを検証する。
func (p *GoogleOAuthProvider) Validate() error {
	if p.oauth.ClientID == "" {
		return errors.New("google client id is not configured")
	}
	if p.oauth.ClientSecret == "" {
		return errors.New("google client secret is not configured")
	}

	redirect, err := url.Parse(p.oauth.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect url: %w", err)
	}
	if (redirect.Scheme != "http" && redirect.Scheme != "https") || redirect.Host == "" {
		return fmt.Errorf("redirect url must be an absolute http(s) url: %q", p.oauth.RedirectURL)
	}

	if p.strict {
		for _, endpoint := range []string{p.oauth.Endpoint.TokenURL, p.userInfoURL} {
			if err := security.ValidateEndpointURL(endpoint); err != nil {
				return fmt.Errorf("invalid provider endpoint: %w", err)
			}
		}
	}
	return nil
}

// AuthCodeURL は認可URLを生成する。stateにCSRFトークン、
// code_challenge（S256）にverifierから導出した値を含める。
func (p *GoogleOAuthProvider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange は認可コードをトークンに交換する。タイムアウトはHTTPクライアントで制限される。
func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	ctx, span := p.tracer.Start(ctx, "google.exchange",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oauth.token_url", p.oauth.Endpoint.TokenURL)),
	)
	defer span.End()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token exchange failed")
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	if token.AccessToken == "" {
		span.SetStatus(codes.Error, "empty access token")
		return nil, errors.New("empty access token in response")
	}

	return token, nil
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// FetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	ctx, span := p.tracer.Start(ctx, "google.userinfo",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	info, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "userinfo fetch failed")
		return nil, err
	}
	span.SetAttributes(attribute.Bool("oauth.email_verified", info.EmailVerified))
	return info, nil
}

func (p *GoogleOAuthProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d", resp.StatusCode)
	}

	var userInfo googleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.Sub == "" {
		return nil, errors.New("empty sub in user info response")
	}

	return &UserInfo{
		Subject:       userInfo.Sub,
		Name:          userInfo.Name,
		Email:         userInfo.Email,
		EmailVerified: userInfo.EmailVerified,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*GoogleOAuthProvider)(nil)
