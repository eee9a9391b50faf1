// Package auth はOAuth認証フロー（認可コード + PKCE）とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/docpad/internal/metrics"
	"github.com/hitoshi/docpad/internal/model"
	"github.com/hitoshi/docpad/internal/repository"
	"github.com/hitoshi/docpad/internal/security"
)

// sessionIDBytes はセッションIDの乱数バイト数。IDはその16進表現（64文字）。
const sessionIDBytes = 32

// DefaultSessionTTL はセッションの既定の有効期間。
const DefaultSessionTTL = 24 * time.Hour

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// SessionTTL はセッションの有効期間。0の場合は24時間。
	SessionTTL time.Duration
	// ReuseExpiredSessions がtrueの場合、ログイン時に既存セッションを有効期限に関係なく再利用する。
	// falseの場合は有効なセッションのみ再利用し、期限切れなら新しく発行する。
	ReuseExpiredSessions bool
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
	// Metrics はnilの場合は記録しない。
	Metrics metrics.MetricsCollector
	// Sanitizer はnilの場合はsecurity.NewSanitizer()を使う。
	Sanitizer security.Sanitizer
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider    IdentityProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	sessionTTL  time.Duration
	reuseAny    bool
	now         func() time.Time
	metrics     metrics.MetricsCollector
	sanitizer   security.Sanitizer
}

// NewService はServiceを生成する。
func NewService(
	provider IdentityProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	s := &Service{
		provider:    provider,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sessionTTL:  config.SessionTTL,
		reuseAny:    config.ReuseExpiredSessions,
		now:         config.Now,
		metrics:     config.Metrics,
		sanitizer:   config.Sanitizer,
	}
	if s.sessionTTL <= 0 {
		s.sessionTTL = DefaultSessionTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.sanitizer == nil {
		s.sanitizer = security.NewSanitizer()
	}
	return s
}

// Now はサービスが使う現在時刻を返す。Cookieの有効期限計算に使う。
func (s *Service) Now() time.Time {
	return s.now()
}

// BeginLogin はログイン試行の秘密情報を生成し、IDプロバイダーの認可URLを返す。
// ネットワーク通信は行わない。プロバイダー設定が不正な場合は秘密情報を生成しない。
func (s *Service) BeginLogin() (string, *LoginAttempt, error) {
	if err := s.provider.Validate(); err != nil {
		return "", nil, newError(KindConfiguration, StateStart, err)
	}

	attempt, err := NewLoginAttempt()
	if err != nil {
		return "", nil, newError(KindConfiguration, StateStart, err)
	}

	return s.provider.AuthCodeURL(attempt.CSRFToken, attempt.Verifier), attempt, nil
}

// ValidateSession はセッションIDを検証し、ログイン中のユーザーとセッションを返す。
// ID形式の不正、セッションの不在、期限切れ、ユーザーの不在はすべてErrUnauthenticatedとなる。
func (s *Service) ValidateSession(ctx context.Context, sessionID string) (*model.User, *model.Session, error) {
	if !IsWellFormedSessionID(sessionID) {
		return nil, nil, newError(KindUnauthenticated, StateStart, errors.New("malformed session id"))
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, newError(KindPersistence, StateStart, fmt.Errorf("failed to find session: %w", err))
	}
	if session == nil {
		return nil, nil, newError(KindUnauthenticated, StateStart, errors.New("session not found"))
	}
	if !session.IsValidAt(s.now()) {
		return nil, nil, newError(KindUnauthenticated, StateStart, errors.New("session expired"))
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, newError(KindPersistence, StateStart, fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return nil, nil, newError(KindUnauthenticated, StateStart, errors.New("user not found"))
	}

	return user, session, nil
}

// Logout はセッションを破棄する。存在しないセッションの破棄は成功として扱う。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return newError(KindUnauthenticated, StateStart, errors.New("session id is required"))
	}
	// 形式が不正なIDはストアに存在しえない
	if !IsWellFormedSessionID(sessionID) {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return newError(KindPersistence, StateStart, fmt.Errorf("failed to delete session: %w", err))
	}

	slog.Info("user logged out", slog.String("session_id_prefix", sessionID[:8]))
	return nil
}

// reusable はログイン時に既存セッションを再利用できるかを判定する。
func (s *Service) reusable(session *model.Session) bool {
	return s.reuseAny || session.IsValidAt(s.now())
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// IsWellFormedSessionID はIDが64文字の小文字16進文字列かを判定する。
func IsWellFormedSessionID(id string) bool {
	if len(id) != sessionIDBytes*2 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
