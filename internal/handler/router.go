package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/docpad/internal/ephemeral"
	"github.com/hitoshi/docpad/internal/metrics"
	"github.com/hitoshi/docpad/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	SessionValidator  middleware.SessionValidator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService    AuthServiceInterface
	EphemeralStore ephemeral.Store
	AuthConfig     AuthHandlerConfig

	// ユーザー・ドキュメント
	UserService     UserServiceInterface
	DocumentService DocumentServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS
//	  認証ルート:   → RateLimit(Auth)
//	  保護ルート:   → Session → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.EphemeralStore, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig.CookieDomain, deps.AuthConfig.CookieSecure)
	docHandler := NewDocumentHandler(deps.DocumentService)

	// --- 認証不要のルート ---

	r.Get("/health", Health(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// OAuthフロー（クライアントIP単位のレート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Get("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionValidator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/users/me", func(r chi.Router) {
			r.Get("/", userHandler.Me)
			r.Delete("/", userHandler.Withdraw)
		})
		r.Get("/auth/me", userHandler.Me)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", docHandler.List)
			r.Post("/", docHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", docHandler.Get)
				r.Put("/", docHandler.Update)
				r.Delete("/", docHandler.Delete)
			})
		})
	})

	return r
}
