package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hitoshi/docpad/internal/auth"
	"github.com/hitoshi/docpad/internal/config"
	"github.com/hitoshi/docpad/internal/database"
	"github.com/hitoshi/docpad/internal/document"
	"github.com/hitoshi/docpad/internal/ephemeral"
	"github.com/hitoshi/docpad/internal/handler"
	"github.com/hitoshi/docpad/internal/logger"
	"github.com/hitoshi/docpad/internal/metrics"
	"github.com/hitoshi/docpad/internal/middleware"
	"github.com/hitoshi/docpad/internal/repository"
	"github.com/hitoshi/docpad/internal/security"
	"github.com/hitoshi/docpad/internal/user"
	"github.com/hitoshi/docpad/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// tracingFlushTimeout は停止時に未送信スパンを送り切るまでの待ち時間。
const tracingFlushTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はコマンドライン引数を解釈してアプリケーションを実行する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	rootCmd := NewRootCommand(w)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// runCommand は設定を読み込んでから指定モードで起動する。
func runCommand(cmd *cobra.Command, w io.Writer, command Command) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(command)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch command {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cmd.Context(), cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと掃除ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	// 2. トレース（OTEL_ENDPOINT設定時のみ）
	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), tracingFlushTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// 3. 依存関係のワイヤリング
	srv, err := newServer(cfg, db, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	// 4. 期限切れセッションの掃除ジョブ（起動直後に1回、以後SWEEP_INTERVALごと）
	srv.sweeper.Start(ctx)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// server はHTTPハンドラーと、それと寿命を共にするバックグラウンド処理をまとめたもの。
type server struct {
	handler     http.Handler
	sweeper     *cleanup.SessionSweeper
	rateLimiter *middleware.RateLimiter
	registry    *prometheus.Registry
}

// close はバックグラウンド処理を停止する。
func (s *server) close() {
	s.sweeper.Stop()
	s.rateLimiter.Stop()
}

// newServer はリポジトリ・サービス・ハンドラーを組み立てる。
// DBへの接続は行わないため、dbは未接続のプールでもよい。
func newServer(cfg *config.Config, db *sql.DB, log *slog.Logger) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	documentRepo := repository.NewPostgresDocumentRepo(db)

	// 3. セキュリティ関連
	sanitizer := security.NewSanitizer()
	providerClient := security.NewProviderClient(cfg.OAuthHTTPTimeout, cfg.OAuthSafeClient)

	// 4. ドメインサービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:        cfg.GoogleClientID,
		ClientSecret:    cfg.GoogleClientSecret,
		RedirectURL:     cfg.GoogleRedirectURL,
		HTTPClient:      providerClient,
		StrictEndpoints: cfg.OAuthSafeClient,
	})
	if err := oauthProvider.Validate(); err != nil {
		// 起動は継続し、/login が500を返す
		log.Warn("oauth provider is misconfigured", slog.String("error", err.Error()))
	}

	authService := auth.NewService(oauthProvider, userRepo, sessionRepo, auth.ServiceConfig{
		SessionTTL:           cfg.SessionTTL,
		ReuseExpiredSessions: cfg.SessionReuseExpired,
		Metrics:              collector,
		Sanitizer:            sanitizer,
	})
	userService := user.NewService(userRepo, sessionRepo, documentRepo)
	documentService := document.NewService(documentRepo)

	store, err := newEphemeralStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create login state store: %w", err)
	}

	// 5. バックグラウンド処理
	sweeper := cleanup.NewSessionSweeper(sessionRepo, log, collector)
	sweeper.Interval = cfg.SweepInterval

	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitAuth, cfg.RateLimitGeneral),
	)

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           collector,
		SessionValidator:  authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService:    authService,
		EphemeralStore: store,
		AuthConfig: handler.AuthHandlerConfig{
			LandingURL:    cfg.LandingPath,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			LoginStateTTL: cfg.LoginStateTTL,
		},

		UserService:     userService,
		DocumentService: documentService,
	})

	return &server{
		handler:     router,
		sweeper:     sweeper,
		rateLimiter: rateLimiter,
		registry:    registry,
	}, nil
}

// newEphemeralStore はEPHEMERAL_STOREに応じてログイン試行中の値のストアを生成する。
func newEphemeralStore(cfg *config.Config) (ephemeral.Store, error) {
	options := ephemeral.CookieOptions{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	}

	if cfg.EphemeralStore == config.EphemeralStoreMemory {
		return ephemeral.NewMemoryStore(options), nil
	}

	store, err := ephemeral.NewCookieStore(cfg.SessionSecret, options)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(ctx context.Context, port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
