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
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/studyhub/internal/auth"
	"github.com/hitoshi/studyhub/internal/billing"
	"github.com/hitoshi/studyhub/internal/cache"
	"github.com/hitoshi/studyhub/internal/client"
	"github.com/hitoshi/studyhub/internal/config"
	"github.com/hitoshi/studyhub/internal/database"
	"github.com/hitoshi/studyhub/internal/gotrue"
	"github.com/hitoshi/studyhub/internal/guard"
	"github.com/hitoshi/studyhub/internal/handler"
	"github.com/hitoshi/studyhub/internal/logger"
	"github.com/hitoshi/studyhub/internal/metrics"
	"github.com/hitoshi/studyhub/internal/middleware"
	"github.com/hitoshi/studyhub/internal/profile"
	"github.com/hitoshi/studyhub/internal/repository"
	"github.com/hitoshi/studyhub/internal/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再セットアップ
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAdmin:
		return runCreateAdmin(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := database.Ping(pingCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// newBackendLimiter は認証サーバーへの送信レートを制限するリミッターを返す。
func newBackendLimiter(cfg *config.Config) *rate.Limiter {
	burst := int(cfg.AuthRequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.AuthRequestsPerSecond), burst)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. キャッシュ（ガードの戻り先パス）
	store, err := cache.New(ctx, cache.Config{
		Driver:   cfg.CacheDriver,
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   "studyhub:",
	})
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer store.Close()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 4. リポジトリの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)
	enrollmentRepo := repository.NewPostgresEnrollmentRepo(db)
	courseRepo := repository.NewPostgresCourseRepo(db)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)

	// 5. ドメインサービスの初期化
	profileService := profile.NewService(profileRepo, enrollmentRepo, collector)
	billingService := billing.NewService(profileRepo, courseRepo, purchaseRepo)

	clients := client.NewRegistry(client.Config{
		HTTPClient: &http.Client{Timeout: cfg.AuthTimeout},
		Logger:     slog.Default(),
		Recorder:   collector,
		Profiles:   profileService,
		GoTrue: gotrue.Config{
			BaseURL: cfg.AuthURL,
			APIKey:  cfg.AuthAPIKey,
			Limiter: newBackendLimiter(cfg),
		},
		Auth:        auth.ServiceConfig{EmailRedirectURL: cfg.EmailRedirectURL},
		IdleTimeout: time.Duration(cfg.SessionMaxAge) * time.Second,
	})
	defer clients.Close()

	returnPaths := guard.NewReturnPathStore(store, 0)
	routeGuard := guard.New(returnPaths, collector)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig().WithLoginPerMinute(cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Clients: clients,
		ClientCookie: middleware.ClientCookieConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
			MaxAge:       cfg.SessionMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		Guard:       routeGuard,
		ReturnPaths: returnPaths,

		BillingService: billingService,

		HealthChecker: db,
		Metrics:       metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runCreateAdmin は管理者アカウントを作成する。
// 認証サーバーに登録（登録済みならログイン）し、プロフィールを管理者に設定する。
func runCreateAdmin(cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required for create-admin")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	backend := gotrue.NewClient(&http.Client{Timeout: cfg.AuthTimeout}, slog.Default(), nil, gotrue.Config{
		BaseURL: cfg.AuthURL,
		APIKey:  cfg.AuthAPIKey,
		Limiter: newBackendLimiter(cfg),
	})
	users := user.NewService(backend, repository.NewPostgresProfileRepo(db))

	p, err := users.SetupAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("admin account is ready",
		slog.String("user_id", p.ID),
		slog.String("email", cfg.AdminEmail),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	hasUser := u.User != nil
	u.User = nil
	u.RawQuery = ""
	masked := u.String()
	if hasUser {
		masked = strings.Replace(masked, "://", "://***@", 1)
	}
	return masked
}
