// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kiji/internal/account"
	"github.com/hitoshi/kiji/internal/auth"
	"github.com/hitoshi/kiji/internal/config"
	"github.com/hitoshi/kiji/internal/database"
	"github.com/hitoshi/kiji/internal/handler"
	"github.com/hitoshi/kiji/internal/identity"
	"github.com/hitoshi/kiji/internal/logger"
	"github.com/hitoshi/kiji/internal/metrics"
	"github.com/hitoshi/kiji/internal/middleware"
	"github.com/hitoshi/kiji/internal/post"
	"github.com/hitoshi/kiji/internal/repository"
	"github.com/hitoshi/kiji/internal/security"
	"github.com/hitoshi/kiji/internal/token"
	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（存在しない場合は無視）
	_ = godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// スコープ付き・特権の2本のDB接続を開き、全依存関係をワイヤリングし、
// HTTPサーバーを起動する。SIGINTまたはSIGTERMシグナルを受信すると
// グレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続（2系統）
	// 特権ハンドル: BYPASSRLSロール。登録時のアカウント作成にのみ使用する
	adminDB, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open privileged database handle: %w", err)
	}
	defer adminDB.Close()

	// スコープ付きハンドル: RLSの適用を受けるアプリケーションロール
	appDB, err := database.Open(cfg.DatabaseAppURL)
	if err != nil {
		return fmt.Errorf("failed to open scoped database handle: %w", err)
	}
	defer appDB.Close()

	if err := adminDB.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database (privileged): %w", err)
	}
	if err := appDB.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database (scoped): %w", err)
	}

	slog.Info("database connections established")

	// 2. リポジトリの初期化
	// 通常の全操作はスコープ付きハンドルのリポジトリを使用する
	accountRepo := repository.NewPostgresAccountRepo(appDB)
	postRepo := repository.NewPostgresPostRepo(appDB)
	// 特権リポジトリは登録フローのアカウント作成専用
	privilegedAccountRepo := repository.NewPostgresAccountRepo(adminDB)

	// 3. トークンコーデックとIDプロバイダークライアントの初期化
	codec, err := token.NewCodec(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}

	idpClient := identity.NewClient(identity.ClientConfig{
		BaseURL: cfg.AuthAPIURL,
		APIKey:  cfg.AuthAPIKey,
	})

	// 4. ドメインサービスの初期化
	sanitizer := security.NewContentSanitizer()
	authService := auth.NewService(idpClient, accountRepo, privilegedAccountRepo, codec)
	postService := post.NewService(postRepo, sanitizer)
	accountService := account.NewService(accountRepo)

	// 5. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 6. レート制限の初期化（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AuthRate = rate.Limit(float64(cfg.RateLimitRegister) / 60.0)
	rateLimiterCfg.AuthBurst = cfg.RateLimitRegister
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		TokenVerifier:       codec,
		AccountFinder:       accountRepo,
		AuthFailureRecorder: collector,
		HTTPMetricsRecorder: collector,
		CORSAllowedOrigin:   cfg.CORSAllowedOrigin,
		RateLimiter:         rateLimiter,
		Logger:              slog.Default(),

		AuthService:    authService,
		PostService:    postService,
		AccountService: accountService,

		EventRecorder:  collector,
		MetricsHandler: metrics.Handler(registry),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// ロールの作成とRLSポリシーの適用を含むため、特権接続URLを使用する。
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
// ヘルスチェックエンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
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
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
