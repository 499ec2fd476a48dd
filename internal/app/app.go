package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/trophyman/internal/cache"
	"github.com/hitoshi/trophyman/internal/config"
	"github.com/hitoshi/trophyman/internal/database"
	"github.com/hitoshi/trophyman/internal/handler"
	"github.com/hitoshi/trophyman/internal/identity"
	"github.com/hitoshi/trophyman/internal/logger"
	"github.com/hitoshi/trophyman/internal/metrics"
	"github.com/hitoshi/trophyman/internal/middleware"
	"github.com/hitoshi/trophyman/internal/model"
	"github.com/hitoshi/trophyman/internal/notify"
	"github.com/hitoshi/trophyman/internal/psn"
	"github.com/hitoshi/trophyman/internal/repository"
	"github.com/hitoshi/trophyman/internal/security"
	"github.com/hitoshi/trophyman/internal/worker/check"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
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
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// checkStack はチェック処理に必要な依存一式を保持する。
// serveモード（オンデマンドチェック）とworkerモード（定期チェック）で共有される。
type checkStack struct {
	identityRepo repository.IdentityRepository
	trophyRepo   repository.TrophyRepository
	scheduler    *check.Scheduler
	collector    *metrics.Collector
	trophyCache  *cache.Store[[]model.FetchedTrophy]
}

// buildCheckStack はリポジトリからスケジューラまでのチェック依存をワイヤリングする。
func buildCheckStack(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*checkStack, error) {
	identityRepo := repository.NewPostgresIdentityRepo(db)
	trophyRepo := repository.NewPostgresTrophyRepo(db)

	collector := metrics.NewCollector(reg)
	sanitizer := security.NewTextSanitizer()

	psnClient := psn.NewClient(
		&http.Client{Timeout: cfg.FetchTimeout},
		slog.Default(),
		psn.Config{
			BaseURL:     cfg.PSNBaseURL,
			AccessToken: cfg.PSNAccessToken,
			RatePerSec:  cfg.PSNRatePerSec,
		},
	)

	trophyCache := cache.NewStore[[]model.FetchedTrophy](cfg.CacheTTL, 5*time.Minute)

	checker := check.NewChecker(
		identityRepo, trophyRepo, psnClient, trophyCache,
		sanitizer, collector, slog.Default(), cfg.FetchTimeout,
	)

	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	notifier := notify.NewDiscordNotifier(session, sanitizer, slog.Default(), cfg.DiscordChannelID)

	// CheckAllIdentities=falseの場合は通知有効のアイデンティティのみを定期チェック対象とする
	scheduler := check.NewScheduler(
		identityRepo, checker, notifier, slog.Default(),
		cfg.CheckMaxConcurrent, !cfg.CheckAllIdentities,
	)

	return &checkStack{
		identityRepo: identityRepo,
		trophyRepo:   trophyRepo,
		scheduler:    scheduler,
		collector:    collector,
		trophyCache:  trophyCache,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. チェック依存のワイヤリング（オンデマンドチェック用）
	reg := prometheus.NewRegistry()
	stack, err := buildCheckStack(cfg, db, reg)
	if err != nil {
		return err
	}
	defer stack.trophyCache.Stop()

	// 3. アイデンティティサービスの初期化
	identityService := identity.NewService(stack.identityRepo, stack.trophyRepo, slog.Default())

	// 4. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}

	deps := &handler.RouterDeps{
		APIToken:    cfg.APIToken,
		RateLimiter: middleware.NewRateLimiter(rateLimiterCfg),
		Logger:      slog.Default(),
		Metrics:     stack.collector,

		IdentityService: identityService,
		CheckTrigger:    stack.scheduler,

		DB:             db,
		MetricsHandler: metrics.SetupMetricsRoute(reg),
	}

	router := handler.NewRouter(deps)

	// 5. HTTPサーバーの起動
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

// runWorker はワーカーモードで起動する。
// DB接続を開き、チェックスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. チェック依存のワイヤリング
	reg := prometheus.NewRegistry()
	stack, err := buildCheckStack(cfg, db, reg)
	if err != nil {
		return err
	}
	defer stack.trophyCache.Stop()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("check_interval", cfg.CheckInterval),
		slog.Int("max_concurrent", cfg.CheckMaxConcurrent),
	)

	// チェックスケジューラをメインgoroutineで実行（ブロッキング）
	stack.scheduler.Start(ctx, cfg.CheckInterval)

	slog.Info("worker stopped gracefully")
	return nil
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
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
