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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/menteman/internal/account"
	"github.com/hitoshi/menteman/internal/appliance"
	"github.com/hitoshi/menteman/internal/config"
	"github.com/hitoshi/menteman/internal/database"
	"github.com/hitoshi/menteman/internal/dispatch"
	"github.com/hitoshi/menteman/internal/extraction"
	"github.com/hitoshi/menteman/internal/handler"
	"github.com/hitoshi/menteman/internal/logger"
	"github.com/hitoshi/menteman/internal/metrics"
	"github.com/hitoshi/menteman/internal/middleware"
	"github.com/hitoshi/menteman/internal/push"
	"github.com/hitoshi/menteman/internal/repository"
	"github.com/hitoshi/menteman/internal/schedule"
	"github.com/hitoshi/menteman/internal/security"
	"github.com/hitoshi/menteman/internal/worker/cleanup"
	"github.com/hitoshi/menteman/internal/worker/remind"
)

// webPushTTLSeconds はプッシュサービス側での通知保持期間。
// 次のディスパッチサイクルで再送されるため、長期保持は不要。
const webPushTTLSeconds = 3600

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

	// 2. リポジトリの初期化
	extractionRepo := repository.NewPostgresExtractionRepo(db)
	applianceRepo := repository.NewPostgresApplianceRepo(db)
	scheduleRepo := repository.NewPostgresScheduleRepo(db)
	pushRepo := repository.NewPostgresPushRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	endpointGuard := security.NewEndpointGuard()

	// 4. ドメインサービスの初期化
	extractionClient := extraction.NewClient(
		&http.Client{Timeout: cfg.ExtractionTimeout},
		slog.Default(), cfg.ExtractorURL,
	)
	extractionCache := extraction.NewCache(
		extractionRepo, extractionClient, collector,
		slog.Default(), cfg.ExtractionTimeout,
	)

	scheduleService := schedule.NewService(scheduleRepo, slog.Default())
	applianceService := appliance.NewService(
		applianceRepo, extractionCache, scheduleService, slog.Default(),
	)
	pushService := push.NewSubscriptionService(
		pushRepo, endpointGuard, slog.Default(), cfg.MaxSubscriptionsPerUser,
	)
	accountService := account.NewService(applianceRepo, pushRepo, slog.Default())

	// 5. ディスパッチャーの構築（内部手動トリガー用）
	deliverer := push.NewWebPushDeliverer(
		push.VAPIDConfig{
			Subject:    cfg.VAPIDSubject,
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
		},
		endpointGuard.NewSafeClient(cfg.DeliveryTimeout),
		webPushTTLSeconds,
	)
	dispatcher := dispatch.NewDispatcher(
		scheduleRepo, pushRepo, deliverer, collector, slog.Default(),
		cfg.DeliveryTimeout, cfg.DispatchMaxConcurrent, cfg.ReminderMaxItems,
	)

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterConfig(cfg)),
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
		ApplianceService:  applianceService,
		ScheduleService:   scheduleService,
		PushService:       pushService,
		DispatchRunner:    dispatcher,
		AccountPurger:     accountService,
		Logger:            slog.Default(),
	})

	// 7. HTTPサーバーの起動
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
// DB接続を開き、リマインダーディスパッチのスケジューラーと
// クリーンアップジョブを起動する。
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

	// 2. リポジトリの初期化
	extractionRepo := repository.NewPostgresExtractionRepo(db)
	scheduleRepo := repository.NewPostgresScheduleRepo(db)
	pushRepo := repository.NewPostgresPushRepo(db)

	// 3. メトリクスとセキュリティサービスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	endpointGuard := security.NewEndpointGuard()

	// 4. ディスパッチャーの構築
	deliverer := push.NewWebPushDeliverer(
		push.VAPIDConfig{
			Subject:    cfg.VAPIDSubject,
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
		},
		endpointGuard.NewSafeClient(cfg.DeliveryTimeout),
		webPushTTLSeconds,
	)
	dispatcher := dispatch.NewDispatcher(
		scheduleRepo, pushRepo, deliverer, collector, slog.Default(),
		cfg.DeliveryTimeout, cfg.DispatchMaxConcurrent, cfg.ReminderMaxItems,
	)

	// 5. スケジューラの構築
	scheduler := remind.NewScheduler(dispatcher, slog.Default())

	// 6. クリーンアップジョブの構築
	cleanupJob := cleanup.NewCleanupJob(extractionRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.FailedExtractionRetentionDays

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
		slog.Duration("dispatch_interval", cfg.DispatchInterval),
		slog.Int("max_concurrent", cfg.DispatchMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// ディスパッチスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.DispatchInterval)

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

// rateLimiterConfig は設定値（req/min単位）からレート制限設定を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	return middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		RegisterRate:    rate.Limit(float64(cfg.RateLimitRegister) / 60.0),
		RegisterBurst:   cfg.RateLimitRegister,
		CleanupInterval: 5 * time.Minute,
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
