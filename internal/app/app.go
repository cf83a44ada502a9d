// Package app はアプリケーションの起動・初期化・依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/armorylog/internal/config"
	"github.com/hitoshi/armorylog/internal/database"
	"github.com/hitoshi/armorylog/internal/handler"
	"github.com/hitoshi/armorylog/internal/logger"
	"github.com/hitoshi/armorylog/internal/metrics"
	"github.com/hitoshi/armorylog/internal/middleware"
	"github.com/hitoshi/armorylog/internal/notify"
	"github.com/hitoshi/armorylog/internal/repository"
	"github.com/hitoshi/armorylog/internal/security"
	"github.com/hitoshi/armorylog/internal/tornapi"
	"github.com/hitoshi/armorylog/internal/worker/cleanup"
	"github.com/hitoshi/armorylog/internal/worker/ingest"
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
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
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
		return fmt.Errorf("初期化に失敗しました: %w", err)
	}

	slog.Info("アプリケーションを起動します",
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
	case CommandIngest:
		return runIngest(cfg, args[1:])
	default:
		return runServe(cfg)
	}
}

// ingestPipeline は取り込みパイプラインの依存関係一式。
// serve・worker・ingestの3モードで共有する。
type ingestPipeline struct {
	dailyRepo  repository.DailyLogRepository
	ledgerRepo repository.LedgerRepository
	newsRepo   repository.NewsRecordRepository
	runRepo    repository.IngestRunRepository
	ingester   *ingest.Ingester
	registry   *prometheus.Registry
}

// buildIngestPipeline は取り込みパイプラインの依存関係をワイヤリングする。
func buildIngestPipeline(cfg *config.Config, db *sql.DB) (*ingestPipeline, error) {
	// 1. リポジトリの初期化
	dailyRepo := repository.NewPostgresDailyLogRepo(db)
	ledgerRepo := repository.NewPostgresLedgerRepo(db)
	newsRepo := repository.NewPostgresNewsRecordRepo(db)
	runRepo := repository.NewPostgresIngestRunRepo(db)

	// 2. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. Torn APIクライアントの初期化
	baseURL, err := url.Parse(cfg.TornAPIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("APIベースURLの解析に失敗しました: %w", err)
	}
	guard := security.NewAPIGuard(baseURL.Host)
	keys := tornapi.NewRoundRobinKeys(cfg.TornAPIKeys)
	pageLimiter := rate.NewLimiter(rate.Every(cfg.APIPageInterval), 1)
	client := tornapi.NewClient(
		guard.NewSafeClient(cfg.FetchTimeout),
		guard, keys, pageLimiter, slog.Default(),
	)
	client.SetBaseURL(cfg.TornAPIBaseURL)
	client.SetPageObserver(collector)

	// 4. 通知の初期化（未設定の場合は何もしないNotifier）
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.TelegramEnabled() {
		tn, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, slog.Default())
		if err != nil {
			slog.Warn("Telegram通知の初期化に失敗しました。通知なしで続行します",
				slog.String("error", err.Error()))
		} else {
			notifier = tn
		}
	}

	// 5. 取り込みの初期化
	ingester := ingest.NewIngester(
		client,
		security.NewNewsSanitizer(),
		dailyRepo, ledgerRepo, newsRepo, runRepo,
		collector, notifier,
		cfg.ExcludedItemSet(),
		slog.Default(),
	)

	return &ingestPipeline{
		dailyRepo:  dailyRepo,
		ledgerRepo: ledgerRepo,
		newsRepo:   newsRepo,
		runRepo:    runRepo,
		ingester:   ingester,
		registry:   registry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("データベースへの接続に失敗しました: %w", err)
	}

	slog.Info("データベース接続を確立しました")

	// 2. 取り込みパイプラインのワイヤリング
	pipeline, err := buildIngestPipeline(cfg, db)
	if err != nil {
		return err
	}

	// 3. レートリミッターの初期化
	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigForRPM(cfg.RateLimitGeneral),
		slog.Default(),
	)
	defer rateLimiter.Stop()

	// 4. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: rateLimiter,
		DailyRepo:   pipeline.dailyRepo,
		LedgerRepo:  pipeline.ledgerRepo,
		RunRepo:     pipeline.runRepo,
		Ingester:    pipeline.ingester,
		DB:          db,
		Gatherer:    pipeline.registry,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("APIサーバーを起動します",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("サーバーのリッスンに失敗しました", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("APIサーバーをシャットダウンします...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗しました: %w", err)
	}

	slog.Info("APIサーバーを正常に停止しました")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、日次取り込みスケジューラとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("データベースへの接続に失敗しました: %w", err)
	}

	slog.Info("データベース接続を確立しました（ワーカー）")

	// 2. 取り込みパイプラインのワイヤリング
	pipeline, err := buildIngestPipeline(cfg, db)
	if err != nil {
		return err
	}

	// 3. スケジューラの初期化
	scheduler := ingest.NewScheduler(
		pipeline.ingester, pipeline.runRepo, slog.Default(),
		ingest.SchedulerConfig{
			CronSpec:        cfg.IngestCronSpec,
			CatchupInterval: cfg.CatchupInterval,
			CatchupDays:     cfg.CatchupDays,
		},
	)

	// 4. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(pipeline.newsRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.NewsRetentionDays

	// 5. メトリクス公開サーバーの起動（Prometheusスクレイプ用）
	metricsServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      metrics.SetupMetricsRoute(pipeline.registry),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		slog.Info("ワーカーのメトリクスサーバーを起動します",
			slog.String("addr", metricsServer.Addr),
		)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("メトリクスサーバーのリッスンに失敗しました", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("ワーカーをシャットダウンします...")
		cancel()
	}()

	slog.Info("ワーカーを起動します",
		slog.String("cron_spec", cfg.IngestCronSpec),
		slog.Int("catchup_days", cfg.CatchupDays),
		slog.Int("retention_days", cfg.NewsRetentionDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("スケジューラの起動に失敗しました: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("メトリクスサーバーの停止に失敗しました", slog.String("error", err.Error()))
	}

	slog.Info("ワーカーを正常に停止しました")
	return nil
}

// runIngest は指定日の取り込みを1回だけ実行して終了する。
// 引数で対象日（YYYY-MM-DD）を指定する。省略時は前日（UTC）を対象とする。
func runIngest(cfg *config.Config, args []string) error {
	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	if len(args) > 0 {
		parsed, err := time.Parse("2006-01-02", args[0])
		if err != nil {
			return fmt.Errorf("対象日の解析に失敗しました: %w", err)
		}
		day = parsed.UTC()
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("データベースへの接続に失敗しました: %w", err)
	}

	pipeline, err := buildIngestPipeline(cfg, db)
	if err != nil {
		return err
	}

	slog.Info("取り込みを実行します", slog.String("day", day.Format("2006-01-02")))

	if err := pipeline.ingester.RunDay(context.Background(), day); err != nil {
		return fmt.Errorf("取り込みの実行に失敗しました: %w", err)
	}

	slog.Info("取り込みが完了しました", slog.String("day", day.Format("2006-01-02")))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("データベースマイグレーションを実行します",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("マイグレーションに失敗しました: %w", err)
	}

	slog.Info("データベースマイグレーションが完了しました")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("ヘルスチェックに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ヘルスチェックがステータス%dを返しました", resp.StatusCode)
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
