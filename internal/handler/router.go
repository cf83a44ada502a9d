package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/armorylog/internal/metrics"
	"github.com/hitoshi/armorylog/internal/middleware"
	"github.com/hitoshi/armorylog/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 永続化
	DailyRepo  repository.DailyLogRepository
	LedgerRepo repository.LedgerRepository
	RunRepo    repository.IngestRunRepository

	// 取り込み
	Ingester DayIngester

	// 運用
	DB       Pinger
	Gatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	LoggingMiddleware → RecoveryMiddleware → RateLimitMiddleware
//
// 運用ルート（/healthz、/metrics）はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())

	dayHandler := NewDayHandler(deps.DailyRepo)
	loanHandler := NewLoanHandler(deps.LedgerRepo)
	ingestHandler := NewIngestHandler(deps.Ingester, deps.RunRepo)
	healthHandler := NewHealthHandler(deps.DB)

	// --- 運用ルート ---
	r.Get("/healthz", healthHandler.Healthz)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// --- 公開APIルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware)
		}

		// 日次ログ・月次集計
		r.Route("/api/days/{date}", func(r chi.Router) {
			r.Get("/", dayHandler.GetDay)
			r.Post("/ingest", ingestHandler.TriggerIngest)
		})
		r.Get("/api/months/{month}", dayHandler.GetMonth)

		// 貸出台帳
		r.Route("/api/loans", func(r chi.Router) {
			r.Get("/", loanHandler.ListLoans)
			r.Get("/{userID}", loanHandler.GetUserLoans)
		})

		// 取り込み実行記録
		r.Get("/api/runs", ingestHandler.ListRuns)
	})

	return r
}
