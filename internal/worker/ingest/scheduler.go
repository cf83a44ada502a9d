package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/repository"
)

// DayIngester は1日分の取り込みを実行するインターフェース。
// テスト時にモックに差し替え可能。
type DayIngester interface {
	RunDay(ctx context.Context, day time.Time) error
}

// SchedulerConfig はスケジューラの設定パラメータ。
type SchedulerConfig struct {
	// CronSpec は日次取り込みのcron式（UTC、デフォルト: "5 0 * * *"）。
	CronSpec string
	// CatchupInterval はキャッチアップ処理の実行間隔（デフォルト: 1時間）。
	CatchupInterval time.Duration
	// CatchupDays はキャッチアップで遡る日数（デフォルト: 7）。
	CatchupDays int
}

// DefaultSchedulerConfig はデフォルトのスケジューラ設定を返す。
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CronSpec:        "5 0 * * *",
		CatchupInterval: 1 * time.Hour,
		CatchupDays:     7,
	}
}

// Scheduler は日次取り込みのスケジューリングを行う。
// cronで毎日UTC深夜すぎに前日分を取り込み、定期的なキャッチアップで
// 成功記録のない過去日を埋める。
type Scheduler struct {
	ingester DayIngester
	runRepo  repository.IngestRunRepository
	logger   *slog.Logger
	config   SchedulerConfig

	// muはcronジョブとキャッチアップループの同時実行から
	// バックオフ状態と取り込み自体を直列化する。
	mu                sync.Mutex
	consecutiveErrors int
	backoffUntil      time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	ingester DayIngester,
	runRepo repository.IngestRunRepository,
	logger *slog.Logger,
	config SchedulerConfig,
) *Scheduler {
	if config.CronSpec == "" {
		config.CronSpec = "5 0 * * *"
	}
	if config.CatchupInterval <= 0 {
		config.CatchupInterval = 1 * time.Hour
	}
	if config.CatchupDays <= 0 {
		config.CatchupDays = 7
	}
	return &Scheduler{
		ingester: ingester,
		runRepo:  runRepo,
		logger:   logger,
		config:   config,
	}
}

// Start はスケジューラを起動し、コンテキストがキャンセルされるまでブロックする。
// 起動直後にキャッチアップを1回実行する。
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))

	if _, err := c.AddFunc(s.config.CronSpec, func() {
		day := time.Now().UTC().AddDate(0, 0, -1)
		if err := s.runWithBackoff(ctx, day); err != nil {
			s.logger.Error("日次取り込みに失敗しました",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
		}
	}); err != nil {
		return fmt.Errorf("cronジョブの登録に失敗しました: %w", err)
	}

	c.Start()
	defer func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.String("cron_spec", s.config.CronSpec),
		slog.Duration("catchup_interval", s.config.CatchupInterval),
		slog.Int("catchup_days", s.config.CatchupDays),
	)

	// 起動直後にキャッチアップを1回実行
	if err := s.Catchup(ctx); err != nil {
		s.logger.Error("キャッチアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(s.config.CatchupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return nil
		case <-ticker.C:
			if err := s.Catchup(ctx); err != nil {
				s.logger.Error("キャッチアップの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Catchup は直近CatchupDays日のうち、成功した取り込み記録のない日を
// 古い順に取り込む。台帳への適用順を保つため、処理は常に古い日から行う。
func (s *Scheduler) Catchup(ctx context.Context) error {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	for i := s.config.CatchupDays; i >= 1; i-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		day := today.AddDate(0, 0, -i)

		latest, err := s.runRepo.LatestByDay(ctx, day)
		if err != nil {
			return fmt.Errorf("実行記録の取得に失敗しました: %w", err)
		}
		if latest != nil && latest.Status == model.RunStatusSucceeded {
			continue
		}

		s.logger.Info("未処理日をキャッチアップします",
			slog.String("day", day.Format("2006-01-02")),
		)

		if err := s.runWithBackoff(ctx, day); err != nil {
			// 1日分の失敗でキャッチアップ全体は止めない
			s.logger.Error("キャッチアップ取り込みに失敗しました",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// retryableError は時間をおいた再試行で回復しうるかを自己申告するエラー。
// tornapiのAPIErrorとHTTPStatusErrorが実装する。
type retryableError interface {
	Retryable() bool
}

// nonRetryableBackoff は再試行しても回復しないエラー（APIキー不正など）に
// 適用するバックオフ時間。
const nonRetryableBackoff = 6 * time.Hour

// runWithBackoff はバックオフ中でなければ取り込みを実行し、
// 連続エラー回数に応じたバックオフを適用する。
// cronジョブとキャッチアップループの両方から呼ばれるため、
// 呼び出し全体をロックで直列化する。
func (s *Scheduler) runWithBackoff(ctx context.Context, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.backoffUntil.IsZero() && time.Now().Before(s.backoffUntil) {
		s.logger.Info("バックオフ中のため取り込みをスキップします",
			slog.Time("backoff_until", s.backoffUntil),
		)
		return nil
	}

	if err := s.ingester.RunDay(ctx, day); err != nil {
		s.consecutiveErrors++

		// 回復しないエラーは連続回数を待たずに長いバックオフへ移る
		var rerr retryableError
		if errors.As(err, &rerr) && !rerr.Retryable() {
			s.backoffUntil = time.Now().Add(nonRetryableBackoff)
			s.logger.Warn("回復不能なエラーによりバックオフを適用します",
				slog.String("error", err.Error()),
				slog.Duration("backoff_duration", nonRetryableBackoff),
			)
			return err
		}

		if backoff := errorBackoff(s.consecutiveErrors); backoff > 0 {
			s.backoffUntil = time.Now().Add(backoff)
			s.logger.Warn("連続エラーによりバックオフを適用します",
				slog.Int("consecutive_errors", s.consecutiveErrors),
				slog.Duration("backoff_duration", backoff),
			)
		}
		return err
	}

	s.consecutiveErrors = 0
	s.backoffUntil = time.Time{}
	return nil
}

// errorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func errorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
