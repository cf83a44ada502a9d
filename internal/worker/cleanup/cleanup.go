// Package cleanup は監査用ニュースレコードの自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過した生レコードを日次バッチで削除する。
// 日次ログと貸出台帳は集計結果であり削除対象にしない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/armorylog/internal/repository"
)

// CleanupJob は保持期間を超過したニュースレコードの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	newsRepo      repository.NewsRecordRepository
	logger        *slog.Logger
	RetentionDays int // ニュースレコードの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(newsRepo repository.NewsRecordRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		newsRepo:      newsRepo,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過したニュースレコードを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.newsRepo.DeleteOlderThan(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("ニュースレコードクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ニュースレコードクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("ニュースレコードクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はクリーンアップジョブを指定間隔で定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("クリーンアップジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
