// Package ingest はアーマリーニュースの日次取り込み処理を提供する。
// スケジューラ、取り込み本体、キャッチアップ処理を含む。
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/armorylog/internal/armory"
	"github.com/hitoshi/armorylog/internal/metrics"
	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/notify"
	"github.com/hitoshi/armorylog/internal/repository"
	"github.com/hitoshi/armorylog/internal/security"
)

// NewsFetcher はニュースウィンドウ取得のインターフェース。
// テスト時にモックに差し替え可能。
type NewsFetcher interface {
	FetchWindow(ctx context.Context, from, to int64) ([]model.RawNewsRecord, error)
}

// Ingester は1日分のアーマリーニュースを取り込み、
// 日次ログと貸出台帳を更新する。
type Ingester struct {
	fetcher    NewsFetcher
	sanitizer  security.NewsSanitizerService
	dailyRepo  repository.DailyLogRepository
	ledgerRepo repository.LedgerRepository
	newsRepo   repository.NewsRecordRepository
	runRepo    repository.IngestRunRepository
	metrics    metrics.MetricsCollector
	notifier   notify.Notifier
	excluded   map[string]bool
	logger     *slog.Logger
}

// NewIngester はIngesterの新しいインスタンスを生成する。
func NewIngester(
	fetcher NewsFetcher,
	sanitizer security.NewsSanitizerService,
	dailyRepo repository.DailyLogRepository,
	ledgerRepo repository.LedgerRepository,
	newsRepo repository.NewsRecordRepository,
	runRepo repository.IngestRunRepository,
	collector metrics.MetricsCollector,
	notifier notify.Notifier,
	excluded map[string]bool,
	logger *slog.Logger,
) *Ingester {
	return &Ingester{
		fetcher:    fetcher,
		sanitizer:  sanitizer,
		dailyRepo:  dailyRepo,
		ledgerRepo: ledgerRepo,
		newsRepo:   newsRepo,
		runRepo:    runRepo,
		metrics:    collector,
		notifier:   notifier,
		excluded:   excluded,
		logger:     logger,
	}
}

// DayBounds は対象UTC暦日のウィンドウ [from, from+86400) を返す。
func DayBounds(day time.Time) (from, to int64) {
	d := day.UTC().Truncate(24 * time.Hour)
	from = d.Unix()
	return from, from + 86400
}

// RunDay は指定UTC暦日のニュースを取り込み、日次ログ・貸出台帳・
// 監査レコード・実行記録を永続化する。
// 同じ日の取り込みが実行中の場合はINGEST_RUNNINGエラーを返す。
// 再実行時は日次ログを丸ごと置き換える（台帳への適用はイベント順で再現される）。
func (g *Ingester) RunDay(ctx context.Context, day time.Time) error {
	day = day.UTC().Truncate(24 * time.Hour)
	dayStr := day.Format("2006-01-02")

	running, err := g.runRepo.FindRunningByDay(ctx, day)
	if err != nil {
		return fmt.Errorf("実行中レコードの確認に失敗しました: %w", err)
	}
	if running != nil {
		return model.NewIngestRunningError(dayStr)
	}

	run := &model.IngestRun{
		ID:        uuid.NewString(),
		Day:       day,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := g.runRepo.Create(ctx, run); err != nil {
		return fmt.Errorf("実行記録の作成に失敗しました: %w", err)
	}

	g.logger.Info("取り込みを開始します", slog.String("day", dayStr), slog.String("run_id", run.ID))

	activeUsers, err := g.ingest(ctx, day, run)
	if err != nil {
		g.finishRun(ctx, run, nil, err)
		return err
	}

	g.finishRun(ctx, run, activeUsers, nil)
	return nil
}

// ingest は取り込み本体。失敗時はどの段階でも実行記録をfailedにして返す。
// 成功時はその日にアクションした行為者の表示名を返す。
func (g *Ingester) ingest(ctx context.Context, day time.Time, run *model.IngestRun) ([]string, error) {
	from, to := DayBounds(day)

	fetchStart := time.Now()
	records, err := g.fetcher.FetchWindow(ctx, from, to)
	g.metrics.RecordFetchLatency(time.Since(fetchStart))
	if err != nil {
		g.metrics.RecordFetchFailure("fetch_error")
		return nil, fmt.Errorf("ニュースウィンドウの取得に失敗しました: %w", err)
	}
	g.metrics.RecordFetchSuccess()
	run.NewsCount = len(records)

	// 分類。分類できないレコードは黙って破棄する（メトリクスにのみ残す）。
	// 行為者の表示名は生テキストのアンカーから補完する。
	var events []model.ArmoryEvent
	for _, rec := range records {
		ev, ok := armory.Classify(rec.Text, rec.Timestamp)
		if !ok {
			g.metrics.RecordEventDropped()
			continue
		}
		for _, ref := range security.ParseUserAnchors(rec.Text) {
			if ref.ID == ev.Actor && ref.Name != "" {
				ev.ActorName = ref.Name
				break
			}
		}
		events = append(events, ev)
		g.metrics.RecordEventClassified(string(ev.Category))
	}
	run.EventCount = len(events)

	armory.SortEvents(events)
	dailyLog := armory.BuildDailyLog(events)

	// 監査用の生レコード保存。既存IDは挿入済みとしてスキップされる。
	stored := make([]repository.StoredNewsRecord, 0, len(records))
	for _, rec := range records {
		stored = append(stored, repository.StoredNewsRecord{
			ID:        rec.ID,
			Day:       day,
			RawText:   rec.Text,
			PlainText: g.sanitizer.PlainText(rec.Text),
			Timestamp: rec.Timestamp,
		})
	}
	inserted, err := g.newsRepo.UpsertRecords(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("ニュースレコードの保存に失敗しました: %w", err)
	}
	g.metrics.RecordNewsStored(inserted)

	ledger, err := g.ledgerRepo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("貸出台帳のロードに失敗しました: %w", err)
	}
	stats := armory.ApplyToLedger(ledger, events, g.excluded)
	for i := 0; i < stats.BatchesOpened; i++ {
		g.metrics.RecordLoanOpened()
	}
	for i := 0; i < stats.BatchesClosed; i++ {
		g.metrics.RecordLoanResolved()
	}
	for i := 0; i < stats.UnmatchedResolutions; i++ {
		g.metrics.RecordUnmatchedResolution()
	}

	if err := g.dailyRepo.Upsert(ctx, &repository.StoredDay{
		Day:         day,
		Log:         dailyLog,
		WindowFrom:  from,
		WindowTo:    to,
		GeneratedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("日次ログの保存に失敗しました: %w", err)
	}

	if err := g.ledgerRepo.Save(ctx, ledger); err != nil {
		return nil, fmt.Errorf("貸出台帳の保存に失敗しました: %w", err)
	}

	return activeUserNames(events), nil
}

// activeUserNames はイベントの行為者表示名を重複なしの昇順で返す。
// 表示名が取れなかった行為者は含まない。
func activeUserNames(events []model.ArmoryEvent) []string {
	seen := make(map[string]bool)
	var names []string
	for _, ev := range events {
		if ev.ActorName == "" || seen[ev.ActorName] {
			continue
		}
		seen[ev.ActorName] = true
		names = append(names, ev.ActorName)
	}
	sort.Strings(names)
	return names
}

// finishRun は実行記録を終了状態に更新し、通知を送る。
// 更新や通知の失敗は取り込み結果に影響させない。
func (g *Ingester) finishRun(ctx context.Context, run *model.IngestRun, activeUsers []string, ingestErr error) {
	now := time.Now().UTC()
	run.FinishedAt = &now

	if ingestErr != nil {
		run.Status = model.RunStatusFailed
		run.ErrorMessage = ingestErr.Error()
	} else {
		run.Status = model.RunStatusSucceeded
	}

	if err := g.runRepo.Update(ctx, run); err != nil {
		g.logger.Error("実行記録の更新に失敗しました",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}

	if ingestErr != nil {
		g.logger.Error("取り込みに失敗しました",
			slog.String("day", run.Day.Format("2006-01-02")),
			slog.String("run_id", run.ID),
			slog.String("error", ingestErr.Error()),
		)
	} else {
		g.logger.Info("取り込みが完了しました",
			slog.String("day", run.Day.Format("2006-01-02")),
			slog.String("run_id", run.ID),
			slog.Int("news_count", run.NewsCount),
			slog.Int("event_count", run.EventCount),
			slog.Int("active_users", len(activeUsers)),
		)
	}

	g.notifier.NotifyRunFinished(run, activeUsers)
}
