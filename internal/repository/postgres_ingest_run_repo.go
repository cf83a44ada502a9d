package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/armorylog/internal/model"
)

// PostgresIngestRunRepo はPostgreSQLを使用した取り込み実行記録リポジトリ。
type PostgresIngestRunRepo struct {
	db *sql.DB
}

// NewPostgresIngestRunRepo はPostgresIngestRunRepoを生成する。
func NewPostgresIngestRunRepo(db *sql.DB) *PostgresIngestRunRepo {
	return &PostgresIngestRunRepo{db: db}
}

// Create は実行記録を作成する。
func (r *PostgresIngestRunRepo) Create(ctx context.Context, run *model.IngestRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, day, status, news_count, event_count, error_message, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Day.UTC().Format("2006-01-02"), string(run.Status),
		run.NewsCount, run.EventCount, run.ErrorMessage,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("実行記録の作成に失敗しました: %w", err)
	}

	return nil
}

// Update は実行記録の状態・件数・終了時刻を更新する。
func (r *PostgresIngestRunRepo) Update(ctx context.Context, run *model.IngestRun) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ingest_runs
		 SET status = $1, news_count = $2, event_count = $3, error_message = $4, finished_at = $5
		 WHERE id = $6`,
		string(run.Status), run.NewsCount, run.EventCount,
		run.ErrorMessage, run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("実行記録の更新に失敗しました: %w", err)
	}

	return nil
}

// FindRunningByDay は指定日の実行中レコードを取得する。見つからない場合はnilを返す。
func (r *PostgresIngestRunRepo) FindRunningByDay(ctx context.Context, day time.Time) (*model.IngestRun, error) {
	run, err := r.scanRun(r.db.QueryRowContext(ctx,
		`SELECT id, day, status, news_count, event_count, error_message, started_at, finished_at
		 FROM ingest_runs
		 WHERE day = $1 AND status = $2
		 ORDER BY started_at DESC
		 LIMIT 1`,
		day.UTC().Format("2006-01-02"), string(model.RunStatusRunning),
	))
	if err != nil {
		return nil, fmt.Errorf("実行中レコードの取得に失敗しました: %w", err)
	}

	return run, nil
}

// LatestByDay は指定日の最新の実行記録を取得する。見つからない場合はnilを返す。
func (r *PostgresIngestRunRepo) LatestByDay(ctx context.Context, day time.Time) (*model.IngestRun, error) {
	run, err := r.scanRun(r.db.QueryRowContext(ctx,
		`SELECT id, day, status, news_count, event_count, error_message, started_at, finished_at
		 FROM ingest_runs
		 WHERE day = $1
		 ORDER BY started_at DESC
		 LIMIT 1`,
		day.UTC().Format("2006-01-02"),
	))
	if err != nil {
		return nil, fmt.Errorf("最新の実行記録の取得に失敗しました: %w", err)
	}

	return run, nil
}

// ListRecent は開始時刻の新しい順に実行記録を返す。
func (r *PostgresIngestRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.IngestRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, day, status, news_count, event_count, error_message, started_at, finished_at
		 FROM ingest_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行記録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var runs []*model.IngestRun
	for rows.Next() {
		run := &model.IngestRun{}
		var status string
		if err := rows.Scan(&run.ID, &run.Day, &status, &run.NewsCount, &run.EventCount,
			&run.ErrorMessage, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("実行記録行のスキャンに失敗しました: %w", err)
		}
		run.Status = model.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行記録行の読み取りに失敗しました: %w", err)
	}

	return runs, nil
}

func (r *PostgresIngestRunRepo) scanRun(row *sql.Row) (*model.IngestRun, error) {
	run := &model.IngestRun{}
	var status string

	err := row.Scan(&run.ID, &run.Day, &status, &run.NewsCount, &run.EventCount,
		&run.ErrorMessage, &run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)

	return run, nil
}
