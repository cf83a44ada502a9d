package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresNewsRecordRepo はPostgreSQLを使用したニュースレコードリポジトリ。
type PostgresNewsRecordRepo struct {
	db *sql.DB
}

// NewPostgresNewsRecordRepo はPostgresNewsRecordRepoを生成する。
func NewPostgresNewsRecordRepo(db *sql.DB) *PostgresNewsRecordRepo {
	return &PostgresNewsRecordRepo{db: db}
}

// UpsertRecords はニュースレコードをまとめて保存し、新規挿入件数を返す。
// 既存のIDは上書きせずスキップする。
func (r *PostgresNewsRecordRepo) UpsertRecords(ctx context.Context, records []StoredNewsRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, rec := range records {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO news_records (id, day, raw_text, plain_text, happened_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.Day.UTC().Format("2006-01-02"),
			rec.RawText, rec.PlainText, rec.Timestamp,
		)
		if err != nil {
			return 0, fmt.Errorf("ニュースレコードの保存に失敗しました: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}

	return inserted, nil
}

// ListByDay は指定UTC暦日のニュースレコードをタイムスタンプ昇順で返す。
func (r *PostgresNewsRecordRepo) ListByDay(ctx context.Context, day time.Time) ([]StoredNewsRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, day, raw_text, plain_text, happened_at
		 FROM news_records
		 WHERE day = $1
		 ORDER BY happened_at ASC, id ASC`,
		day.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("ニュースレコード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []StoredNewsRecord
	for rows.Next() {
		var rec StoredNewsRecord
		if err := rows.Scan(&rec.ID, &rec.Day, &rec.RawText, &rec.PlainText, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("ニュースレコード行のスキャンに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ニュースレコード行の読み取りに失敗しました: %w", err)
	}

	return records, nil
}

// DeleteOlderThan は保持期間を超過したニュースレコードを削除し、削除件数を返す。
func (r *PostgresNewsRecordRepo) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM news_records WHERE happened_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("古いニュースレコードの削除に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return n, nil
}
