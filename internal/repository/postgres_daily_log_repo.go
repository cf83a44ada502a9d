package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresDailyLogRepo はPostgreSQLを使用した日次ログリポジトリ。
// ログ本体はタプル形式のJSONのままjsonbカラムに保存する。
type PostgresDailyLogRepo struct {
	db *sql.DB
}

// NewPostgresDailyLogRepo はPostgresDailyLogRepoを生成する。
func NewPostgresDailyLogRepo(db *sql.DB) *PostgresDailyLogRepo {
	return &PostgresDailyLogRepo{db: db}
}

// FindByDay は指定UTC暦日の日次ログを取得する。見つからない場合はnilを返す。
func (r *PostgresDailyLogRepo) FindByDay(ctx context.Context, day time.Time) (*StoredDay, error) {
	stored := &StoredDay{}
	var data []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT day, data, window_from, window_to, generated_at
		 FROM daily_logs WHERE day = $1`,
		day.UTC().Format("2006-01-02"),
	).Scan(&stored.Day, &data, &stored.WindowFrom, &stored.WindowTo, &stored.GeneratedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("日次ログの取得に失敗しました: %w", err)
	}

	if err := json.Unmarshal(data, &stored.Log); err != nil {
		return nil, fmt.Errorf("日次ログのデコードに失敗しました: %w", err)
	}

	return stored, nil
}

// Upsert は日次ログを保存する。同じ日が既に存在する場合は置き換える。
func (r *PostgresDailyLogRepo) Upsert(ctx context.Context, stored *StoredDay) error {
	data, err := json.Marshal(stored.Log)
	if err != nil {
		return fmt.Errorf("日次ログのエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO daily_logs (day, data, window_from, window_to, generated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (day) DO UPDATE SET
		   data = EXCLUDED.data,
		   window_from = EXCLUDED.window_from,
		   window_to = EXCLUDED.window_to,
		   generated_at = EXCLUDED.generated_at`,
		stored.Day.UTC().Format("2006-01-02"), data,
		stored.WindowFrom, stored.WindowTo, stored.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("日次ログの保存に失敗しました: %w", err)
	}

	return nil
}

// ListByMonth は指定年月の日次ログを日付昇順で返す。
func (r *PostgresDailyLogRepo) ListByMonth(ctx context.Context, year int, month time.Month) ([]*StoredDay, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)

	rows, err := r.db.QueryContext(ctx,
		`SELECT day, data, window_from, window_to, generated_at
		 FROM daily_logs
		 WHERE day >= $1 AND day < $2
		 ORDER BY day ASC`,
		first.Format("2006-01-02"), next.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("月次の日次ログ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stored []*StoredDay
	for rows.Next() {
		s := &StoredDay{}
		var data []byte
		if err := rows.Scan(&s.Day, &data, &s.WindowFrom, &s.WindowTo, &s.GeneratedAt); err != nil {
			return nil, fmt.Errorf("日次ログ行のスキャンに失敗しました: %w", err)
		}
		if err := json.Unmarshal(data, &s.Log); err != nil {
			return nil, fmt.Errorf("日次ログのデコードに失敗しました: %w", err)
		}
		stored = append(stored, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("日次ログ行の読み取りに失敗しました: %w", err)
	}

	return stored, nil
}
