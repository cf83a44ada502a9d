// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/armorylog/internal/model"
)

// StoredDay は永続化された1日分の日次ログとメタ情報。
type StoredDay struct {
	Day         time.Time // UTC暦日（00:00:00Z）
	Log         model.DailyLog
	WindowFrom  int64
	WindowTo    int64
	GeneratedAt time.Time
}

// DailyLogRepository は日次ログの永続化インターフェース。
// 日次ログは実行ごとに全体を書き込み、以後は読み取りのみを行う
// （再取り込み時は同じ日を丸ごと置き換える）。
type DailyLogRepository interface {
	// FindByDay は指定UTC暦日の日次ログを取得する。見つからない場合はnilを返す。
	FindByDay(ctx context.Context, day time.Time) (*StoredDay, error)

	// Upsert は日次ログを保存する。同じ日が既に存在する場合は置き換える。
	Upsert(ctx context.Context, stored *StoredDay) error

	// ListByMonth は指定年月の日次ログを日付昇順で返す。
	ListByMonth(ctx context.Context, year int, month time.Month) ([]*StoredDay, error)
}

// LedgerRepository は貸出台帳の永続化インターフェース。
// 台帳は実行ごとにロードし、変更後に全体を書き戻す。
type LedgerRepository interface {
	// Load は貸出台帳をロードする。未作成の場合は空の台帳を返す。
	Load(ctx context.Context) (*model.LoanLedger, error)

	// Save は貸出台帳を全体書き込みで保存する。
	Save(ctx context.Context, ledger *model.LoanLedger) error
}

// StoredNewsRecord は監査用に保存する生ニュースレコード。
type StoredNewsRecord struct {
	ID        string
	Day       time.Time
	RawText   string
	PlainText string
	Timestamp int64
}

// NewsRecordRepository は生ニュースレコードの監査保存インターフェース。
type NewsRecordRepository interface {
	// UpsertRecords はレコードをまとめて保存し、新規挿入件数を返す。
	// 既存IDのレコードは上書きしない（再取り込みで重複させないため）。
	UpsertRecords(ctx context.Context, records []StoredNewsRecord) (int, error)

	// ListByDay は指定UTC暦日のレコードをタイムスタンプ昇順で返す。
	ListByDay(ctx context.Context, day time.Time) ([]StoredNewsRecord, error)

	// DeleteOlderThan は保持期間を超過したレコードを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// IngestRunRepository は取り込み実行記録の永続化インターフェース。
type IngestRunRepository interface {
	// Create は実行記録を作成する。
	Create(ctx context.Context, run *model.IngestRun) error

	// Update は実行記録の状態・件数・終了時刻を更新する。
	Update(ctx context.Context, run *model.IngestRun) error

	// FindRunningByDay は指定日の実行中レコードを取得する。見つからない場合はnilを返す。
	FindRunningByDay(ctx context.Context, day time.Time) (*model.IngestRun, error)

	// LatestByDay は指定日の最新の実行記録を取得する。見つからない場合はnilを返す。
	LatestByDay(ctx context.Context, day time.Time) (*model.IngestRun, error)

	// ListRecent は開始時刻の新しい順に実行記録を返す。
	ListRecent(ctx context.Context, limit int) ([]*model.IngestRun, error)
}
