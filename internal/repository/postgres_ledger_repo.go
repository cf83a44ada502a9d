package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/armorylog/internal/model"
)

// PostgresLedgerRepo はPostgreSQLを使用した貸出台帳リポジトリ。
// 台帳は単一行として保持し、current/history全体をjsonbに保存する。
type PostgresLedgerRepo struct {
	db *sql.DB
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

// Load は貸出台帳を読み込む。まだ保存されていない場合は空の台帳を返す。
func (r *PostgresLedgerRepo) Load(ctx context.Context) (*model.LoanLedger, error) {
	var data []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM loan_ledger WHERE id = 1`,
	).Scan(&data)

	if err == sql.ErrNoRows {
		return model.NewLoanLedger(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("貸出台帳の取得に失敗しました: %w", err)
	}

	ledger := model.NewLoanLedger()
	if err := json.Unmarshal(data, ledger); err != nil {
		return nil, fmt.Errorf("貸出台帳のデコードに失敗しました: %w", err)
	}

	return ledger, nil
}

// Save は貸出台帳全体を保存する。
func (r *PostgresLedgerRepo) Save(ctx context.Context, ledger *model.LoanLedger) error {
	data, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("貸出台帳のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO loan_ledger (id, data, updated_at)
		 VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET
		   data = EXCLUDED.data,
		   updated_at = EXCLUDED.updated_at`,
		data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("貸出台帳の保存に失敗しました: %w", err)
	}

	return nil
}
