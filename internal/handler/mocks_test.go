package handler

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/repository"
)

// mockDailyRepo は日次ログリポジトリのモック。
type mockDailyRepo struct {
	days map[string]*repository.StoredDay
	err  error
}

var _ repository.DailyLogRepository = (*mockDailyRepo)(nil)

func newMockDailyRepo() *mockDailyRepo {
	return &mockDailyRepo{days: make(map[string]*repository.StoredDay)}
}

func (m *mockDailyRepo) FindByDay(_ context.Context, day time.Time) (*repository.StoredDay, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.days[day.Format("2006-01-02")], nil
}

func (m *mockDailyRepo) Upsert(_ context.Context, stored *repository.StoredDay) error {
	if m.err != nil {
		return m.err
	}
	m.days[stored.Day.Format("2006-01-02")] = stored
	return nil
}

func (m *mockDailyRepo) ListByMonth(_ context.Context, year int, month time.Month) ([]*repository.StoredDay, error) {
	if m.err != nil {
		return nil, m.err
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	var result []*repository.StoredDay
	for d := first; d.Month() == month; d = d.AddDate(0, 0, 1) {
		if stored, ok := m.days[d.Format("2006-01-02")]; ok {
			result = append(result, stored)
		}
	}
	return result, nil
}

// mockLedgerRepo は貸出台帳リポジトリのモック。
type mockLedgerRepo struct {
	ledger *model.LoanLedger
	err    error
}

var _ repository.LedgerRepository = (*mockLedgerRepo)(nil)

func (m *mockLedgerRepo) Load(_ context.Context) (*model.LoanLedger, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.ledger == nil {
		return model.NewLoanLedger(), nil
	}
	return m.ledger, nil
}

func (m *mockLedgerRepo) Save(_ context.Context, ledger *model.LoanLedger) error {
	if m.err != nil {
		return m.err
	}
	m.ledger = ledger
	return nil
}

// mockRunRepo は実行記録リポジトリのモック。
type mockRunRepo struct {
	runs []*model.IngestRun
	err  error
}

var _ repository.IngestRunRepository = (*mockRunRepo)(nil)

func (m *mockRunRepo) Create(_ context.Context, run *model.IngestRun) error {
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockRunRepo) Update(_ context.Context, run *model.IngestRun) error {
	if m.err != nil {
		return m.err
	}
	for i, r := range m.runs {
		if r.ID == run.ID {
			m.runs[i] = run
		}
	}
	return nil
}

func (m *mockRunRepo) FindRunningByDay(_ context.Context, day time.Time) (*model.IngestRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.runs {
		if r.Day.Equal(day) && r.Status == model.RunStatusRunning {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockRunRepo) LatestByDay(_ context.Context, day time.Time) (*model.IngestRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	var latest *model.IngestRun
	for _, r := range m.runs {
		if !r.Day.Equal(day) {
			continue
		}
		if latest == nil || r.StartedAt.After(latest.StartedAt) {
			latest = r
		}
	}
	return latest, nil
}

func (m *mockRunRepo) ListRecent(_ context.Context, limit int) ([]*model.IngestRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	result := make([]*model.IngestRun, len(m.runs))
	copy(result, m.runs)
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// mockIngester は取り込み実行のモック。
type mockIngester struct {
	runRepo *mockRunRepo
	err     error
	days    []time.Time
}

var _ DayIngester = (*mockIngester)(nil)

func (m *mockIngester) RunDay(ctx context.Context, day time.Time) error {
	m.days = append(m.days, day)
	if m.err != nil {
		return m.err
	}
	if m.runRepo != nil {
		finished := time.Now().UTC()
		m.runRepo.Create(ctx, &model.IngestRun{
			ID:         "run-" + day.Format("2006-01-02"),
			Day:        day,
			Status:     model.RunStatusSucceeded,
			NewsCount:  3,
			EventCount: 2,
			StartedAt:  finished.Add(-time.Second),
			FinishedAt: &finished,
		})
	}
	return nil
}

// mockPinger はデータベース疎通確認のモック。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(_ context.Context) error {
	return m.err
}

var errDatabase = errors.New("データベースエラー")
