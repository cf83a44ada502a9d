package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/repository"
	"github.com/hitoshi/armorylog/internal/security"
)

// ============================================================
// モック
// ============================================================

type mockFetcher struct {
	records  []model.RawNewsRecord
	err      error
	lastFrom int64
	lastTo   int64
}

func (m *mockFetcher) FetchWindow(ctx context.Context, from, to int64) ([]model.RawNewsRecord, error) {
	m.lastFrom = from
	m.lastTo = to
	return m.records, m.err
}

type mockDailyRepo struct {
	stored map[string]*repository.StoredDay
}

func newMockDailyRepo() *mockDailyRepo {
	return &mockDailyRepo{stored: make(map[string]*repository.StoredDay)}
}

func (m *mockDailyRepo) FindByDay(ctx context.Context, day time.Time) (*repository.StoredDay, error) {
	return m.stored[day.Format("2006-01-02")], nil
}

func (m *mockDailyRepo) Upsert(ctx context.Context, s *repository.StoredDay) error {
	m.stored[s.Day.Format("2006-01-02")] = s
	return nil
}

func (m *mockDailyRepo) ListByMonth(ctx context.Context, year int, month time.Month) ([]*repository.StoredDay, error) {
	var days []*repository.StoredDay
	for _, s := range m.stored {
		if s.Day.Year() == year && s.Day.Month() == month {
			days = append(days, s)
		}
	}
	return days, nil
}

type mockLedgerRepo struct {
	ledger *model.LoanLedger
	saved  bool
}

func newMockLedgerRepo() *mockLedgerRepo {
	return &mockLedgerRepo{ledger: model.NewLoanLedger()}
}

func (m *mockLedgerRepo) Load(ctx context.Context) (*model.LoanLedger, error) {
	return m.ledger, nil
}

func (m *mockLedgerRepo) Save(ctx context.Context, ledger *model.LoanLedger) error {
	m.ledger = ledger
	m.saved = true
	return nil
}

type mockNewsRepo struct {
	records map[string]repository.StoredNewsRecord
}

func newMockNewsRepo() *mockNewsRepo {
	return &mockNewsRepo{records: make(map[string]repository.StoredNewsRecord)}
}

func (m *mockNewsRepo) UpsertRecords(ctx context.Context, records []repository.StoredNewsRecord) (int, error) {
	inserted := 0
	for _, rec := range records {
		if _, ok := m.records[rec.ID]; ok {
			continue
		}
		m.records[rec.ID] = rec
		inserted++
	}
	return inserted, nil
}

func (m *mockNewsRepo) ListByDay(ctx context.Context, day time.Time) ([]repository.StoredNewsRecord, error) {
	var out []repository.StoredNewsRecord
	for _, rec := range m.records {
		if rec.Day.Equal(day) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockNewsRepo) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	return 0, nil
}

type mockRunRepo struct {
	runs map[string]*model.IngestRun
}

func newMockRunRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[string]*model.IngestRun)}
}

func (m *mockRunRepo) Create(ctx context.Context, run *model.IngestRun) error {
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *mockRunRepo) Update(ctx context.Context, run *model.IngestRun) error {
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

func (m *mockRunRepo) FindRunningByDay(ctx context.Context, day time.Time) (*model.IngestRun, error) {
	for _, run := range m.runs {
		if run.Day.Equal(day) && run.Status == model.RunStatusRunning {
			return run, nil
		}
	}
	return nil, nil
}

func (m *mockRunRepo) LatestByDay(ctx context.Context, day time.Time) (*model.IngestRun, error) {
	var latest *model.IngestRun
	for _, run := range m.runs {
		if !run.Day.Equal(day) {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	return latest, nil
}

func (m *mockRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.IngestRun, error) {
	var out []*model.IngestRun
	for _, run := range m.runs {
		out = append(out, run)
	}
	return out, nil
}

// countingMetrics は呼び出し回数を数えるMetricsCollectorスタブ。
type countingMetrics struct {
	fetchSuccess int
	fetchFail    int
	classified   map[string]int
	dropped      int
	newsStored   int
	loansOpened  int
	loansClosed  int
	unmatched    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{classified: make(map[string]int)}
}

func (c *countingMetrics) RecordFetchSuccess()                   { c.fetchSuccess++ }
func (c *countingMetrics) RecordFetchFailure(reason string)      { c.fetchFail++ }
func (c *countingMetrics) RecordPagesFetched(count int)          {}
func (c *countingMetrics) RecordFetchLatency(d time.Duration)    {}
func (c *countingMetrics) RecordEventClassified(category string) { c.classified[category]++ }
func (c *countingMetrics) RecordEventDropped()                   { c.dropped++ }
func (c *countingMetrics) RecordNewsStored(count int)            { c.newsStored += count }
func (c *countingMetrics) RecordLoanOpened()                     { c.loansOpened++ }
func (c *countingMetrics) RecordLoanResolved()                   { c.loansClosed++ }
func (c *countingMetrics) RecordUnmatchedResolution()            { c.unmatched++ }

// recordingNotifier は通知された実行記録とアクティブユーザーを記録する。
type recordingNotifier struct {
	notified    []*model.IngestRun
	activeUsers [][]string
}

func (r *recordingNotifier) NotifyRunFinished(run *model.IngestRun, activeUsers []string) {
	r.notified = append(r.notified, run)
	r.activeUsers = append(r.activeUsers, activeUsers)
}

// ============================================================
// テストヘルパー
// ============================================================

func testDay() time.Time {
	return time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
}

func profileAnchor(xid int64, name string) string {
	return `<a href = "http://www.torn.com/profiles.php?XID=` +
		strconv.FormatInt(xid, 10) + `">` + name + `</a>`
}

type fixture struct {
	ingester   *Ingester
	fetcher    *mockFetcher
	dailyRepo  *mockDailyRepo
	ledgerRepo *mockLedgerRepo
	newsRepo   *mockNewsRepo
	runRepo    *mockRunRepo
	metrics    *countingMetrics
	notifier   *recordingNotifier
}

func newFixture(records []model.RawNewsRecord, fetchErr error, excluded map[string]bool) *fixture {
	f := &fixture{
		fetcher:    &mockFetcher{records: records, err: fetchErr},
		dailyRepo:  newMockDailyRepo(),
		ledgerRepo: newMockLedgerRepo(),
		newsRepo:   newMockNewsRepo(),
		runRepo:    newMockRunRepo(),
		metrics:    newCountingMetrics(),
		notifier:   &recordingNotifier{},
	}
	f.ingester = NewIngester(
		f.fetcher,
		security.NewNewsSanitizer(),
		f.dailyRepo,
		f.ledgerRepo,
		f.newsRepo,
		f.runRepo,
		f.metrics,
		f.notifier,
		excluded,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

// ============================================================
// テスト
// ============================================================

func TestDayBounds(t *testing.T) {
	from, to := DayBounds(time.Date(2025, 8, 1, 13, 45, 0, 0, time.UTC))

	if from != 1754006400 {
		t.Errorf("from = %d, want 1754006400", from)
	}
	if to-from != 86400 {
		t.Errorf("ウィンドウ幅 = %d, want 86400", to-from)
	}
}

func TestRunDay_Success(t *testing.T) {
	records := []model.RawNewsRecord{
		{
			ID:        "n-2",
			Text:      profileAnchor(100, "Alice") + " loaned 2x Katana to " + profileAnchor(200, "Bob"),
			Timestamp: 1754010000,
		},
		{
			ID:        "n-1",
			Text:      profileAnchor(100, "Alice") + " deposited 5 x Blood Bag : A+",
			Timestamp: 1754008000,
		},
	}
	f := newFixture(records, nil, nil)

	if err := f.ingester.RunDay(context.Background(), testDay()); err != nil {
		t.Fatalf("RunDay returned unexpected error: %v", err)
	}

	// フェッチウィンドウは対象日のUTC境界
	if f.fetcher.lastFrom != 1754006400 || f.fetcher.lastTo != 1754092800 {
		t.Errorf("fetch window = [%d, %d), want [1754006400, 1754092800)", f.fetcher.lastFrom, f.fetcher.lastTo)
	}

	// 日次ログが保存されている
	stored := f.dailyRepo.stored["2025-08-01"]
	if stored == nil {
		t.Fatal("日次ログが保存されていません")
	}
	userLog, ok := stored.Log[200]
	if !ok {
		t.Fatal("受領者200の日次ログがありません")
	}
	if len(userLog.LoanedReceive["Katana"]) != 1 {
		t.Errorf("loaned_receiveのKatanaエントリ数 = %d, want 1", len(userLog.LoanedReceive["Katana"]))
	}

	// 台帳に未返却バッチが開かれている
	if !f.ledgerRepo.saved {
		t.Error("台帳が保存されていません")
	}
	if got := f.ledgerRepo.ledger.Outstanding(200, "Katana"); got != 2 {
		t.Errorf("Outstanding = %d, want 2", got)
	}

	// 監査レコードがプレーンテキスト付きで保存されている
	if len(f.newsRepo.records) != 2 {
		t.Fatalf("保存された監査レコード数 = %d, want 2", len(f.newsRepo.records))
	}
	plain := f.newsRepo.records["n-2"].PlainText
	if strings.Contains(plain, "<a") {
		t.Errorf("プレーンテキストにHTMLタグが残っています: %q", plain)
	}
	if !strings.Contains(plain, "Alice") {
		t.Errorf("プレーンテキストに表示名が含まれていません: %q", plain)
	}

	// 実行記録が成功で閉じている
	if len(f.runRepo.runs) != 1 {
		t.Fatalf("実行記録数 = %d, want 1", len(f.runRepo.runs))
	}
	for _, run := range f.runRepo.runs {
		if run.Status != model.RunStatusSucceeded {
			t.Errorf("Status = %q, want %q", run.Status, model.RunStatusSucceeded)
		}
		if run.NewsCount != 2 {
			t.Errorf("NewsCount = %d, want 2", run.NewsCount)
		}
		if run.EventCount != 2 {
			t.Errorf("EventCount = %d, want 2", run.EventCount)
		}
		if run.FinishedAt == nil {
			t.Error("FinishedAtが設定されていません")
		}
	}

	// メトリクスと通知
	if f.metrics.fetchSuccess != 1 {
		t.Errorf("fetchSuccess = %d, want 1", f.metrics.fetchSuccess)
	}
	if f.metrics.classified["loaned_receive"] != 1 || f.metrics.classified["deposited"] != 1 {
		t.Errorf("classified = %v, want loaned_receive=1 deposited=1", f.metrics.classified)
	}
	if f.metrics.loansOpened != 1 {
		t.Errorf("loansOpened = %d, want 1", f.metrics.loansOpened)
	}
	if len(f.notifier.notified) != 1 {
		t.Errorf("通知回数 = %d, want 1", len(f.notifier.notified))
	}
}

func TestRunDay_NotifiesActorDisplayNames(t *testing.T) {
	records := []model.RawNewsRecord{
		{
			// loaned_receiveの帰属先はBob（2番目のXID）
			ID:        "n-1",
			Text:      profileAnchor(100, "Alice") + " loaned 2x Katana to " + profileAnchor(200, "Bob"),
			Timestamp: 1754010000,
		},
		{
			ID:        "n-2",
			Text:      profileAnchor(100, "Alice") + " deposited 5 x Blood Bag : A+",
			Timestamp: 1754008000,
		},
		{
			// 同じ行為者の重複は1回だけ数える
			ID:        "n-3",
			Text:      profileAnchor(100, "Alice") + " deposited 1 x Katana",
			Timestamp: 1754009000,
		},
	}
	f := newFixture(records, nil, nil)

	if err := f.ingester.RunDay(context.Background(), testDay()); err != nil {
		t.Fatalf("RunDay returned unexpected error: %v", err)
	}

	if len(f.notifier.activeUsers) != 1 {
		t.Fatalf("通知回数 = %d, want 1", len(f.notifier.activeUsers))
	}
	got := f.notifier.activeUsers[0]
	want := []string{"Alice", "Bob"}
	if len(got) != len(want) {
		t.Fatalf("アクティブユーザー = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("アクティブユーザー = %v, want %v（昇順・重複なし）", got, want)
		}
	}
}

func TestActiveUserNames_SortedAndDeduplicated(t *testing.T) {
	events := []model.ArmoryEvent{
		{Actor: 200, ActorName: "Bob"},
		{Actor: 100, ActorName: "Alice"},
		{Actor: 200, ActorName: "Bob"},
		{Actor: 300}, // 表示名なしは含まない
	}

	got := activeUserNames(events)
	want := []string{"Alice", "Bob"}
	if len(got) != len(want) {
		t.Fatalf("activeUserNames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("activeUserNames = %v, want %v", got, want)
		}
	}
}

func TestRunDay_UnclassifiableRecordsDroppedSilently(t *testing.T) {
	records := []model.RawNewsRecord{
		{ID: "n-1", Text: "no user tokens here", Timestamp: 1754008000},
		{
			ID:        "n-2",
			Text:      profileAnchor(100, "Alice") + " deposited 1 x Katana",
			Timestamp: 1754009000,
		},
	}
	f := newFixture(records, nil, nil)

	if err := f.ingester.RunDay(context.Background(), testDay()); err != nil {
		t.Fatalf("RunDay returned unexpected error: %v", err)
	}

	if f.metrics.dropped != 1 {
		t.Errorf("dropped = %d, want 1", f.metrics.dropped)
	}
	for _, run := range f.runRepo.runs {
		if run.NewsCount != 2 {
			t.Errorf("NewsCount = %d, want 2", run.NewsCount)
		}
		if run.EventCount != 1 {
			t.Errorf("EventCount = %d, want 1", run.EventCount)
		}
	}

	// 分類不能でも監査レコードは保存される
	if len(f.newsRepo.records) != 2 {
		t.Errorf("監査レコード数 = %d, want 2", len(f.newsRepo.records))
	}
}

func TestRunDay_FetchError_MarksRunFailed(t *testing.T) {
	f := newFixture(nil, errors.New("APIキーが無効です"), nil)

	err := f.ingester.RunDay(context.Background(), testDay())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if len(f.runRepo.runs) != 1 {
		t.Fatalf("実行記録数 = %d, want 1", len(f.runRepo.runs))
	}
	for _, run := range f.runRepo.runs {
		if run.Status != model.RunStatusFailed {
			t.Errorf("Status = %q, want %q", run.Status, model.RunStatusFailed)
		}
		if run.ErrorMessage == "" {
			t.Error("ErrorMessageが空です")
		}
	}

	if f.metrics.fetchFail != 1 {
		t.Errorf("fetchFail = %d, want 1", f.metrics.fetchFail)
	}
	// 失敗も通知される
	if len(f.notifier.notified) != 1 {
		t.Errorf("通知回数 = %d, want 1", len(f.notifier.notified))
	}
}

func TestRunDay_AlreadyRunning_ReturnsIngestRunningError(t *testing.T) {
	f := newFixture(nil, nil, nil)
	f.runRepo.runs["existing"] = &model.IngestRun{
		ID:     "existing",
		Day:    testDay(),
		Status: model.RunStatusRunning,
	}

	err := f.ingester.RunDay(context.Background(), testDay())
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorを期待しましたが %T が返りました", err)
	}
	if apiErr.Code != model.ErrCodeIngestRunning {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeIngestRunning)
	}
}

func TestRunDay_ExcludedItem_NotTrackedInLedger(t *testing.T) {
	records := []model.RawNewsRecord{
		{
			ID:        "n-1",
			Text:      profileAnchor(100, "Alice") + " loaned 3x Small First Aid Kit to " + profileAnchor(200, "Bob"),
			Timestamp: 1754010000,
		},
	}
	f := newFixture(records, nil, map[string]bool{"Small First Aid Kit": true})

	if err := f.ingester.RunDay(context.Background(), testDay()); err != nil {
		t.Fatalf("RunDay returned unexpected error: %v", err)
	}

	// 除外アイテムは台帳に載らないが、日次ログには記録される
	if got := f.ledgerRepo.ledger.Outstanding(200, "Small First Aid Kit"); got != 0 {
		t.Errorf("Outstanding = %d, want 0（除外アイテム）", got)
	}
	stored := f.dailyRepo.stored["2025-08-01"]
	if stored == nil {
		t.Fatal("日次ログが保存されていません")
	}
	if len(stored.Log[200].LoanedReceive["Small First Aid Kit"]) != 1 {
		t.Error("除外アイテムが日次ログに記録されていません")
	}
}

func TestRunDay_Reingest_ReplacesDailyLog(t *testing.T) {
	records := []model.RawNewsRecord{
		{
			ID:        "n-1",
			Text:      profileAnchor(100, "Alice") + " deposited 1 x Katana",
			Timestamp: 1754008000,
		},
	}
	f := newFixture(records, nil, nil)

	if err := f.ingester.RunDay(context.Background(), testDay()); err != nil {
		t.Fatalf("1回目のRunDayに失敗: %v", err)
	}

	// 2回目は同じIDのレコードなので監査保存は増えない
	if err := f.ingester.RunDay(context.Background(), testDay()); err != nil {
		t.Fatalf("2回目のRunDayに失敗: %v", err)
	}

	if len(f.newsRepo.records) != 1 {
		t.Errorf("監査レコード数 = %d, want 1（重複挿入なし）", len(f.newsRepo.records))
	}
	if len(f.runRepo.runs) != 2 {
		t.Errorf("実行記録数 = %d, want 2", len(f.runRepo.runs))
	}
}
