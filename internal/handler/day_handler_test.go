package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/armorylog/internal/middleware"
	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/repository"
)

func dayRouterForTest(repo *mockDailyRepo) http.Handler {
	r := chi.NewRouter()
	h := NewDayHandler(repo)
	r.Get("/api/days/{date}", h.GetDay)
	r.Get("/api/months/{month}", h.GetMonth)
	return r
}

func storedDayForTest(day time.Time) *repository.StoredDay {
	log := make(model.DailyLog)
	log.User(100).Deposited["Katana"] = []model.LogEntry{
		{Quantity: 2, Timestamp: day.Unix() + 3600},
	}
	return &repository.StoredDay{
		Day:         day,
		Log:         log,
		WindowFrom:  day.Unix(),
		WindowTo:    day.Unix() + 86400,
		GeneratedAt: day.Add(25 * time.Hour),
	}
}

func TestGetDay_ReturnsStoredLog(t *testing.T) {
	repo := newMockDailyRepo()
	day := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	repo.Upsert(context.Background(), storedDayForTest(day))

	rr := httptest.NewRecorder()
	dayRouterForTest(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/days/2025-08-01", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp dayResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗しました: %v", err)
	}
	if resp.Day != "2025-08-01" {
		t.Errorf("Day = %s, want 2025-08-01", resp.Day)
	}
	if resp.WindowFrom != day.Unix() {
		t.Errorf("WindowFrom = %d, want %d", resp.WindowFrom, day.Unix())
	}
	entries := resp.Log[100].Deposited["Katana"]
	if len(entries) != 1 || entries[0].Quantity != 2 {
		t.Errorf("日次ログのエントリが期待と異なります: %+v", entries)
	}
}

func TestGetDay_TupleFormatInResponse(t *testing.T) {
	repo := newMockDailyRepo()
	day := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	repo.Upsert(context.Background(), storedDayForTest(day))

	rr := httptest.NewRecorder()
	dayRouterForTest(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/days/2025-08-01", nil))

	// エントリはタプル形式の数値配列としてシリアライズされる
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗しました: %v", err)
	}
	var log map[string]map[string]map[string][][]int64
	if err := json.Unmarshal(raw["log"], &log); err != nil {
		t.Fatalf("日次ログがタプル形式ではありません: %v", err)
	}
	tuple := log["100"]["deposited"]["Katana"][0]
	if len(tuple) != 2 || tuple[0] != 2 {
		t.Errorf("タプル = %v, want [2, ts]", tuple)
	}
}

func TestGetDay_NotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	dayRouterForTest(newMockDailyRepo()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/days/2025-08-01", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("ステータスコード = %d, want %d", rr.Code, http.StatusNotFound)
	}

	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗しました: %v", err)
	}
	if body.Code != model.ErrCodeDayNotFound {
		t.Errorf("Code = %s, want %s", body.Code, model.ErrCodeDayNotFound)
	}
}

func TestGetDay_InvalidDate(t *testing.T) {
	rr := httptest.NewRecorder()
	dayRouterForTest(newMockDailyRepo()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/days/08-01-2025", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("ステータスコード = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗しました: %v", err)
	}
	if body.Code != model.ErrCodeInvalidDate {
		t.Errorf("Code = %s, want %s", body.Code, model.ErrCodeInvalidDate)
	}
}

func TestGetDay_RepositoryError(t *testing.T) {
	repo := newMockDailyRepo()
	repo.err = errDatabase

	rr := httptest.NewRecorder()
	dayRouterForTest(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/days/2025-08-01", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("ステータスコード = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestGetMonth_MergesAllDays(t *testing.T) {
	repo := newMockDailyRepo()
	// 2025年2月（28日）の全日を登録する
	first := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	for d := first; d.Month() == time.February; d = d.AddDate(0, 0, 1) {
		repo.Upsert(context.Background(), storedDayForTest(d))
	}

	rr := httptest.NewRecorder()
	dayRouterForTest(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/months/2025-02", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp monthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗しました: %v", err)
	}
	if resp.Days != 28 {
		t.Errorf("Days = %d, want 28", resp.Days)
	}
	// 各日1エントリが連結されて28エントリになる
	entries := resp.Log[100].Deposited["Katana"]
	if len(entries) != 28 {
		t.Errorf("マージ後のエントリ数 = %d, want 28", len(entries))
	}
}

func TestGetMonth_IncompleteMonth(t *testing.T) {
	repo := newMockDailyRepo()
	// 1日分だけ登録する
	repo.Upsert(context.Background(), storedDayForTest(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)))

	rr := httptest.NewRecorder()
	dayRouterForTest(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/months/2025-08", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("ステータスコード = %d, want %d", rr.Code, http.StatusNotFound)
	}

	var body middleware.ErrorResponseBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスボディのパースに失敗しました: %v", err)
	}
	if body.Code != model.ErrCodeMonthIncomplete {
		t.Errorf("Code = %s, want %s", body.Code, model.ErrCodeMonthIncomplete)
	}
}

func TestGetMonth_InvalidMonth(t *testing.T) {
	rr := httptest.NewRecorder()
	dayRouterForTest(newMockDailyRepo()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/months/202508", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("ステータスコード = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
