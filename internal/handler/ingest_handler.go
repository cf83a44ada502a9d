package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/armorylog/internal/middleware"
	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/repository"
)

// defaultRunsLimit は実行記録一覧の1回の取得件数（デフォルト）。
const defaultRunsLimit = 20

// DayIngester は1日分の取り込みを実行するインターフェース。
type DayIngester interface {
	// RunDay は指定UTC暦日の取り込みを実行する。
	RunDay(ctx context.Context, day time.Time) error
}

// IngestHandler は取り込みの手動実行と実行記録のHTTPハンドラー。
type IngestHandler struct {
	ingester DayIngester
	runRepo  repository.IngestRunRepository
}

// NewIngestHandler はIngestHandlerを生成する。
func NewIngestHandler(ingester DayIngester, runRepo repository.IngestRunRepository) *IngestHandler {
	return &IngestHandler{
		ingester: ingester,
		runRepo:  runRepo,
	}
}

// runResponse は取り込み実行記録のレスポンス。
type runResponse struct {
	ID           string     `json:"id"`
	Day          string     `json:"day"`
	Status       string     `json:"status"`
	NewsCount    int        `json:"news_count"`
	EventCount   int        `json:"event_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func newRunResponse(run *model.IngestRun) runResponse {
	return runResponse{
		ID:           run.ID,
		Day:          run.Day.Format("2006-01-02"),
		Status:       string(run.Status),
		NewsCount:    run.NewsCount,
		EventCount:   run.EventCount,
		ErrorMessage: run.ErrorMessage,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
}

// TriggerIngest は指定UTC暦日の取り込みを実行する。
// 同じ日の取り込みが実行中の場合は409を返す。
// POST /api/days/{date}/ingest
func (h *IngestHandler) TriggerIngest(w http.ResponseWriter, r *http.Request) {
	dateStr := chi.URLParam(r, "date")
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(dateStr))
		return
	}

	if err := h.ingester.RunDay(r.Context(), day.UTC()); err != nil {
		handleServiceError(w, err)
		return
	}

	run, err := h.runRepo.LatestByDay(r.Context(), day.UTC())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if run != nil {
		json.NewEncoder(w).Encode(newRunResponse(run))
	}
}

// ListRuns は取り込み実行記録を開始時刻の新しい順に取得する。
// GET /api/runs
func (h *IngestHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runRepo.ListRecent(r.Context(), defaultRunsLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, newRunResponse(run))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
