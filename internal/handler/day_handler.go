// Package handler は兵器庫ログAPIのHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/armorylog/internal/armory"
	"github.com/hitoshi/armorylog/internal/middleware"
	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/repository"
)

// DayHandler は日次ログ・月次集計のHTTPハンドラー。
type DayHandler struct {
	dailyRepo repository.DailyLogRepository
}

// NewDayHandler はDayHandlerを生成する。
func NewDayHandler(dailyRepo repository.DailyLogRepository) *DayHandler {
	return &DayHandler{dailyRepo: dailyRepo}
}

// dayResponse は日次ログのレスポンス。
type dayResponse struct {
	Day         string         `json:"day"`
	WindowFrom  int64          `json:"window_from"`
	WindowTo    int64          `json:"window_to"`
	GeneratedAt time.Time      `json:"generated_at"`
	Log         model.DailyLog `json:"log"`
}

// monthResponse は月次集計のレスポンス。
type monthResponse struct {
	Month string         `json:"month"`
	Days  int            `json:"days"`
	Log   model.DailyLog `json:"log"`
}

// GetDay は指定UTC暦日の日次ログを取得する。
// GET /api/days/{date}
func (h *DayHandler) GetDay(w http.ResponseWriter, r *http.Request) {
	dateStr := chi.URLParam(r, "date")
	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDateError(dateStr))
		return
	}

	stored, err := h.dailyRepo.FindByDay(r.Context(), day.UTC())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if stored == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewDayNotFoundError(dateStr))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dayResponse{
		Day:         stored.Day.Format("2006-01-02"),
		WindowFrom:  stored.WindowFrom,
		WindowTo:    stored.WindowTo,
		GeneratedAt: stored.GeneratedAt,
		Log:         stored.Log,
	})
}

// GetMonth は指定年月の全日次ログをマージした月次集計を取得する。
// 暦日がすべて揃っていない月は404を返す。
// GET /api/months/{month}
func (h *DayHandler) GetMonth(w http.ResponseWriter, r *http.Request) {
	monthStr := chi.URLParam(r, "month")
	first, err := time.Parse("2006-01", monthStr)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidMonthError(monthStr))
		return
	}

	stored, err := h.dailyRepo.ListByMonth(r.Context(), first.Year(), first.Month())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// 月の暦日数と比較して欠損日を検出する
	daysInMonth := first.AddDate(0, 1, -1).Day()
	if len(stored) < daysInMonth {
		missing := daysInMonth - len(stored)
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewMonthIncompleteError(monthStr, missing))
		return
	}

	logs := make([]model.DailyLog, 0, len(stored))
	for _, s := range stored {
		logs = append(logs, s.Log)
	}
	merged := armory.MergeMonth(logs)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(monthResponse{
		Month: monthStr,
		Days:  len(stored),
		Log:   merged,
	})
}

// handleServiceError はハンドラー内部で発生したエラーを
// 統一エラーフォーマットのHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("内部エラーが発生しました", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidDate, model.ErrCodeInvalidMonth:
		return http.StatusBadRequest
	case model.ErrCodeDayNotFound, model.ErrCodeMonthIncomplete, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeIngestRunning:
		return http.StatusConflict
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
