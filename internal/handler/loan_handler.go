package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/armorylog/internal/middleware"
	"github.com/hitoshi/armorylog/internal/model"
	"github.com/hitoshi/armorylog/internal/repository"
)

// LoanHandler は貸出台帳のHTTPハンドラー。
type LoanHandler struct {
	ledgerRepo repository.LedgerRepository
}

// NewLoanHandler はLoanHandlerを生成する。
func NewLoanHandler(ledgerRepo repository.LedgerRepository) *LoanHandler {
	return &LoanHandler{ledgerRepo: ledgerRepo}
}

// loansResponse は全ユーザーの未返却バッチのレスポンス。
type loansResponse struct {
	Current map[int64]map[string][]model.LoanBatch `json:"current"`
}

// userLoansResponse は1ユーザーの未返却バッチと解消済み履歴のレスポンス。
type userLoansResponse struct {
	UserID  int64                            `json:"user_id"`
	Current map[string][]model.LoanBatch     `json:"current"`
	History map[string][]model.HistoryRecord `json:"history"`
}

// ListLoans は全ユーザーの未返却バッチを取得する。
// GET /api/loans
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.ledgerRepo.Load(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loansResponse{Current: ledger.Current})
}

// GetUserLoans は指定ユーザーの未返却バッチと解消済み履歴を取得する。
// GET /api/loans/{userID}
func (h *LoanHandler) GetUserLoans(w http.ResponseWriter, r *http.Request) {
	uidStr := chi.URLParam(r, "userID")
	uid, err := strconv.ParseInt(uidStr, 10, 64)
	if err != nil || uid <= 0 {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(uidStr))
		return
	}

	ledger, err := h.ledgerRepo.Load(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	current, hasCurrent := ledger.Current[uid]
	history, hasHistory := ledger.History[uid]
	if !hasCurrent && !hasHistory {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError(uidStr))
		return
	}

	// 片方しか存在しないユーザーでも空マップを返す
	if current == nil {
		current = make(map[string][]model.LoanBatch)
	}
	if history == nil {
		history = make(map[string][]model.HistoryRecord)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(userLoansResponse{
		UserID:  uid,
		Current: current,
		History: history,
	})
}
