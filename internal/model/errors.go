package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, armory, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidDate     = "INVALID_DATE"
	ErrCodeInvalidMonth    = "INVALID_MONTH"
	ErrCodeDayNotFound     = "DAY_NOT_FOUND"
	ErrCodeMonthIncomplete = "MONTH_INCOMPLETE"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeIngestRunning   = "INGEST_RUNNING"
	ErrCodeFetchFailed     = "FETCH_FAILED"
)

// NewInvalidDateError は無効な日付指定エラーを生成する。
func NewInvalidDateError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDate,
		Message:  fmt.Sprintf("無効な日付です: %s", date),
		Category: "validation",
		Action:   "日付はYYYY-MM-DD形式（UTC）で指定してください。",
	}
}

// NewInvalidMonthError は無効な月指定エラーを生成する。
func NewInvalidMonthError(month string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMonth,
		Message:  fmt.Sprintf("無効な月です: %s", month),
		Category: "validation",
		Action:   "月はYYYY-MM形式で指定してください。",
	}
}

// NewDayNotFoundError は日次ログ未登録エラーを生成する。
func NewDayNotFoundError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeDayNotFound,
		Message:  fmt.Sprintf("指定日の日次ログが見つかりません: %s", date),
		Category: "armory",
		Action:   "対象日の取り込みが完了しているか確認してください。",
	}
}

// NewMonthIncompleteError は月次集計に必要な日次ログが揃っていない場合のエラーを生成する。
func NewMonthIncompleteError(month string, missing int) *APIError {
	return &APIError{
		Code:     ErrCodeMonthIncomplete,
		Message:  fmt.Sprintf("月次集計に必要な日次ログが%d日分不足しています: %s", missing, month),
		Category: "armory",
		Action:   "不足日の取り込みを実行してから再度お試しください。",
	}
}

// NewUserNotFoundError は台帳にユーザーが存在しない場合のエラーを生成する。
func NewUserNotFoundError(uid string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定ユーザーの貸出記録が見つかりません: %s", uid),
		Category: "armory",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewIngestRunningError は取り込みの多重起動エラーを生成する。
func NewIngestRunningError(date string) *APIError {
	return &APIError{
		Code:     ErrCodeIngestRunning,
		Message:  fmt.Sprintf("指定日の取り込みは既に実行中です: %s", date),
		Category: "armory",
		Action:   "実行中の取り込みが完了するまでお待ちください。",
	}
}

// NewFetchFailedError はニュースフェッチ失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("兵器庫ニュースの取得に失敗しました: %s", reason),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
