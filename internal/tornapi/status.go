package tornapi

import "fmt"

// Torn APIのエラーコード（エラーエンベロープのerror.code）。
const (
	// errCodeKeyEmpty はキー未指定。
	errCodeKeyEmpty = 1
	// errCodeKeyIncorrect はキー不正。
	errCodeKeyIncorrect = 2
	// errCodeTooManyRequests はキーあたりのリクエスト超過。
	errCodeTooManyRequests = 5
	// errCodeKeyOwnerInactive はキー所有者の非アクティブ化。
	errCodeKeyOwnerInactive = 13
	// errCodeKeyPaused はキーの一時停止。
	errCodeKeyPaused = 18
)

// APIError はTorn APIが返すエラーエンベロープを表す。
type APIError struct {
	Code    int
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("torn api error %d: %s", e.Code, e.Message)
}

// Retryable はこのエラーが時間をおいて再試行する価値があるかを返す。
// スロットリング（コード5）は再試行可能、キー起因のエラーは再試行しても
// 解消しないため不可。
func (e *APIError) Retryable() bool {
	switch e.Code {
	case errCodeTooManyRequests:
		return true
	case errCodeKeyEmpty, errCodeKeyIncorrect, errCodeKeyOwnerInactive, errCodeKeyPaused:
		return false
	default:
		return false
	}
}

// RetryableHTTPStatus はHTTPステータスコードが再試行に値するかを分類する。
// 429と5xxは一時的な失敗として扱う。
func RetryableHTTPStatus(statusCode int) bool {
	return statusCode == 429 || statusCode >= 500
}

// HTTPStatusError はTorn APIが返した非200のHTTPステータスを表す。
type HTTPStatusError struct {
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("Torn APIがステータス %d を返しました", e.StatusCode)
}

// Retryable はこのステータスが一時的な失敗かどうかを返す。
func (e *HTTPStatusError) Retryable() bool {
	return RetryableHTTPStatus(e.StatusCode)
}
