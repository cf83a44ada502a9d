package model

import "time"

// RunStatus は取り込み実行の状態を表す。
type RunStatus string

const (
	// RunStatusRunning は実行中の取り込み。
	RunStatusRunning RunStatus = "running"
	// RunStatusSucceeded は正常終了した取り込み。
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed は失敗した取り込み。
	RunStatusFailed RunStatus = "failed"
)

// IngestRun は1日分の取り込み実行の記録を表す。
type IngestRun struct {
	ID           string
	Day          time.Time // 対象のUTC暦日（00:00:00Z）
	Status       RunStatus
	NewsCount    int
	EventCount   int
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}
