package model

import (
	"encoding/json"
	"fmt"
)

// LogEntry はDailyLogの1エントリを表す。
// JSON上は元データ互換のタプル形式 [quantity, timestamp] または
// [quantity, timestamp, counterparty] にシリアライズされる。
type LogEntry struct {
	Quantity     int
	Timestamp    int64
	Counterparty int64 // 0は相手方なし（2要素タプルになる）
}

// MarshalJSON はタプル形式でシリアライズする。
func (e LogEntry) MarshalJSON() ([]byte, error) {
	if e.Counterparty != 0 {
		return json.Marshal([3]int64{int64(e.Quantity), e.Timestamp, e.Counterparty})
	}
	return json.Marshal([2]int64{int64(e.Quantity), e.Timestamp})
}

// UnmarshalJSON はタプル形式からデシリアライズする。
// 2要素または3要素の数値配列のみを受け付ける。
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var tuple []int64
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("ログエントリのタプルのパースに失敗しました: %w", err)
	}
	if len(tuple) < 2 || len(tuple) > 3 {
		return fmt.Errorf("ログエントリのタプル長が不正です: %d", len(tuple))
	}
	e.Quantity = int(tuple[0])
	e.Timestamp = tuple[1]
	e.Counterparty = 0
	if len(tuple) == 3 {
		e.Counterparty = tuple[2]
	}
	return nil
}

// CategoryLog はアイテム名からエントリ列への対応。エントリ列は挿入順（時系列昇順）。
type CategoryLog map[string][]LogEntry

// UserDayLog は1ユーザーの1日分のカテゴリ別集計バケット。
// 全カテゴリのサブマップはバケット生成時に必ず初期化される。
type UserDayLog struct {
	Deposited     CategoryLog `json:"deposited"`
	Used          CategoryLog `json:"used"`
	Filled        CategoryLog `json:"filled"`
	Loaned        CategoryLog `json:"loaned"`
	LoanedReceive CategoryLog `json:"loaned_receive"`
	Returned      CategoryLog `json:"returned"`
	Retrieved     CategoryLog `json:"retrieved"`
	Given         CategoryLog `json:"given"`
}

// NewUserDayLog は全カテゴリのサブマップを初期化したUserDayLogを生成する。
func NewUserDayLog() *UserDayLog {
	return &UserDayLog{
		Deposited:     make(CategoryLog),
		Used:          make(CategoryLog),
		Filled:        make(CategoryLog),
		Loaned:        make(CategoryLog),
		LoanedReceive: make(CategoryLog),
		Returned:      make(CategoryLog),
		Retrieved:     make(CategoryLog),
		Given:         make(CategoryLog),
	}
}

// Bucket は指定カテゴリのサブマップを返す。未知のカテゴリはnilを返す。
func (u *UserDayLog) Bucket(cat EventCategory) CategoryLog {
	switch cat {
	case CategoryDeposited:
		return u.Deposited
	case CategoryUsed:
		return u.Used
	case CategoryFilled:
		return u.Filled
	case CategoryLoaned:
		return u.Loaned
	case CategoryLoanedReceive:
		return u.LoanedReceive
	case CategoryReturned:
		return u.Returned
	case CategoryRetrieved:
		return u.Retrieved
	case CategoryGiven:
		return u.Given
	default:
		return nil
	}
}

// DailyLog はユーザーIDから1日分の集計バケットへの対応。
// 1回の処理ウィンドウ（UTC暦日）につき1インスタンスを生成し、
// 生成した実行以外からは変更しない（月次マージは純粋な連結のみ）。
type DailyLog map[int64]*UserDayLog

// User は指定ユーザーのバケットを返す。存在しない場合は生成する。
func (d DailyLog) User(uid int64) *UserDayLog {
	u, ok := d[uid]
	if !ok {
		u = NewUserDayLog()
		d[uid] = u
	}
	return u
}
