package model

import (
	"encoding/json"
	"fmt"
)

// LoanBatch は1回の貸出で生じた未返却バッチを表す。
// JSON上は [quantity, grantedAt] または [quantity, grantedAt, grantorID] の
// タプル形式にシリアライズされる。
type LoanBatch struct {
	Quantity  int
	GrantedAt int64
	GrantorID int64 // 貸出を実行したユーザーID。0は不明。
}

// MarshalJSON はタプル形式でシリアライズする。
func (b LoanBatch) MarshalJSON() ([]byte, error) {
	if b.GrantorID != 0 {
		return json.Marshal([3]int64{int64(b.Quantity), b.GrantedAt, b.GrantorID})
	}
	return json.Marshal([2]int64{int64(b.Quantity), b.GrantedAt})
}

// UnmarshalJSON はタプル形式からデシリアライズする。
func (b *LoanBatch) UnmarshalJSON(data []byte) error {
	var tuple []int64
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("貸出バッチのタプルのパースに失敗しました: %w", err)
	}
	if len(tuple) < 2 || len(tuple) > 3 {
		return fmt.Errorf("貸出バッチのタプル長が不正です: %d", len(tuple))
	}
	b.Quantity = int(tuple[0])
	b.GrantedAt = tuple[1]
	b.GrantorID = 0
	if len(tuple) == 3 {
		b.GrantorID = tuple[2]
	}
	return nil
}

// HistoryRecord は解消済み（返却・回収済み）バッチの記録を表す。
// JSON上は [quantity, grantedAt, resolvedAt, counterparty] の4要素タプル。
// GrantedAtが0のレコードは追跡外の解消（underflow）を示す。
// counterpartyは相手方不明の場合nullとなる。
type HistoryRecord struct {
	Quantity     int
	GrantedAt    int64
	ResolvedAt   int64
	Counterparty int64 // 0は相手方なし
}

// MarshalJSON はタプル形式でシリアライズする。
func (h HistoryRecord) MarshalJSON() ([]byte, error) {
	tuple := []any{h.Quantity, h.GrantedAt, h.ResolvedAt, nil}
	if h.Counterparty != 0 {
		tuple[3] = h.Counterparty
	}
	return json.Marshal(tuple)
}

// UnmarshalJSON はタプル形式からデシリアライズする。nullの相手方は0として扱う。
func (h *HistoryRecord) UnmarshalJSON(data []byte) error {
	var tuple []*int64
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("履歴レコードのタプルのパースに失敗しました: %w", err)
	}
	if len(tuple) != 4 {
		return fmt.Errorf("履歴レコードのタプル長が不正です: %d", len(tuple))
	}
	for i := 0; i < 3; i++ {
		if tuple[i] == nil {
			return fmt.Errorf("履歴レコードの第%d要素がnullです", i+1)
		}
	}
	h.Quantity = int(*tuple[0])
	h.GrantedAt = *tuple[1]
	h.ResolvedAt = *tuple[2]
	h.Counterparty = 0
	if tuple[3] != nil {
		h.Counterparty = *tuple[3]
	}
	return nil
}

// LoanLedger は貸出台帳を表す。実行をまたいで永続化され、各実行で
// ロード・変更・全体書き戻しされる。
//
// Currentはユーザー・アイテムごとの未返却バッチ列（貸出時刻昇順のFIFO）。
// Historyは解消済みバッチ列（解消順に追記のみ）。
// 不変条件: Current内のバッチ列は並べ替えられず、消費は常に先頭（最古）から行う。
type LoanLedger struct {
	Current map[int64]map[string][]LoanBatch     `json:"current"`
	History map[int64]map[string][]HistoryRecord `json:"history"`
}

// NewLoanLedger は空の貸出台帳を生成する。初回実行時の初期状態。
func NewLoanLedger() *LoanLedger {
	return &LoanLedger{
		Current: make(map[int64]map[string][]LoanBatch),
		History: make(map[int64]map[string][]HistoryRecord),
	}
}

// Outstanding は指定ユーザー・アイテムの未返却数量の合計を返す。
func (l *LoanLedger) Outstanding(uid int64, item string) int {
	total := 0
	for _, b := range l.Current[uid][item] {
		total += b.Quantity
	}
	return total
}

// AppendCurrent は未返却バッチを末尾に追加する。
func (l *LoanLedger) AppendCurrent(uid int64, item string, batch LoanBatch) {
	if l.Current[uid] == nil {
		l.Current[uid] = make(map[string][]LoanBatch)
	}
	l.Current[uid][item] = append(l.Current[uid][item], batch)
}

// AppendHistory は解消済み履歴レコードを末尾に追加する。
func (l *LoanLedger) AppendHistory(uid int64, item string, rec HistoryRecord) {
	if l.History[uid] == nil {
		l.History[uid] = make(map[string][]HistoryRecord)
	}
	l.History[uid][item] = append(l.History[uid][item], rec)
}

// RemoveCurrentItem は指定ユーザー・アイテムのバッチ列を削除し、
// ユーザーのマップが空になった場合はユーザーごと削除する。
// 空になった配列を残さないための後始末に使う。
func (l *LoanLedger) RemoveCurrentItem(uid int64, item string) {
	items, ok := l.Current[uid]
	if !ok {
		return
	}
	delete(items, item)
	if len(items) == 0 {
		delete(l.Current, uid)
	}
}
