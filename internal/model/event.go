// Package model はドメインモデルを定義する。
package model

// RawNewsRecord はフェッチした兵器庫ニュース1件の生レコードを表す。
// TextはHTMLマークアップ（XID=付きアンカー）を含むことがある。
type RawNewsRecord struct {
	ID        string
	Text      string
	Timestamp int64
}

// EventCategory は兵器庫アクションの分類カテゴリを表す。
// カテゴリはイベントごとに排他であり、分類器は必ず1つだけを選択する。
type EventCategory string

const (
	// CategoryDeposited はアイテムの寄贈。
	CategoryDeposited EventCategory = "deposited"
	// CategoryUsed はファクション所有アイテムの使用。
	CategoryUsed EventCategory = "used"
	// CategoryFilled はファクション所有アイテムの補充。
	CategoryFilled EventCategory = "filled"
	// CategoryLoaned は自分自身への貸出（未返却債務としては追跡しない）。
	CategoryLoaned EventCategory = "loaned"
	// CategoryLoanedReceive は他者からの貸出の受領。受領者に帰属する。
	CategoryLoanedReceive EventCategory = "loaned_receive"
	// CategoryReturned は貸出アイテムの返却。
	CategoryReturned EventCategory = "returned"
	// CategoryRetrieved は管理者による貸出アイテムの回収。回収された側に帰属する。
	CategoryRetrieved EventCategory = "retrieved"
	// CategoryGiven はアイテムの譲渡。受領者に帰属する。
	CategoryGiven EventCategory = "given"
)

// Categories は全カテゴリの固定リスト。DailyLogのバケット生成順序を定める。
var Categories = []EventCategory{
	CategoryDeposited,
	CategoryUsed,
	CategoryFilled,
	CategoryLoaned,
	CategoryLoanedReceive,
	CategoryReturned,
	CategoryRetrieved,
	CategoryGiven,
}

// ArmoryEvent はニューステキストから抽出した構造化イベントを表す。
//
// Actorはイベントの帰属先ユーザー。帰属規則はカテゴリごとに異なる:
// Deposited/Used/Filled/Loaned/Returnedは文中の先頭XID、
// LoanedReceive/Retrieved/Givenは2番目のXID（先頭XIDはCounterpartyに記録）。
type ArmoryEvent struct {
	Category     EventCategory
	Actor        int64
	ActorName    string // アンカーテキストから抽出した表示名（取れない場合は空）
	Counterparty int64  // 行為を開始した相手方のユーザーID。0は相手方なし。
	Item         string
	Quantity     int
	Timestamp    int64
}
