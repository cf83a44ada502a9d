// Package armory は兵器庫ニューステキストの分類と台帳照合のコアロジックを提供する。
// フリーテキストの通知文から構造化イベントを抽出する分類器、
// 日次集計ログのビルダー、貸出台帳のFIFO照合を含む。
package armory

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/armorylog/internal/model"
)

// xidPattern はニューステキスト中のユーザー識別トークンを抽出するパターン。
// トークンは文中の出現順に並び、先頭が行為者、2番目（存在する場合）が相手方。
var xidPattern = regexp.MustCompile(`XID=(\d+)`)

// カテゴリ別の抽出パターン。アイテム名の捕捉は [^<] で埋め込みマークアップを除外する。
var (
	usedItemPattern     = regexp.MustCompile(`used one of the faction's ([^<]+?) items`)
	filledItemPattern   = regexp.MustCompile(`filled one of the faction's ([^<]+?) items`)
	depositedPattern    = regexp.MustCompile(`deposited (\d+) x ([^<]+)$`)
	loanedPattern       = regexp.MustCompile(`loaned (\d+)x ([^<]+?) to `)
	returnedPattern     = regexp.MustCompile(`returned (\d+)x ([^<]+?)(?: to |$)`)
	retrievedPattern    = regexp.MustCompile(`retrieved (\d+)x ([^<]+?) from `)
	gavePattern         = regexp.MustCompile(`gave (\d+)x ([^<]+?)(?: to |$)`)
	bareQuantityPattern = regexp.MustCompile(`(\d+)x ([^<]+?)(?: to | from |$)`)
)

// extraction は抽出パターンの適用結果。okがfalseの場合レコードは破棄される。
type extraction struct {
	item     string
	quantity int
	ok       bool
}

// attribution はイベントの帰属規則。
type attribution int

const (
	// attributeFirst は先頭XIDを帰属先とする（相手方なし）。
	attributeFirst attribution = iota
	// attributeSecond は2番目のXIDを帰属先とし、先頭XIDを相手方として記録する。
	// XIDが1つしかない場合は先頭XIDに帰属する。
	attributeSecond
)

// rule は1カテゴリ分の分類規則。
// matchが成立した最初の規則が採用され、以降の規則は評価されない。
type rule struct {
	category  model.EventCategory
	match     func(text string) bool
	extract   func(text string) extraction
	attribute attribution
}

// rules は優先順位順の分類規則表。
// "loaned"と"to themselves"は同一文に共起するため、複合条件の自己貸出を
// 一般の貸出より先に評価しなければならない。
var rules = []rule{
	{
		category:  model.CategoryUsed,
		match:     func(t string) bool { return strings.Contains(t, "used one of") },
		extract:   extractFixedQuantity(usedItemPattern),
		attribute: attributeFirst,
	},
	{
		category:  model.CategoryFilled,
		match:     func(t string) bool { return strings.Contains(t, "filled one of") },
		extract:   extractFixedQuantity(filledItemPattern),
		attribute: attributeFirst,
	},
	{
		category:  model.CategoryDeposited,
		match:     func(t string) bool { return strings.Contains(t, "deposited") },
		extract:   extractQuantityItem(depositedPattern),
		attribute: attributeFirst,
	},
	{
		category: model.CategoryLoaned,
		match: func(t string) bool {
			return strings.Contains(t, "loaned") && strings.Contains(t, "to themselves")
		},
		extract:   extractQuantityItem(loanedPattern),
		attribute: attributeFirst,
	},
	{
		category:  model.CategoryLoanedReceive,
		match:     func(t string) bool { return strings.Contains(t, "loaned") },
		extract:   extractQuantityItem(loanedPattern),
		attribute: attributeSecond,
	},
	{
		category:  model.CategoryReturned,
		match:     func(t string) bool { return strings.Contains(t, "returned") },
		extract:   extractWithFallback(returnedPattern, bareQuantityPattern),
		attribute: attributeFirst,
	},
	{
		category:  model.CategoryRetrieved,
		match:     func(t string) bool { return strings.Contains(t, "retrieved") },
		extract:   extractQuantityItem(retrievedPattern),
		attribute: attributeSecond,
	},
	{
		category:  model.CategoryGiven,
		match:     func(t string) bool { return strings.Contains(t, "gave") },
		extract:   extractWithFallback(gavePattern, bareQuantityPattern),
		attribute: attributeSecond,
	},
}

// ExtractUserIDs はテキスト中のXIDトークンを出現順に抽出する。
// 重複は保持する（位置参照で行為者・相手方を決定するため）。
func ExtractUserIDs(text string) []int64 {
	matches := xidPattern.FindAllStringSubmatch(text, -1)
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Classify は1件の通知テキストを構造化イベントに分類する。
// XIDトークンが1つも無いテキスト、どの規則にも一致しないテキスト、
// キーワードは含むが抽出パターンが成立しないテキストはすべて分類不能として
// falseを返す（エラーにはしない）。
func Classify(text string, timestamp int64) (model.ArmoryEvent, bool) {
	users := ExtractUserIDs(text)
	if len(users) == 0 {
		return model.ArmoryEvent{}, false
	}

	for _, r := range rules {
		if !r.match(text) {
			continue
		}
		ex := r.extract(text)
		if !ex.ok {
			// キーワード一致のみで構造抽出に失敗したレコードは破棄する
			return model.ArmoryEvent{}, false
		}

		ev := model.ArmoryEvent{
			Category:  r.category,
			Item:      ex.item,
			Quantity:  ex.quantity,
			Timestamp: timestamp,
		}

		switch r.attribute {
		case attributeSecond:
			if len(users) >= 2 {
				ev.Actor = users[1]
				ev.Counterparty = users[0]
			} else {
				// 相手方XIDを欠く文は行為者自身に帰属させる
				ev.Actor = users[0]
				if r.category == model.CategoryLoanedReceive {
					// 自己貸出のフォールバック: 受領者 = 行為者
					ev.Category = model.CategoryLoaned
				} else {
					ev.Counterparty = users[0]
				}
			}
		default:
			ev.Actor = users[0]
		}

		return ev, true
	}

	return model.ArmoryEvent{}, false
}

// extractFixedQuantity は数量固定1のカテゴリ（used/filled）用の抽出関数を返す。
func extractFixedQuantity(pattern *regexp.Regexp) func(string) extraction {
	return func(text string) extraction {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			return extraction{}
		}
		item := CleanItemName(m[1])
		if item == "" {
			return extraction{}
		}
		return extraction{item: item, quantity: 1, ok: true}
	}
}

// extractQuantityItem は "<N>x <item>" 形式のカテゴリ用の抽出関数を返す。
func extractQuantityItem(pattern *regexp.Regexp) func(string) extraction {
	return func(text string) extraction {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			return extraction{}
		}
		qty, err := strconv.Atoi(m[1])
		if err != nil || qty < 1 {
			return extraction{}
		}
		item := CleanItemName(m[2])
		if item == "" {
			return extraction{}
		}
		return extraction{item: item, quantity: qty, ok: true}
	}
}

// extractWithFallback は動詞付きパターンを優先し、失敗した場合に
// 裸の "<N>x <item>" パターンを試す抽出関数を返す。
func extractWithFallback(primary, fallback *regexp.Regexp) func(string) extraction {
	pf := extractQuantityItem(primary)
	ff := extractQuantityItem(fallback)
	return func(text string) extraction {
		if ex := pf(text); ex.ok {
			return ex
		}
		return ff(text)
	}
}

// CleanItemName はアイテム名の前後空白と末尾のマークアップ断片を除去する。
// 正規化はここまでとし、アイテム名は大文字小文字を区別する不透明な文字列として扱う。
func CleanItemName(raw string) string {
	s := raw
	if i := strings.Index(s, "<"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	// "x Katana from the faction armory" のような残骸を除去する
	s = strings.TrimSuffix(s, " from the faction armory")
	s = strings.TrimSuffix(s, " from")
	return strings.TrimSpace(s)
}
