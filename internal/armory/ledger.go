package armory

import (
	"github.com/hitoshi/armorylog/internal/model"
)

// ApplyToLedger は分類済みイベント列を貸出台帳に畳み込む。
// ledgerはインプレースで変更される。イベントはタイムスタンプ昇順に
// ソート済みであること（SortEvents参照）。
//
// カテゴリ別の効果:
//   - LoanedReceive: 未返却バッチを追加する（除外アイテムを除く）。
//   - Returned / Retrieved: 未返却バッチをFIFOで消費し、履歴に記録する。
//   - Loaned（自己貸出）: 他者への貸出のみが債務を生むため、台帳には影響しない。
//   - その他のカテゴリ: 台帳には影響しない。
//
// excludedに含まれるアイテムはcurrentを一切変更しないが、
// Returned/Retrievedの履歴記録は常に行われる。
func ApplyToLedger(ledger *model.LoanLedger, events []model.ArmoryEvent, excluded map[string]bool) LedgerStats {
	var stats LedgerStats
	for _, ev := range events {
		switch ev.Category {
		case model.CategoryLoanedReceive:
			if excluded[ev.Item] {
				continue
			}
			ledger.AppendCurrent(ev.Actor, ev.Item, model.LoanBatch{
				Quantity:  ev.Quantity,
				GrantedAt: ev.Timestamp,
				GrantorID: ev.Counterparty,
			})
			stats.BatchesOpened++
		case model.CategoryReturned, model.CategoryRetrieved:
			closed, unmatched := resolve(ledger, ev, excluded[ev.Item])
			stats.BatchesClosed += closed
			stats.UnmatchedResolutions += unmatched
		}
	}
	return stats
}

// LedgerStats はApplyToLedgerによる台帳の変化量。メトリクス送出に使う。
type LedgerStats struct {
	// BatchesOpened は新規に開かれた未返却バッチ数。
	BatchesOpened int
	// BatchesClosed は完全に消化された未返却バッチ数。
	BatchesClosed int
	// UnmatchedResolutions は対応する貸出が見つからなかった解消イベント数。
	UnmatchedResolutions int
}

// resolve は返却・回収イベント1件を台帳に反映する。
//
// currentの先頭（最古）バッチから要求数量を消費していく。先頭バッチの数量が
// 残量を上回る場合はその場で減算して終了し、下回る場合はバッチを取り除いて
// 残量を次のバッチへ繰り越す。消費した（部分）バッチごとに、消費量・貸出時刻・
// 解消時刻・相手方を結合した履歴レコードを追記する。
//
// 追跡中の数量を超える解消（上流の管理上の訂正を反映する）はエラーとせず、
// 消費しきれなかった残量を貸出時刻0の未対応レコードとして履歴に残す。
// 除外アイテムはcurrentを変更せず、要求数量全体を1レコードとして履歴に残す。
// 戻り値は完全消化したバッチ数と、未対応レコードを残したかどうか（0 or 1）。
func resolve(ledger *model.LoanLedger, ev model.ArmoryEvent, excluded bool) (closed, unmatched int) {
	remaining := ev.Quantity

	if !excluded {
		batches := ledger.Current[ev.Actor][ev.Item]
		for remaining > 0 && len(batches) > 0 {
			head := &batches[0]
			consumed := head.Quantity
			if consumed > remaining {
				consumed = remaining
			}

			ledger.AppendHistory(ev.Actor, ev.Item, model.HistoryRecord{
				Quantity:     consumed,
				GrantedAt:    head.GrantedAt,
				ResolvedAt:   ev.Timestamp,
				Counterparty: ev.Counterparty,
			})

			remaining -= consumed
			head.Quantity -= consumed
			if head.Quantity == 0 {
				batches = batches[1:]
				closed++
			}
		}

		if len(batches) == 0 {
			// 空になった配列は残さない
			ledger.RemoveCurrentItem(ev.Actor, ev.Item)
		} else {
			ledger.Current[ev.Actor][ev.Item] = batches
		}
	}

	// 未追跡分（除外アイテムの全量を含む）も履歴には必ず残す
	if remaining > 0 {
		ledger.AppendHistory(ev.Actor, ev.Item, model.HistoryRecord{
			Quantity:     remaining,
			GrantedAt:    0,
			ResolvedAt:   ev.Timestamp,
			Counterparty: ev.Counterparty,
		})
		unmatched++
	}

	return closed, unmatched
}
