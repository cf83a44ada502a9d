package armory

import (
	"sort"

	"github.com/hitoshi/armorylog/internal/model"
)

// SortEvents はイベント列をタイムスタンプ昇順に安定ソートする。
// 上流フィードは新しい順にページングされるため、日次ログの挿入順と
// 台帳のFIFO消費の正しさはこのソートを前提とする。
// BuildDailyLogとApplyToLedgerの呼び出し前に必ず適用すること。
func SortEvents(events []model.ArmoryEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
}

// BuildDailyLog は分類済みイベント列から日次集計ログを構築する。純粋関数。
// イベントはカテゴリごとの帰属先ユーザーのバケットに挿入順で追記される。
func BuildDailyLog(events []model.ArmoryEvent) model.DailyLog {
	log := make(model.DailyLog)
	for _, ev := range events {
		bucket := log.User(ev.Actor).Bucket(ev.Category)
		if bucket == nil {
			// 未知のカテゴリは無視する
			continue
		}
		bucket[ev.Item] = append(bucket[ev.Item], model.LogEntry{
			Quantity:     ev.Quantity,
			Timestamp:    ev.Timestamp,
			Counterparty: ev.Counterparty,
		})
	}
	return log
}

// MergeMonth は複数日の日次ログを1つに連結する。純粋関数。
// ユーザー・カテゴリ・アイテムごとのエントリ列を入力順に連結するのみで、
// 台帳のような照合・減算は一切行わない。
func MergeMonth(days []model.DailyLog) model.DailyLog {
	merged := make(model.DailyLog)
	for _, day := range days {
		for uid, userLog := range day {
			target := merged.User(uid)
			for _, cat := range model.Categories {
				src := userLog.Bucket(cat)
				dst := target.Bucket(cat)
				for item, entries := range src {
					dst[item] = append(dst[item], entries...)
				}
			}
		}
	}
	return merged
}
