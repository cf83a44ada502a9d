// Package notify は取り込み結果の通知を提供する。
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hitoshi/armorylog/internal/model"
)

// Notifier は取り込み実行の結果通知インターフェース。
type Notifier interface {
	// NotifyRunFinished は取り込み実行の完了（成功・失敗とも）を通知する。
	// activeUsersはその日にアクションした行為者の表示名（昇順・重複なし）。
	NotifyRunFinished(run *model.IngestRun, activeUsers []string)
}

// NopNotifier は何も通知しない実装。Telegram未設定時に使用する。
type NopNotifier struct{}

// NotifyRunFinished は何もしない。
func (NopNotifier) NotifyRunFinished(run *model.IngestRun, activeUsers []string) {}

// botSender はtgbotapi.BotAPIのうち使用するメソッドだけを切り出したもの。
// テストでスタブに差し替える。
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier はTelegramチャットへ取り込み結果を送信する。
// 通知の失敗は取り込み処理に影響させず、ログに記録するだけにとどめる。
type TelegramNotifier struct {
	bot    botSender
	chatID int64
	logger *slog.Logger
}

// NewTelegramNotifier はTelegramNotifierを生成する。
func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("Telegramボットの初期化に失敗しました: %w", err)
	}

	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

// NotifyRunFinished は取り込み実行の完了をTelegramへ送信する。
func (n *TelegramNotifier) NotifyRunFinished(run *model.IngestRun, activeUsers []string) {
	msg := tgbotapi.NewMessage(n.chatID, formatRunMessage(run, activeUsers))
	msg.ParseMode = ""

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("Telegram通知の送信に失敗しました",
			"run_id", run.ID,
			"day", run.Day.Format("2006-01-02"),
			"error", err)
		return
	}

	n.logger.Debug("Telegram通知を送信しました", "run_id", run.ID)
}

// maxNamesInMessage は通知に列挙する表示名の上限。超過分は人数だけ示す。
const maxNamesInMessage = 10

// formatRunMessage は通知メッセージ本文を組み立てる。
func formatRunMessage(run *model.IngestRun, activeUsers []string) string {
	day := run.Day.Format("2006-01-02")

	var elapsed time.Duration
	if run.FinishedAt != nil {
		elapsed = run.FinishedAt.Sub(run.StartedAt).Round(time.Second)
	}

	if run.Status == model.RunStatusFailed {
		return fmt.Sprintf("❌ %s の取り込みに失敗しました\n%s", day, run.ErrorMessage)
	}

	msg := fmt.Sprintf("✅ %s の取り込みが完了しました\nニュース: %d件 / イベント: %d件 / 所要時間: %s",
		day, run.NewsCount, run.EventCount, elapsed)

	if len(activeUsers) > 0 {
		shown := activeUsers
		if len(shown) > maxNamesInMessage {
			shown = shown[:maxNamesInMessage]
		}
		msg += "\nアクティブ: " + strings.Join(shown, ", ")
		if rest := len(activeUsers) - len(shown); rest > 0 {
			msg += fmt.Sprintf(" 他%d名", rest)
		}
	}

	return msg
}
