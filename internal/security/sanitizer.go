// Package security はニューステキストの無害化と外部APIアクセスの保護機能を提供する。
//
// NewsSanitizer は上流ニュースのHTML断片（XID付きアンカー等）を除去し、
// 監査保存・表示向けのプレーンテキストを生成する。
// bluemondayの厳格ポリシーによる許可リストベースの除去を行う。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NewsSanitizerService はニューステキスト無害化のインターフェースを定義する。
// 生ニュース保存前および通知メッセージ生成時に使用される。
type NewsSanitizerService interface {
	// PlainText はHTML断片を含むニューステキストからタグをすべて除去し、
	// エンティティを復号したプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	PlainText(rawHTML string) string
}

// newsSanitizer はNewsSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフに処理を行う。
type newsSanitizer struct {
	policy *bluemonday.Policy
}

// NewNewsSanitizer はNewsSanitizerServiceの新しいインスタンスを生成する。
// 厳格ポリシー（全タグ除去）を使用する。上流のニューステキストは
// プロフィールリンク以外のマークアップを含まないため、許可タグは設けない。
func NewNewsSanitizer() *newsSanitizer {
	return &newsSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// PlainText はHTML断片を含むニューステキストをプレーンテキストに変換する。
func (s *newsSanitizer) PlainText(rawHTML string) string {
	stripped := s.policy.Sanitize(rawHTML)
	// bluemondayは出力をエスケープするため、表示用にエンティティを復号する
	text := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(text), " ")
}
