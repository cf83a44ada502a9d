package security

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// UserRef はニューステキスト中のプロフィールアンカーから抽出したユーザー参照。
type UserRef struct {
	ID   int64
	Name string
}

// ParseUserAnchors はニューステキストのHTML断片を走査し、
// XIDクエリパラメータを持つアンカーからユーザーIDと表示名を出現順に抽出する。
// 分類自体は正規表現ベースのXID走査で行われるため、この関数は
// 表示名の補完にのみ使用する。パース不能な断片は無視する。
func ParseUserAnchors(fragment string) []UserRef {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), nil)
	if err != nil {
		return nil
	}

	var refs []UserRef
	for _, n := range nodes {
		walkAnchors(n, &refs)
	}
	return refs
}

// walkAnchors はノード木を深さ優先で走査し、XID付きアンカーを収集する。
func walkAnchors(n *html.Node, refs *[]UserRef) {
	if n.Type == html.ElementNode && n.Data == "a" {
		if id, ok := anchorUserID(n); ok {
			*refs = append(*refs, UserRef{ID: id, Name: anchorText(n)})
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkAnchors(c, refs)
	}
}

// anchorUserID はアンカーのhref属性からXIDクエリ値を取り出す。
func anchorUserID(n *html.Node) (int64, bool) {
	for _, attr := range n.Attr {
		if attr.Key != "href" {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(attr.Val))
		if err != nil {
			return 0, false
		}
		xid := u.Query().Get("XID")
		if xid == "" {
			return 0, false
		}
		id, err := strconv.ParseInt(xid, 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

// anchorText はアンカー配下のテキストノードを連結して返す。
func anchorText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
