// Package security は入力の無害化と外部URL取得時のSSRF防止を提供する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DescriptionSanitizer は商品説明のHTMLを無害化するインターフェース。
type DescriptionSanitizer interface {
	// Sanitize は許可リストにないタグと属性を除去した説明文を返す。
	// マークアップを含まない入力はそのまま返す。
	Sanitize(raw string) string
}

// descriptionSanitizer はDescriptionSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer は商品説明用のサニタイザを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, strong, em, b, i
//   - aタグ: httpsのhrefのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - script, iframe, style, img および全てのon*イベント属性は除去
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "b", "i")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &descriptionSanitizer{policy: p}
}

// Sanitize は商品説明を無害化する。
// プレーンテキストはエスケープせずに保持する。
func (s *descriptionSanitizer) Sanitize(raw string) string {
	if !strings.ContainsAny(raw, "<>") {
		return raw
	}
	return s.policy.Sanitize(raw)
}
