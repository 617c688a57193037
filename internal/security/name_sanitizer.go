package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses は実体参照の多重エスケープを剥がす回数の上限。
const maxSanitizePasses = 8

// angleBrackets は最後まで残った山括弧を除去する。
var angleBrackets = strings.NewReplacer("<", "", ">", "")

// DisplayNameSanitizer はユーザー名や家族名などの表示名からマークアップを除去する。
// 出力は平文で、タグを構成しうる山括弧を含まない。
type DisplayNameSanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplayNameSanitizer はDisplayNameSanitizerを生成する。
func NewDisplayNameSanitizer() *DisplayNameSanitizer {
	return &DisplayNameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、前後の空白を取り除いた表示名を返す。
// 実体参照で書かれたタグ（&lt;b&gt; など）は元に戻した上で再度除去する。
func (s *DisplayNameSanitizer) Sanitize(name string) string {
	out := name
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(angleBrackets.Replace(out))
}
