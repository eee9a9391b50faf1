// Package security はアプリケーションのセキュリティ機能を提供する。
//
// Sanitizer はIDプロバイダーから受け取った表示名をbluemondayのStrictPolicyで
// プレーンテキストに正規化する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength は表示名の最大文字数（users.display_nameの列長）。
const MaxDisplayNameLength = 255

// Sanitizer はサニタイズ機能のインターフェース。
type Sanitizer interface {
	// DisplayName はタグをすべて除去し、前後の空白を取り除いて上限文字数で切り詰める。
	DisplayName(raw string) string
}

type sanitizer struct {
	strict *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。ポリシーは生成時に一度だけ構築する。
func NewSanitizer() *sanitizer {
	return &sanitizer{strict: bluemonday.StrictPolicy()}
}

// DisplayName は表示名をプレーンテキストに正規化する。
// StrictPolicyはテキストをHTMLエスケープするため、タグ除去後にアンエスケープする。
func (s *sanitizer) DisplayName(raw string) string {
	name := strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
	if utf8.RuneCountInString(name) <= MaxDisplayNameLength {
		return name
	}
	return string([]rune(name)[:MaxDisplayNameLength])
}
