// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はフィード項目のHTML説明文をプレーンテキスト化し、
// XSS攻撃などのセキュリティリスクから保護する。
// bluemondayライブラリのStrictPolicyで全タグを除去した上で、
// HTMLエンティティをデコードして保存用テキストを生成する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// フィード項目の説明文を保存する前に使用される。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツから全タグを除去したプレーンテキストを返す。
	// script, iframe, style等のタグ本体と全てのon*イベント属性が除去され、
	// HTMLエンティティ（&amp; 等）はデコードされる。
	// 連続する空白は1つに正規化される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは全てのタグと属性を除去するため、
// 検索インデックスや埋め込み生成に渡しても安全なテキストになる。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLコンテンツから全タグを除去したプレーンテキストを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	stripped := s.policy.Sanitize(rawHTML)
	decoded := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(decoded), " ")
}
