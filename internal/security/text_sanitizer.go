// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizerService は外部APIから取得したトロフィー名などのテキストを
// サニタイズし、Discord埋め込みやAPI応答に混入するHTML/スクリプト断片を除去する。
// bluemondayのStrictPolicyを使用し、全てのタグを除去してテキストのみを残す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxTextLength はサニタイズ後のテキストの最大長。
// 外部ソース由来の異常に長い文字列から通知メッセージを保護する。
const maxTextLength = 256

// TextSanitizerService は外部由来テキストのサニタイズ機能のインターフェースを定義する。
// トロフィー名の保存前および通知メッセージ構築時に使用される。
type TextSanitizerService interface {
	// Sanitize はテキストからHTMLタグとスクリプト断片を除去する。
	// HTMLエンティティはデコードされ、前後の空白は除去される。
	// 最大長を超える場合は切り詰められる。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyにより全てのHTMLタグが除去される。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストからHTMLタグとスクリプト断片を除去する。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	cleaned := s.policy.Sanitize(raw)

	// StrictPolicyは残存テキストをエスケープするため、表示用にデコードする
	cleaned = html.UnescapeString(cleaned)
	cleaned = strings.TrimSpace(cleaned)

	if len(cleaned) > maxTextLength {
		cleaned = truncateUTF8(cleaned, maxTextLength)
	}

	return cleaned
}

// truncateUTF8 はマルチバイト文字の途中で切断しないようにテキストを切り詰める。
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && s[limit]&0xC0 == 0x80 {
		limit--
	}
	return s[:limit]
}
