// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は利用者が入力したプロジェクト名・タスク名・説明文を
// 保存できる形に整える。HTMLとして解釈できる文字列も含め、本文は入力どおりに保存する。
// 表示時のエスケープは描画する側の責務。
package security

import (
	"strings"
	"unicode"
)

// TextSanitizer は保存前のテキスト正規化のインターフェース。
type TextSanitizer interface {
	// Clean は改行・タブ以外の制御文字と不正なUTF-8バイト列を削除し、前後の空白を取り除く。
	// それ以外の文字は変更しない。同一入力に対して常に同一出力を返す。
	Clean(raw string) string
}

type textSanitizer struct{}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{}
}

// Clean はrawを保存用に正規化する。
func (s *textSanitizer) Clean(raw string) string {
	if raw == "" {
		return ""
	}
	// PostgreSQLのTEXT型はNULバイトと不正なUTF-8を格納できない。
	cleaned := strings.Map(dropControl, strings.ToValidUTF8(raw, ""))
	return strings.TrimSpace(cleaned)
}

// dropControl は改行とタブ以外の制御文字を削除する。
func dropControl(r rune) rune {
	if r == '\n' || r == '\t' {
		return r
	}
	if unicode.IsControl(r) {
		return -1
	}
	return r
}
