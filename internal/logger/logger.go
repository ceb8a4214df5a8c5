// Package logger はslogによるJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel はLOG_LEVEL形式の文字列をslog.Levelに変換する。
// 未知の値はinfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	return SetupWithLevel(w, slog.LevelInfo)
}

// SetupWithLevel は指定レベル以上を出力するJSONロガーを生成する。
func SetupWithLevel(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	SetupDefaultWithLevel(w, slog.LevelInfo)
}

// SetupDefaultWithLevel はレベル指定付きでグローバルロガーを設定する。
func SetupDefaultWithLevel(w io.Writer, level slog.Level) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(SetupWithLevel(w, level))
}
