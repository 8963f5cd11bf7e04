// Package logging はslogベースの構造化ロガーを生成する。
//
// 出力先は標準出力かローテーション付きのログファイル（lumberjack）を選べる。
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの生成オプション。
type Options struct {
	// Level はログレベル（debug, info, warn, error）。
	Level string
	// Format は出力形式（json, text）。
	Format string
	// File はログファイルのパス。空なら標準出力に出す。
	File string
}

// New はオプションに従ってロガーを生成する。
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stdout
	if opts.File != "" {
		w = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		}
	}
	return NewWithWriter(w, opts)
}

// NewWithWriter は任意の出力先に書き込むロガーを生成する。
func NewWithWriter(w io.Writer, opts Options) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		h = slog.NewTextHandler(w, handlerOpts)
	} else {
		h = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(h)
}

// ParseLevel はログレベル文字列をslog.Levelに変換する。未知の値はinfoになる。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Discard はテスト用に何も出力しないロガーを返す。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
