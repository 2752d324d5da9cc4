// Package logging はzerologベースのログ出力を提供する
//
// 監視ループ自身のイベントは New で作ったロガーへ、
// 子プロセスの診断出力は NewRelay で作った中継ロガーへ書き出す。
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config はログ出力の設定
type Config struct {
	Level  string    // trace, debug, info, warn, error
	Format string    // json または console
	Output io.Writer // 既定は os.Stderr
}

// New は設定に従ってロガーを作成する
func New(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	output := cfg.Output
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "15:04:05.000",
		}
	}

	return zerolog.New(output).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// NewRelay は子プロセスの診断出力を中継するロガーを作成する
// 1行につき1回のWriteで出力されるため、teeやファイルへのリダイレクトでも行が混ざらない
func NewRelay(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().Timestamp().Str("stream", "stdouterr").Logger()
}

// ParseLevel は文字列のログレベルをzerolog.Levelに変換する
// 不明な値の場合はinfoになる
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
