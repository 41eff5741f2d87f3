// Package logger предоставляет структурированное логирование на базе zerolog.
// JSON в production, ConsoleWriter в development.
// Все сообщения логов пишутся на русском языке.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log — глобальный логгер процесса.
var log zerolog.Logger

// Config содержит настройки логгера.
type Config struct {
	// Level — минимальный уровень: "trace", "debug", "info", "warn", "error".
	Level string

	// Pretty включает человекочитаемый вывод (только для локальной разработки).
	Pretty bool

	// Output — куда писать логи. По умолчанию os.Stdout.
	Output io.Writer

	// Service добавляется полем "service" в каждую запись.
	Service string
}

func init() {
	Init(Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Pretty: strings.EqualFold(os.Getenv("LOG_PRETTY"), "true"),
	})
}

// Init настраивает глобальный логгер. Вызывается один раз в main.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	level := ParseLevel(cfg.Level)

	lctx := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.Service != "" {
		lctx = lctx.Str("service", cfg.Service)
	}
	log = lctx.Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// ParseLevel переводит строку в zerolog.Level. Неизвестное значение — info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug — событие уровня debug.
func Debug() *zerolog.Event { return log.Debug() }

// Info — событие уровня info.
func Info() *zerolog.Event { return log.Info() }

// Warn — событие уровня warn.
func Warn() *zerolog.Event { return log.Warn() }

// Error — событие уровня error.
func Error() *zerolog.Event { return log.Error() }

// Fatal — событие уровня fatal. После Msg() процесс завершается с кодом 1.
func Fatal() *zerolog.Event { return log.Fatal() }

// With возвращает контекст для построения дочернего логгера.
//
//	relayLog := logger.With().Str("component", "relay").Logger()
func With() zerolog.Context { return log.With() }

// Logger возвращает глобальный логгер.
func Logger() zerolog.Logger { return log }

// SetGlobalLogger подменяет глобальный логгер (используется в тестах).
func SetGlobalLogger(l zerolog.Logger) { log = l }
