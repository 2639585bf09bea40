// Package logger provides structured logging for Comet.
//
// A single process-wide zap logger is configured once by the CLI (or
// falls back to a production JSON logger). Import runs bind their table
// and input file with ForImport; each phase of the state machine derives
// a phase-scoped child with WithPhase, so every log line of a run
// carries the table, input and phase it belongs to.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	global *zap.Logger
	once   sync.Once
)

// Config controls the process-wide logger.
type Config struct {
	Level       string
	Encoding    string // json or console
	OutputPaths []string
	Development bool
}

// Init builds the process-wide logger. Only the first call takes effect.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		global, err = build(cfg)
	})
	return err
}

func build(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if cfg.Encoding == "console" {
		if cfg.Development {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	paths := cfg.OutputPaths
	if len(paths) == 0 {
		paths = []string{"stderr"}
	}
	sink, _, err := zap.Open(paths...)
	if err != nil {
		return nil, fmt.Errorf("cannot open log outputs: %w", err)
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(zapcore.NewCore(enc, sink, level), opts...), nil
}

// Get returns the process-wide logger, initializing a default JSON
// logger at info level when Init was never called.
func Get() *zap.Logger {
	if global == nil {
		if err := Init(Config{Level: "info", Encoding: "json"}); err != nil || global == nil {
			l, _ := zap.NewProduction()
			global = l
		}
	}
	return global
}

// ForImport binds the identifying fields of an import run to a logger.
// Every log line of the run carries them.
func ForImport(base *zap.Logger, table, input string) *zap.Logger {
	if base == nil {
		base = Get()
	}
	return base.With(
		zap.String("table", table),
		zap.String("input", input),
	)
}

// WithPhase derives a child scoped to one phase of the import state
// machine.
func WithPhase(l *zap.Logger, phase string) *zap.Logger {
	return l.With(zap.String("phase", phase))
}

// Sync flushes any buffered log entries.
func Sync() error {
	if global != nil {
		return global.Sync()
	}
	return nil
}
