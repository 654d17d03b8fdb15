// Package logging builds the zap loggers used by roomviad, roomvia and roomviactl.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Path of the JSON log file. Parent directories are created.
	Path string
	// Instance and Binary are attached to every entry.
	Instance string
	Binary   string
	// Level is a zap level name; empty means info.
	Level string
	// Console also writes human-readable entries to stderr. The TUI turns
	// this off since it owns the terminal.
	Console bool
}

// New creates a zap logger that writes JSON to opts.Path and, if requested,
// to stderr. Instance, binary and PID are included as initial fields.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level),
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level))
	}

	fields := []zap.Field{
		zap.String("instance", opts.Instance),
		zap.Int("pid", os.Getpid()),
	}
	if opts.Binary != "" {
		fields = append(fields, zap.String("binary", opts.Binary))
	}
	return zap.New(zapcore.NewTee(cores...), zap.Fields(fields...)), nil
}
