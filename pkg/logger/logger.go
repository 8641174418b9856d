// Package logger builds the zap logger shared by the CLI and the driver
package logger

import (
	"context"
	"errors"
	"os"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects encoding and verbosity
type Config struct {
	JSON      bool `yaml:"json"`
	NoColor   bool `yaml:"no_color"`
	Verbose   int  `yaml:"verbose"` // 0 = info, >0 = debug
	Quiet     bool `yaml:"quiet"`   // warn and above only
	AddCaller bool `yaml:"add_caller"`
}

// Level returns the minimum level the config enables
func (c Config) Level() zapcore.Level {
	switch {
	case c.Quiet:
		return zapcore.WarnLevel
	case c.Verbose > 0:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a logger writing to stderr and a cleanup func that flushes it
func New(cfg Config) (*zap.Logger, func(context.Context) error) {
	return NewWithSink(cfg, zapcore.AddSync(os.Stderr))
}

// NewWithSink is New with an explicit destination
func NewWithSink(cfg Config, ws zapcore.WriteSyncer) (*zap.Logger, func(context.Context) error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		CallerKey:      "caller",
		EncodeTime:     func(t time.Time, enc zapcore.PrimitiveArrayEncoder) { enc.AppendString(t.Format(time.RFC3339)) },
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var enc zapcore.Encoder
	if cfg.JSON {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		if cfg.NoColor || runtime.GOOS == "windows" {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	level := cfg.Level()
	core := zapcore.NewCore(enc, ws, level)

	opts := []zap.Option{
		zap.ErrorOutput(ws),
		zap.AddStacktrace(zapcore.ErrorLevel),
	}
	if cfg.AddCaller || level == zapcore.DebugLevel {
		opts = append(opts, zap.AddCaller())
	}

	lg := zap.New(core, opts...)

	cleanup := func(_ context.Context) error {
		if err := lg.Sync(); err != nil {
			// syncing a terminal fails with EINVAL and friends on most platforms
			if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EBADF) {
				return nil
			}
			return err
		}
		return nil
	}
	return lg, cleanup
}
