package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger is the logging surface injected into use cases, handlers and workers.
type ZapLogger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	With(fields ...zap.Field) ZapLogger
	Sync() error
}

type ZapLoggerConfig struct {
	IsDevelopment     bool
	Encoding          string
	Level             string
	DisableCaller     bool
	DisableStacktrace bool
}

type zapLogger struct {
	*zap.Logger
}

func NewZapLogger(cfg *ZapLoggerConfig) ZapLogger {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if parsed, err := zapcore.ParseLevel(cfg.Level); err == nil {
			level = zap.NewAtomicLevelAt(parsed)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}
	zcfg.DisableCaller = cfg.DisableCaller
	zcfg.DisableStacktrace = cfg.DisableStacktrace
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		l = zap.NewExample()
	}
	return &zapLogger{Logger: l}
}

// Wrap adapts an existing *zap.Logger, e.g. zaptest.NewLogger(t) or zap.NewNop().
func Wrap(l *zap.Logger) ZapLogger {
	return &zapLogger{Logger: l}
}

// NewNop returns a logger that discards everything.
func NewNop() ZapLogger {
	return Wrap(zap.NewNop())
}

func (l *zapLogger) With(fields ...zap.Field) ZapLogger {
	return &zapLogger{Logger: l.Logger.With(fields...)}
}
