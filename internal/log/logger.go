package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultService = "argenta"

type Options struct {
	Env     string
	Service string
	// Level overrides the env default ("debug", "info", "warn", ...).
	Level string
}

// New builds a JSON logger for the "prod" env and a colored console logger
// otherwise. Every entry carries the service and env fields.
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Env == "prod" {
		config = zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	} else {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	service := opts.Service
	if service == "" {
		service = defaultService
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]interface{}{"service": service}
	if opts.Env != "" {
		config.InitialFields["env"] = opts.Env
	}

	return config.Build()
}

func NewSugar(opts Options) (*zap.SugaredLogger, error) {
	logger, err := New(opts)
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Component scopes a logger to one protocol component.
func Component(logger *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return logger.With("component", name)
}
