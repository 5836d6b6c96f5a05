// Package logger builds the application's zap logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	messageKey = "msg"
	levelKey   = "level"
	nameKey    = "logger"
	callerKey  = "file"
	timeKey    = "time"

	EncodingConsole = "console"
	EncodingJSON    = "json"
)

// Config defines configuration options for the logger.
type Config struct {
	// Level is the minimum level emitted: debug, info, warn or error.
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Encoding is json for production or console for a colored, human-friendly format.
	Encoding string `mapstructure:"encoding" validate:"oneof=json console"`
}

func (c Config) zapConfig() (*zap.Config, error) {
	zapLevel := zap.NewAtomicLevel()
	if err := zapLevel.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	encoding := c.Encoding
	if encoding == "" {
		encoding = EncodingJSON
	}
	encodeLevel := zapcore.CapitalLevelEncoder
	if encoding == EncodingConsole {
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return &zap.Config{
		Level:            zapLevel,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Encoding:         encoding,
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     messageKey,
			LevelKey:       levelKey,
			NameKey:        nameKey,
			CallerKey:      callerKey,
			TimeKey:        timeKey,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.RFC3339TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
			EncodeName:     zapcore.FullNameEncoder,
		},
	}, nil
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	zc, err := cfg.zapConfig()
	if err != nil {
		return nil, err
	}
	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}
