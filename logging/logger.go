package logging

import (
	"os"

	"github.com/creasty/defaults"
	validatorV10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var validate = validatorV10.New()

// New builds a zap logger from config. The returned close function flushes
// and closes log files; call it on shutdown.
func New(config Config) (*zap.Logger, func() error, error) {
	if err := defaults.Set(&config); err != nil {
		return nil, nil, err
	}
	if err := validate.Struct(config); err != nil {
		return nil, nil, err
	}
	level, err := config.ZapLevel()
	if err != nil {
		return nil, nil, err
	}

	enc := newEncoder(config)
	var cores []zapcore.Core
	closeFn := func() error { return nil }

	if config.toConsole() {
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level))
	}
	if config.toFile() {
		files, err := newFileWriters(config)
		if err != nil {
			return nil, nil, err
		}
		cores = append(cores, files.cores(enc.Clone(), level)...)
		closeFn = files.Close
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if config.ShowCaller {
		logger = logger.WithOptions(zap.AddCaller())
	}
	return logger, func() error {
		_ = logger.Sync()
		return closeFn()
	}, nil
}

// MustNew is New for process entry points.
func MustNew(config Config) (*zap.Logger, func() error) {
	logger, closeFn, err := New(config)
	if err != nil {
		panic(err)
	}
	return logger, closeFn
}

func newEncoder(config Config) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		NameKey:        "logger",
		CallerKey:      "caller",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(config.TimeFormat),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	if config.Format == "json" {
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}
