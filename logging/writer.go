package logging

import (
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file names under Config.Dir.
const (
	MainFile  = "pluginhost.log"
	ErrorFile = "error.log"
)

// fileWriters holds the rotating files of one logger.
type fileWriters struct {
	main  *lumberjack.Logger
	error *lumberjack.Logger
}

func newFileWriters(config Config) (*fileWriters, error) {
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, err
	}
	return &fileWriters{
		main:  rotating(config, MainFile),
		error: rotating(config, ErrorFile),
	}, nil
}

func rotating(config Config, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(config.Dir, name),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
		LocalTime:  true,
	}
}

// cores writes every enabled entry to the main file, and error and above
// to the error file as well.
func (w *fileWriters) cores(enc zapcore.Encoder, level zapcore.Level) []zapcore.Core {
	errorLevel := level
	if errorLevel < zapcore.ErrorLevel {
		errorLevel = zapcore.ErrorLevel
	}
	return []zapcore.Core{
		zapcore.NewCore(enc, zapcore.AddSync(w.main), level),
		zapcore.NewCore(enc.Clone(), zapcore.AddSync(w.error), errorLevel),
	}
}

// Close closes both files.
func (w *fileWriters) Close() error {
	return errors.Join(w.main.Close(), w.error.Close())
}
