package logging

import (
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"go.uber.org/zap/zapcore"
)

// Output destinations.
const (
	OutputConsole = "console"
	OutputFile    = "file"
	OutputBoth    = "both"
)

// Config represents the logger configuration.
type Config struct {
	// Dir is the directory rotated log files are written to.
	Dir string `mapstructure:"dir" json:"dir" yaml:"dir" default:"logs"`

	// Level is the minimum log level (debug, info, warn, error, dpanic, panic, fatal).
	Level string `mapstructure:"level" json:"level" yaml:"level" default:"info"`

	// Format is the log format (json or console).
	Format string `mapstructure:"format" json:"format" yaml:"format" default:"console" validate:"oneof=json console"`

	// Output selects console, file or both.
	Output string `mapstructure:"output" json:"output" yaml:"output" default:"console" validate:"oneof=console file both"`

	// TimeFormat is the time format string (uses Go time format).
	TimeFormat string `mapstructure:"time-format" json:"timeFormat" yaml:"time-format" default:"2006/01/02 - 15:04:05"`

	// MaxSize is the maximum size in megabytes of a log file before it gets rotated.
	MaxSize int `mapstructure:"max-size" json:"maxSize" yaml:"max-size" default:"100"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `mapstructure:"max-age" json:"maxAge" yaml:"max-age" default:"7"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `mapstructure:"max-backups" json:"maxBackups" yaml:"max-backups" default:"10"`

	// Compress gzips rotated files.
	Compress bool `mapstructure:"compress" json:"compress" yaml:"compress"`

	// ShowCaller adds the calling file and line to entries.
	ShowCaller bool `mapstructure:"show-caller" json:"showCaller" yaml:"show-caller"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	_ = defaults.Set(&c)
	return c
}

// ZapLevel parses Level.
func (c Config) ZapLevel() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(c.Level)))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	return level, nil
}

func (c Config) toConsole() bool {
	return c.Output == OutputConsole || c.Output == OutputBoth
}

func (c Config) toFile() bool {
	return c.Output == OutputFile || c.Output == OutputBoth
}
