package config

import (
	"os"
	"strings"
)

// EnvModeKey is the environment variable selecting the config layer.
const EnvModeKey = "PLUGINHOST_ENV"

type EnvMode string

const (
	DevMode  EnvMode = "development"
	ProMode  EnvMode = "production"
	TestMode EnvMode = "test"
)

// ParseEnvMode normalizes env; unknown and empty values mean development.
func ParseEnvMode(env string) EnvMode {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "pro":
		return ProMode
	case "test", "testing":
		return TestMode
	default:
		return DevMode
	}
}

// CurrentEnvMode reads EnvModeKey from the environment.
func CurrentEnvMode() EnvMode {
	return ParseEnvMode(os.Getenv(EnvModeKey))
}

// aliases are the short file suffixes accepted for a mode besides its full name.
func (m EnvMode) aliases() []string {
	switch m {
	case ProMode:
		return []string{"pro", "prod"}
	case DevMode:
		return []string{"dev"}
	default:
		return nil
	}
}
