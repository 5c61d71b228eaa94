package plugin

import (
	jsoniter "github.com/json-iterator/go"
)

// ConfigProvider gives plugins typed access to the settings block of their descriptor.
type ConfigProvider interface {
	Get(key string) (any, bool)
	GetString(key string, defaultVal string) string
	GetInt(key string, defaultVal int) int
	GetBool(key string, defaultVal bool) bool
	Bind(target any) error
	IsEnabled() bool
}

// SettingsConfig is a ConfigProvider over one plugin's descriptor settings.
type SettingsConfig struct {
	plugin   string
	enabled  bool
	settings map[string]any
}

// NewSettingsConfig creates the settings view for a plugin.
// enabled mirrors the record's active flag.
func NewSettingsConfig(plugin string, enabled bool, settings map[string]any) *SettingsConfig {
	if settings == nil {
		settings = make(map[string]any)
	}
	return &SettingsConfig{plugin: plugin, enabled: enabled, settings: settings}
}

// Plugin returns the class name the settings belong to.
func (c *SettingsConfig) Plugin() string { return c.plugin }

func (c *SettingsConfig) Get(key string) (any, bool) {
	v, ok := c.settings[key]
	return v, ok
}

func (c *SettingsConfig) GetString(key string, defaultVal string) string {
	s, ok := c.settings[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

// GetInt accepts the numeric types YAML and JSON decoding produce.
func (c *SettingsConfig) GetInt(key string, defaultVal int) int {
	switch n := c.settings[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return defaultVal
	}
}

func (c *SettingsConfig) GetBool(key string, defaultVal bool) bool {
	b, ok := c.settings[key].(bool)
	if !ok {
		return defaultVal
	}
	return b
}

// Bind decodes the settings into target through a JSON round trip.
func (c *SettingsConfig) Bind(target any) error {
	data, err := jsoniter.Marshal(c.settings)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(data, target)
}

func (c *SettingsConfig) IsEnabled() bool {
	return c.enabled
}

// emptyConfig is a ConfigProvider that returns defaults for everything.
type emptyConfig struct{}

func (e *emptyConfig) Get(string) (any, bool)             { return nil, false }
func (e *emptyConfig) GetString(_ string, d string) string { return d }
func (e *emptyConfig) GetInt(_ string, d int) int          { return d }
func (e *emptyConfig) GetBool(_ string, d bool) bool       { return d }
func (e *emptyConfig) Bind(any) error                      { return nil }
func (e *emptyConfig) IsEnabled() bool                     { return false }

// EmptyConfig returns a ConfigProvider that always returns defaults.
func EmptyConfig() ConfigProvider { return &emptyConfig{} }
