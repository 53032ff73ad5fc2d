// Package config loads and validates exporter configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all exporter configuration knobs loaded via Viper.
type Config struct {
	Zendesk ZendeskConfig `mapstructure:"zendesk"`
	Export  ExportConfig  `mapstructure:"export"`
	Bus     BusConfig     `mapstructure:"bus"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ZendeskConfig identifies the help center and the credentials used against
// it. Email and password come from the environment (ZENDESK_ZENDESK_EMAIL /
// ZENDESK_ZENDESK_PASSWORD) or a config file kept out of version control.
type ZendeskConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// ExportConfig governs the output layout and pagination limits.
type ExportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	MaxPages  int    `mapstructure:"max_pages"`
}

// BusConfig sizes the broadcast ring.
type BusConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ServerConfig controls the optional debug HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZENDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("zendesk.base_url", "https://nttsh.zendesk.com")
	v.SetDefault("zendesk.language", "en-001")
	v.SetDefault("export.output_dir", "data")
	v.SetDefault("export.max_pages", 1000)
	v.SetDefault("bus.capacity", 128)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("server.port", 0)
	v.SetDefault("logging.development", false)

	// Bind explicitly so env-only credentials survive Unmarshal even when no
	// config file sets the keys.
	for _, key := range []string{"zendesk.email", "zendesk.password"} {
		_ = v.BindEnv(key)
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Zendesk.BaseURL == "" {
		return fmt.Errorf("zendesk.base_url is required")
	}
	if c.Zendesk.Language == "" {
		return fmt.Errorf("zendesk.language is required")
	}
	if c.Zendesk.Email == "" {
		return fmt.Errorf("zendesk.email is required")
	}
	if c.Zendesk.Password == "" {
		return fmt.Errorf("zendesk.password is required")
	}
	if c.Export.OutputDir == "" {
		return fmt.Errorf("export.output_dir is required")
	}
	if c.Export.MaxPages <= 0 {
		return fmt.Errorf("export.max_pages must be positive")
	}
	if c.Bus.Capacity < 100 {
		return fmt.Errorf("bus.capacity must be at least 100")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be positive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range")
	}
	return nil
}
