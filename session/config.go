package session

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config carries the engine settings a caller tunes without code changes
type Config struct {
	// Dialect selects the SQL dialect: postgres, sqlite, or mysql
	Dialect string `mapstructure:"dialect"`
	// LogQueries enables per-statement logging
	LogQueries bool `mapstructure:"log_queries"`
	// ColorLogs renders logged SQL in color
	ColorLogs bool `mapstructure:"color_logs"`
	// MaxCascadeDepth bounds cascade traversal; 0 uses the engine default
	MaxCascadeDepth int `mapstructure:"max_cascade_depth"`
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{Dialect: "postgres"}
}

// LoadConfig reads settings from the given file (any format viper supports),
// with KEYSTONE_-prefixed environment variables taking precedence. An empty
// path loads environment and defaults only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("dialect", "postgres")
	v.SetDefault("log_queries", false)
	v.SetDefault("color_logs", false)
	v.SetDefault("max_cascade_depth", 0)

	v.SetEnvPrefix("KEYSTONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
