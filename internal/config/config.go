// Package config loads fieldboard settings from a YAML file and
// FIELDBOARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the commands need to run.
type Config struct {
	// Dynamics holds the Field Service connection settings.
	Dynamics DynamicsConfig `mapstructure:"dynamics"`

	// BoardPath is the YAML board file users edit.
	BoardPath string `mapstructure:"board_path"`

	// StorePath is the local SQLite store.
	StorePath string `mapstructure:"store_path"`

	// TokenPath is where the OAuth2 token is cached.
	TokenPath string `mapstructure:"token_path"`

	// DashboardPort is the WebSocket dashboard listen port.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile receives rotated logs in addition to stderr. Empty
	// disables the file sink.
	LogFile string `mapstructure:"log_file"`

	// Debounce is the quiet period after a board edit before the
	// file is reloaded.
	Debounce time.Duration `mapstructure:"debounce"`
}

// DynamicsConfig identifies the Dynamics organization and the Entra
// app registration used to sign in.
type DynamicsConfig struct {
	TenantID string `mapstructure:"tenant_id"`
	ClientID string `mapstructure:"client_id"`
	OrgID    string `mapstructure:"org_id"`

	// BaseURL overrides the derived organization URL. Used in tests.
	BaseURL string `mapstructure:"base_url"`
}

// Load reads the config file at path, or searches the working
// directory and ~/.config/fieldboard/ when path is empty. Environment
// variables override file values: FIELDBOARD_DYNAMICS_ORG_ID,
// FIELDBOARD_BOARD_PATH, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("board_path", "fieldboard.yaml")
	v.SetDefault("store_path", ".fieldboard/board.db")
	v.SetDefault("token_path", ".fieldboard/token.json")
	v.SetDefault("dashboard_port", 8090)
	v.SetDefault("log_file", ".fieldboard/fieldboard.log")
	v.SetDefault("debounce", 250*time.Millisecond)

	v.SetEnvPrefix("FIELDBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fieldboard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/fieldboard")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine when no explicit path was
		// given; defaults plus environment still apply.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every remote command needs.
func (c *Config) Validate() error {
	if c.Dynamics.OrgID == "" && c.Dynamics.BaseURL == "" {
		return fmt.Errorf("dynamics.org_id is required")
	}
	if c.Dynamics.TenantID == "" {
		return fmt.Errorf("dynamics.tenant_id is required")
	}
	if c.Dynamics.ClientID == "" {
		return fmt.Errorf("dynamics.client_id is required")
	}
	return nil
}
