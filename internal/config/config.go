package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	// Store settings
	StorePath string `mapstructure:"store_path"`
	LogLevel  string `mapstructure:"log_level"`

	// Sync settings
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	BatchLimit   int           `mapstructure:"batch_limit"`

	// Accounts
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig holds the settings for a single mailbox provider.
type AccountConfig struct {
	Email    string `mapstructure:"email"`
	Provider string `mapstructure:"provider"`

	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUsername string `mapstructure:"imap_username"`
	IMAPPassword string `mapstructure:"imap_password"`
}

// Load reads configuration from the given file (or the default search
// paths when path is empty) with MAILSTASH_* environment variables
// taking precedence over file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store_path", defaultStorePath())
	v.SetDefault("log_level", "info")
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("batch_limit", 100)

	v.SetEnvPrefix("MAILSTASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("mailstash")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "mailstash"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; defaults and env cover it.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.SyncInterval < time.Second {
		return fmt.Errorf("sync_interval must be at least 1s")
	}
	if c.BatchLimit < 1 || c.BatchLimit > 1000 {
		return fmt.Errorf("batch_limit must be between 1 and 1000")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Email == "" {
			return fmt.Errorf("account %d: email is required", i+1)
		}
		if seen[acc.Email] {
			return fmt.Errorf("account %s: configured twice", acc.Email)
		}
		seen[acc.Email] = true

		if acc.Provider == "" {
			acc.Provider = "imap-generic"
		}
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.Email)
		}
		if acc.IMAPPort == 0 {
			acc.IMAPPort = 993
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.Email)
		}
		if acc.IMAPUsername == "" {
			acc.IMAPUsername = acc.Email
		}
	}

	return nil
}

// defaultStorePath places the database under the user's config
// directory, next to the config file.
func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "mailstash.db"
	}
	return filepath.Join(dir, "mailstash", "mailstash.db")
}
