// Package config loads lsync settings from lsync.yaml, LSYNC_* environment
// variables and defaults, in increasing order of precedence: defaults, then
// file, then environment. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LSYNC_REMOTE_TOKEN.
const EnvPrefix = "LSYNC"

// ErrTokenRequired is returned by RequireRemote when no API token is set.
var ErrTokenRequired = errors.New("remote token is not set (use remote.token or LSYNC_REMOTE_TOKEN)")

// Config is the full lsync configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Remote      RemoteConfig      `mapstructure:"remote"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Instructors map[string]string `mapstructure:"instructors"`
	Daemon      DaemonConfig      `mapstructure:"daemon"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
	Log         LogConfig         `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type RemoteConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	Token         string        `mapstructure:"token"`
	TeamID        string        `mapstructure:"team_id"`
	FolderID      string        `mapstructure:"folder_id"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RatePerMinute int           `mapstructure:"rate_per_minute" validate:"min=1,max=10000"`
	FieldMapFile  string        `mapstructure:"field_map_file"`
}

type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl" validate:"gt=0"`
	MaxEntries int           `mapstructure:"max_entries" validate:"min=1"`
}

type DaemonConfig struct {
	Interval      time.Duration `mapstructure:"interval" validate:"gte=1s"`
	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"min=1,max=16"`
	SyncTimeout   time.Duration `mapstructure:"sync_timeout" validate:"gte=0"`
	TemplateFile  string        `mapstructure:"template_file"`
}

type DashboardConfig struct {
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Verbose    bool   `mapstructure:"verbose"`
}

// defaults are registered with viper so every key is also bindable from the
// environment.
var defaults = map[string]any{
	"database.path":          filepath.Join(".lsync", "lessons.db"),
	"remote.base_url":        "https://api.clickup.com/api/v2",
	"remote.token":           "",
	"remote.team_id":         "",
	"remote.folder_id":       "",
	"remote.timeout":         "30s",
	"remote.rate_per_minute": 100,
	"remote.field_map_file":  "",
	"cache.ttl":              "5m",
	"cache.max_entries":      256,
	"daemon.interval":        "5m",
	"daemon.max_concurrent":  2,
	"daemon.sync_timeout":    "0s",
	"daemon.template_file":   "",
	"dashboard.port":         8080,
	"log.file":               "",
	"log.max_size_mb":        10,
	"log.max_backups":        3,
	"log.max_age_days":       28,
	"log.verbose":            false,
}

// Load reads configuration. An explicit path must exist; otherwise lsync.yaml
// is looked up in the working directory and then $HOME/.lsync, and a missing
// file just means defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges. It does not require remote credentials; see
// RequireRemote.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	sort.Strings(msgs)
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RequireRemote checks the settings needed to talk to the remote service.
func (c *Config) RequireRemote() error {
	if err := validate.Var(c.Remote.Token, "required"); err != nil {
		return ErrTokenRequired
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
