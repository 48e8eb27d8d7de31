// Package config loads habitd configuration from a YAML file, HABITD_*
// environment variables and built-in defaults.
package config

import (
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kimhsiao/habitnexus/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g. HABITD_UPSTREAM_URL.
const EnvPrefix = "HABITD"

// Config is the full habitd configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Reminders   RemindersConfig   `mapstructure:"reminders"`
	Interceptor InterceptorConfig `mapstructure:"interceptor"`
	Log         LogConfig         `mapstructure:"log"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type UpstreamConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
	// Secret seals credential headers of queued requests. Empty stores them as sent.
	Secret string `mapstructure:"secret"`
}

type QueueConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	ReplayTimeout time.Duration `mapstructure:"replay_timeout"`
	HealthPath    string        `mapstructure:"health_path"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

type RemindersConfig struct {
	File         string        `mapstructure:"file"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HorizonDays  int           `mapstructure:"horizon_days"`
	LogEndpoint  string        `mapstructure:"log_endpoint"`
	Timezone     string        `mapstructure:"timezone"`
}

type InterceptorConfig struct {
	OfflinePage    string   `mapstructure:"offline_page"`
	StaticPrefixes []string `mapstructure:"static_prefixes"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8090")
	v.SetDefault("upstream.url", "")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("auth.token", "")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.secret", "")
	v.SetDefault("queue.max_items", 10000)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.replay_timeout", 10*time.Second)
	v.SetDefault("sync.health_path", "/api/health")
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("reminders.file", "./reminders.yaml")
	v.SetDefault("reminders.poll_interval", time.Minute)
	v.SetDefault("reminders.horizon_days", 7)
	v.SetDefault("reminders.log_endpoint", "/api/reminder-logs")
	v.SetDefault("reminders.timezone", "")
	v.SetDefault("interceptor.offline_page", "/offline.html")
	v.SetDefault("interceptor.static_prefixes", []string{"/static/", "/assets/"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration. When path is empty, habitd.yaml is searched in
// the working directory and $HOME/.config/habitd; a missing file is not an
// error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("habitd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "habitd"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrInvalid, "failed to read config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "failed to decode config", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that do not depend on the command being run.
func (c *Config) Validate() error {
	if c.Upstream.Timeout <= 0 {
		return errors.New(errors.ErrValidation, "upstream.timeout must be positive")
	}
	if c.Queue.MaxItems < 0 {
		return errors.New(errors.ErrValidation, "queue.max_items must not be negative")
	}
	if c.Sync.Interval <= 0 || c.Sync.ReplayTimeout <= 0 {
		return errors.New(errors.ErrValidation, "sync.interval and sync.replay_timeout must be positive")
	}
	if c.Reminders.PollInterval <= 0 {
		return errors.New(errors.ErrValidation, "reminders.poll_interval must be positive")
	}
	if c.Reminders.HorizonDays <= 0 {
		return errors.New(errors.ErrValidation, "reminders.horizon_days must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Upstream.URL != "" {
		if _, err := c.UpstreamURL(); err != nil {
			return err
		}
	}
	return nil
}

// UpstreamURL parses upstream.url. It is required by every command that
// talks to the remote API.
func (c *Config) UpstreamURL() (*url.URL, error) {
	if c.Upstream.URL == "" {
		return nil, errors.New(errors.ErrValidation, "upstream.url is required")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "upstream.url is not a valid URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.New(errors.ErrValidation,
			fmt.Sprintf("upstream.url must be an absolute http(s) URL, got %q", c.Upstream.URL))
	}
	return u, nil
}

// Location resolves reminders.timezone; empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Reminders.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Reminders.Timezone)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "reminders.timezone is not a valid IANA zone", err)
	}
	return loc, nil
}
