// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev  bool
	Path string
}

type BotConfig struct {
	Token              string `yaml:"token"`
	Mode               string `yaml:"mode"`        // webhook | polling
	WebhookURL         string `yaml:"webhook_url"` // public URL telegram posts updates to
	Workers            int    `yaml:"workers"`     // polling workers
	RejectBlockedUsers bool   `yaml:"reject_blocked_users"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	JWTSecret    string        `yaml:"jwt_secret"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | mongo
	URL      string `yaml:"url"`
	Name     string `yaml:"name"` // mongo database name
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL          string `yaml:"url"` // empty disables redis
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	CommandLimit int    `yaml:"command_limit"` // per chat per minute
}

type WeatherConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Units   string `yaml:"units"`
}

type SchedulerConfig struct {
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	BroadcastCron     string        `yaml:"broadcast_cron"` // overrides the interval when set
	RunOnStart        bool          `yaml:"run_on_start"`
	Workers           int           `yaml:"workers"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
}

type UsersConfig struct {
	CityHistoryCap int `yaml:"city_history_cap"` // 0 = unbounded
}

type Config struct {
	Bot       BotConfig       `yaml:"bot"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Weather   WeatherConfig   `yaml:"weather"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Users     UsersConfig     `yaml:"users"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded
// from the environment before parsing.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b, dev)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Path = path
	return cfg, nil
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	cfg.Bot.Mode = strings.ToLower(strings.TrimSpace(cfg.Bot.Mode))
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = "webhook"
	}
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 8000
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "weather_bot"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.CommandLimit <= 0 {
		cfg.Redis.CommandLimit = 20
	}
	if cfg.Weather.BaseURL == "" {
		cfg.Weather.BaseURL = "http://api.openweathermap.org"
	}
	cfg.Weather.BaseURL = strings.TrimRight(cfg.Weather.BaseURL, "/")
	if cfg.Weather.Units == "" {
		cfg.Weather.Units = "metric"
	}
	if cfg.Scheduler.BroadcastInterval <= 0 {
		cfg.Scheduler.BroadcastInterval = 6 * time.Hour
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.LockTTL <= 0 {
		cfg.Scheduler.LockTTL = 10 * time.Minute
	}
	if cfg.Users.CityHistoryCap < 0 {
		cfg.Users.CityHistoryCap = 0
	}
}

// Minimal validation. Dev mode runs with a logging bot so the token and
// webhook URL may be absent.
func (cfg *Config) validate() error {
	switch cfg.Bot.Mode {
	case "webhook", "polling":
	default:
		return fmt.Errorf("bot.mode %q: want webhook or polling", cfg.Bot.Mode)
	}
	switch cfg.Database.Driver {
	case "postgres", "mongo":
	default:
		return fmt.Errorf("database.driver %q: want postgres or mongo", cfg.Database.Driver)
	}
	if !cfg.Runtime.Dev {
		if cfg.Bot.Token == "" {
			return errors.New("bot.token is required")
		}
		if cfg.Bot.Mode == "webhook" && cfg.Bot.WebhookURL == "" {
			return errors.New("bot.webhook_url is required in webhook mode")
		}
	}
	if cfg.Weather.APIKey == "" {
		return errors.New("weather.api_key is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Admin.Password != "" && cfg.Admin.Username == "" {
		return errors.New("admin.username is required when admin.password is set")
	}
	return nil
}

// AdminEnabled is true when panel credentials are configured.
func (cfg *Config) AdminEnabled() bool {
	return cfg.Admin.Username != "" && cfg.Admin.Password != ""
}
