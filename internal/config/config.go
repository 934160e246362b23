package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Source   SourceConfig   `mapstructure:"source"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Driver     string `mapstructure:"driver"`
	FilePath   string `mapstructure:"file_path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Path is the location used by the configured driver.
func (s StorageConfig) Path() string {
	if s.Driver == "sqlite" {
		return s.SQLitePath
	}
	return s.FilePath
}

type SourceConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	PageURL            string        `mapstructure:"page_url"`
	DownloadDir        string        `mapstructure:"download_dir"`
	Timeout            time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Charset            string        `mapstructure:"charset"`
}

type WatcherConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	BotName string `mapstructure:"bot_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.file_path", "data/bot_state.json")
	v.SetDefault("storage.sqlite_path", "data/bot_state.db")
	v.SetDefault("source.base_url", "https://spo35-kaduienrgycol.gosuslugi.ru")
	v.SetDefault("source.page_url", "https://spo35-kaduienrgycol.gosuslugi.ru/studentam/")
	v.SetDefault("source.download_dir", "downloads")
	v.SetDefault("source.timeout", 60*time.Second)
	v.SetDefault("source.insecure_skip_verify", true)
	v.SetDefault("source.charset", "windows-1251")
	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.interval", 300*time.Second)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.bot_name", "")
}

// LoadConfig reads path, falling back to defaults when the file does not
// exist. Every key can be overridden from the environment with the
// TIMETABLE_ prefix, e.g. TIMETABLE_TELEGRAM_TOKEN.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("timetable")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		slog.Warn("Config file not found, using defaults", "path", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be json or sqlite, got %q", c.Storage.Driver)
	}
	if c.Source.PageURL == "" {
		return errors.New("source.page_url is required")
	}
	if c.Watcher.Interval <= 0 {
		return fmt.Errorf("watcher.interval must be positive, got %s", c.Watcher.Interval)
	}
	return nil
}

// SlogLevel maps log.level to a slog level; unknown names mean info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
