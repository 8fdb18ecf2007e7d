// Package config loads datamill configuration from an optional YAML file
// and DATAMILL_* environment variables layered over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	ETL     ETLConfig     `mapstructure:"etl"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type CrawlerConfig struct {
	Delay     time.Duration `mapstructure:"delay"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type ETLConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.token", "")
	v.SetDefault("storage.data_dir", defaultDataDir())
	v.SetDefault("crawler.delay", time.Second)
	v.SetDefault("crawler.timeout", 10*time.Second)
	v.SetDefault("crawler.user_agent", "datamill-bot/1.0 (+https://github.com/kalambet/datamill)")
	v.SetDefault("etl.batch_size", 100)
	v.SetDefault("log.level", "info")
}

// Load reads configuration from the YAML file at path (optional; a missing
// file is not an error), applies DATAMILL_* environment overrides, and
// validates the result.
//
// Environment variables map dotted keys with underscores, e.g.
// DATAMILL_SERVER_PORT overrides server.port.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DATAMILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.ETL.BatchSize < 1 {
		return Config{}, fmt.Errorf("invalid etl batch size %d", cfg.ETL.BatchSize)
	}
	if cfg.Crawler.Delay < 0 || cfg.Crawler.Timeout <= 0 {
		return Config{}, fmt.Errorf("invalid crawler timing: delay %s, timeout %s", cfg.Crawler.Delay, cfg.Crawler.Timeout)
	}

	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".datamill"
	}
	return filepath.Join(home, ".datamill")
}
