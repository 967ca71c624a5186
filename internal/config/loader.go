package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"marvinmcp/pkg/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration in three layers: built-in defaults, an
// optional YAML file, then environment variables. Environment values win so
// deployment secrets never need to live in a file.
//
// configPath may be empty, in which case only defaults and environment are
// used.
func LoadConfig(configPath string) (Config, error) {
	// A .env file next to the binary is a developer convenience; its absence
	// is not an error.
	_ = godotenv.Load()

	cfg := GetDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logging.Info("ConfigLoader", "No config file at %s, using defaults", configPath)
			} else {
				return Config{}, fmt.Errorf("error reading config from %s: %w", configPath, err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("error loading config from %s: %w", configPath, err)
			}
			logging.Info("ConfigLoader", "Loaded configuration from %s", configPath)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			logging.Warn("ConfigLoader", "Ignoring non-numeric PORT value %q", v)
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("MARVIN_API_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("MARVIN_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("OAUTH_SIGNING_SECRET"); v != "" {
		cfg.OAuth.SigningSecret = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("CHANGEFEED_HOST"); v != "" {
		cfg.ChangeFeed.Host = v
	}
	if v := os.Getenv("CHANGEFEED_DB"); v != "" {
		cfg.ChangeFeed.Database = v
	}
	if v := os.Getenv("CHANGEFEED_USER"); v != "" {
		cfg.ChangeFeed.User = v
	}
	if v := os.Getenv("CHANGEFEED_PASSWORD"); v != "" {
		cfg.ChangeFeed.Password = v
	}
}
