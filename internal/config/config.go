// Package config loads SolarCast settings. Values are resolved in this
// order, highest first:
//
//	SOLARCAST_* environment (including a .env file) -> config.yaml -> defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/awaistahir/solarcast/internal/forecast"
)

const envPrefix = "SOLARCAST"

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Model  ModelConfig  `mapstructure:"model"`
	Store  StoreConfig  `mapstructure:"store"`
	Log    LogConfig    `mapstructure:"log"`
}

type ServerConfig struct {
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
}

// ModelConfig points at the trained model. RemoteURL, when set, takes
// precedence over Path.
type ModelConfig struct {
	Path              string        `mapstructure:"path" validate:"required_without=RemoteURL"`
	RemoteURL         string        `mapstructure:"remote_url" validate:"omitempty,url"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond int           `mapstructure:"requests_per_second" validate:"gt=0"`
}

type StoreConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// Dir is the per-user directory holding config.yaml and the database.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".solarcast"
	}
	return filepath.Join(home, ".solarcast")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.session_ttl", 12*time.Hour)
	v.SetDefault("model.path", forecast.DefaultModelPath)
	v.SetDefault("model.remote_url", "")
	v.SetDefault("model.timeout", 10*time.Second)
	v.SetDefault("model.requests_per_second", 5)
	v.SetDefault("store.path", filepath.Join(Dir(), "solarcast.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration into v and returns the validated result. An
// empty cfgFile looks for config.yaml in the working directory and Dir();
// a missing file there is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NewSource builds the model source described by c.
func (c ModelConfig) NewSource() forecast.Source {
	if c.RemoteURL != "" {
		return forecast.NewRemoteSource(c.RemoteURL, forecast.RemoteOptions{
			Timeout:        c.Timeout,
			RequestsPerSec: c.RequestsPerSecond,
		})
	}
	return forecast.NewFileSource(c.Path)
}
