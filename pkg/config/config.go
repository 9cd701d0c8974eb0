// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads the mediacore process's runtime configuration
// (log level, edge sizing, retry policy, session-router backend) the way
// the teacher's integration-api config package does: viper for layered
// env/file sourcing, validator/v10 for post-unmarshal enforcement.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// RedisConfig points the session router (pkg/sessionrouter) at its
// backing store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AppConfig is the full runtime configuration for cmd/mediacore.
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`

	MetricsAddr string `mapstructure:"metrics_addr" validate:"required"`

	EdgeCapacity    int           `mapstructure:"edge_capacity" validate:"required,min=1"`
	NodeReadTimeout time.Duration `mapstructure:"node_read_timeout" validate:"required"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`

	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval" validate:"required"`
	RetryMultiplier      float64       `mapstructure:"retry_multiplier" validate:"required,gt=1"`
	RetryMaxAttempts     int           `mapstructure:"retry_max_attempts" validate:"required,min=1"`

	Redis RedisConfig `mapstructure:"redis"`
}

// InitConfig loads layered configuration: defaults, then an optional .env
// file (ENV_PATH overrides its location), then environment variables,
// mirroring the teacher's InitConfig/setDefault split.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "mediacore")
	v.SetDefault("VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ADDR", ":9090")

	v.SetDefault("EDGE_CAPACITY", 32)
	v.SetDefault("NODE_READ_TIMEOUT", "30s")
	v.SetDefault("SESSION_TIMEOUT", "0s")

	v.SetDefault("RETRY_INITIAL_INTERVAL", "100ms")
	v.SetDefault("RETRY_MULTIPLIER", 2.0)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)

	v.SetDefault("REDIS__ADDR", "localhost:6379")
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)
}

// GetApplicationConfig unmarshals and validates v into an AppConfig.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}
