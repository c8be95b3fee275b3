/**
 * @description
 * This file handles configuration management for the autotransfer-service.
 * It loads settings from environment variables, providing defaults for the
 * batch schedule and the account lock wait bound.
 */
package config

import (
	"errors"

	"github.com/spf13/viper"
)

// Config holds all configuration for the autotransfer-service.
type Config struct {
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	ServerPort              string `mapstructure:"SERVER_PORT"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	AutoTransferJobSchedule string `mapstructure:"AUTO_TRANSFER_JOB_SCHEDULE"`
	AccountLockWaitSeconds  int    `mapstructure:"ACCOUNT_LOCK_WAIT_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("AUTO_TRANSFER_JOB_SCHEDULE", "0 0 * * *") // Daily at midnight.
	viper.SetDefault("ACCOUNT_LOCK_WAIT_SECONDS", 30)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("AUTO_TRANSFER_JOB_SCHEDULE")
	_ = viper.BindEnv("ACCOUNT_LOCK_WAIT_SECONDS")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	return &config, nil
}
