/**
 * @description
 * This file handles configuration management for the donation-service.
 * It uses Viper to read settings from environment variables or an optional .env file.
 *
 * @dependencies
 * - github.com/spf13/viper: For configuration management.
 */
package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Feed change sources.
const (
	FeedSourcePostgres = "postgres"
	FeedSourceRabbitMQ = "rabbitmq"
)

// Config stores all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`
	Env        string `mapstructure:"ENV"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`

	StripeSecretKey         string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeCurrency          string `mapstructure:"STRIPE_CURRENCY"`
	StripeTimeoutSeconds    int    `mapstructure:"STRIPE_TIMEOUT_SECONDS"`
	StripeMaxNetworkRetries int64  `mapstructure:"STRIPE_MAX_NETWORK_RETRIES"`

	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	DonationEventsExchange string `mapstructure:"DONATION_EVENTS_EXCHANGE"`
	FeedChangeSource       string `mapstructure:"FEED_CHANGE_SOURCE"`

	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	CheckoutRateLimitPerMinute int    `mapstructure:"CHECKOUT_RATE_LIMIT_PER_MINUTE"`

	AdminJWTSecret    string `mapstructure:"ADMIN_JWT_SECRET"`
	ReconcileSchedule string `mapstructure:"RECONCILE_SCHEDULE"`
}

// LoadConfig reads configuration from the optional .env file in path and from the environment.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("AUTO_MIGRATE", false)
	viper.SetDefault("STRIPE_CURRENCY", "eur")
	viper.SetDefault("STRIPE_TIMEOUT_SECONDS", 30)
	viper.SetDefault("STRIPE_MAX_NETWORK_RETRIES", 2)
	viper.SetDefault("DONATION_EVENTS_EXCHANGE", "donation_events")
	viper.SetDefault("FEED_CHANGE_SOURCE", FeedSourcePostgres)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "donation:rate_limit")
	viper.SetDefault("CHECKOUT_RATE_LIMIT_PER_MINUTE", 20)
	// Reconciliation overwrites category totals, so scheduled runs are opt-in.
	viper.SetDefault("RECONCILE_SCHEDULE", "")

	// Bind environment variables explicitly so Unmarshal sees keys without defaults.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("ENV")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("AUTO_MIGRATE")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_CURRENCY")
	_ = viper.BindEnv("STRIPE_TIMEOUT_SECONDS")
	_ = viper.BindEnv("STRIPE_MAX_NETWORK_RETRIES")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("DONATION_EVENTS_EXCHANGE")
	_ = viper.BindEnv("FEED_CHANGE_SOURCE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("CHECKOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StripeSecretKey = strings.TrimSpace(config.StripeSecretKey)
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)
	config.StripeCurrency = strings.ToLower(strings.TrimSpace(config.StripeCurrency))
	if config.StripeCurrency == "" {
		config.StripeCurrency = "eur"
	}
	if config.StripeTimeoutSeconds <= 0 {
		config.StripeTimeoutSeconds = 30
	}
	if config.StripeMaxNetworkRetries < 0 {
		config.StripeMaxNetworkRetries = 0
	}

	config.FeedChangeSource = strings.ToLower(strings.TrimSpace(config.FeedChangeSource))
	switch config.FeedChangeSource {
	case FeedSourcePostgres, FeedSourceRabbitMQ:
	default:
		log.Printf("level=warn component=config msg=\"unknown FEED_CHANGE_SOURCE; using postgres\" value=%q", config.FeedChangeSource)
		config.FeedChangeSource = FeedSourcePostgres
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "donation:rate_limit"
	}
	if config.CheckoutRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative checkout rate limit configured; disabling\" value=%d", config.CheckoutRateLimitPerMinute)
		config.CheckoutRateLimitPerMinute = 0
	}
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)

	return
}

// IsProduction reports whether the service runs with production logging.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
