// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	JWTSecret string `env:"JWT_SECRET"`
	Currency  string `env:"CURRENCY" envDefault:"INR"`

	GatewayURL       string `env:"GATEWAY_URL"`
	GatewayKeyID     string `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret string `env:"GATEWAY_KEY_SECRET"`
	WalletGatewayURL string `env:"WALLET_GATEWAY_URL"`
	WalletKeyID      string `env:"WALLET_KEY_ID"`
	WalletKeySecret  string `env:"WALLET_KEY_SECRET"`

	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	PaymentWaitTimeout time.Duration `env:"PAYMENT_WAIT_TIMEOUT" envDefault:"30s"`
	IdempotencyWindow  time.Duration `env:"IDEMPOTENCY_WINDOW" envDefault:"10m"`
	SubmissionLockTTL  time.Duration `env:"SUBMISSION_LOCK_TTL" envDefault:"30s"`

	OrderExchange    string `env:"ORDER_EXCHANGE" envDefault:"orders"`
	FulfillmentQueue string `env:"FULFILLMENT_QUEUE" envDefault:"fulfillment_status"`
	DeadLetterQueue  string `env:"DEAD_LETTER_QUEUE" envDefault:"fulfillment_dlq"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddr := cfg.RedisAddr
	envRabbitMQURL := cfg.RabbitMQURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddr, "r", "", "redis address for the submission guard")
	flag.StringVar(&cfg.RabbitMQURL, "q", "", "rabbitmq URL for order events")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}
	if envRabbitMQURL != "" {
		cfg.RabbitMQURL = envRabbitMQURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	// кошелёк без своих реквизитов ходит через карточный шлюз
	if cfg.WalletGatewayURL == "" {
		cfg.WalletGatewayURL = cfg.GatewayURL
	}
	if cfg.WalletKeyID == "" {
		cfg.WalletKeyID = cfg.GatewayKeyID
	}
	if cfg.WalletKeySecret == "" {
		cfg.WalletKeySecret = cfg.GatewayKeySecret
	}

	return cfg, nil
}
