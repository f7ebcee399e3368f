package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

type Config struct {
	Address            string        `env:"RUN_ADDRESS" envDefault:"localhost:8080"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"INFO"`
	DatabaseConnection string        `env:"DATABASE_URI" envDefault:"storefront.db"`
	JWTSecret          string        `env:"JWT_SECRET"`
	JWTSecretFile      string        `env:"JWT_SECRET_FILE"`
	JWTTTL             time.Duration `env:"JWT_TTL" envDefault:"24h"`
	AdminLogin         string        `env:"ADMIN_LOGIN"`
	AdminPassword      string        `env:"ADMIN_PASSWORD"`
	AdminPasswordFile  string        `env:"ADMIN_PASSWORD_FILE"`

	VNPTmnCode        string        `env:"VNP_TMN_CODE"`
	VNPHashSecret     string        `env:"VNP_HASH_SECRET"`
	VNPHashSecretFile string        `env:"VNP_HASH_SECRET_FILE"`
	VNPURL            string        `env:"VNP_URL" envDefault:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	VNPReturnURL      string        `env:"VNP_RETURN_URL" envDefault:"http://localhost:3000/payment/vnpay-return"`
	GatewayTimeout    time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"5s"`

	PaymentTTL    time.Duration `env:"PAYMENT_TTL" envDefault:"15m"`
	PaymentGrace  time.Duration `env:"PAYMENT_GRACE" envDefault:"10m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SweepWorkers  int           `env:"SWEEP_WORKERS" envDefault:"4"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	PriceCacheTTL time.Duration `env:"PRICE_CACHE_TTL" envDefault:"5m"`
	RabbitMQURL   string        `env:"RABBITMQ_URL"`
	OrderExchange string        `env:"ORDER_EXCHANGE" envDefault:"storefront.orders"`
}

func NewConfig() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	address := flag.String("a", cfg.Address, "{Host:port} for server")
	loglevel := flag.String("l", cfg.LogLevel, "Log level for server")
	databaseConnection := flag.String("d", cfg.DatabaseConnection, "Postgres URL or SQLite file path")
	jwtTTL := flag.Duration("t", cfg.JWTTTL, "TTL for JWT token(e.g. 24h; 30m )")
	sweepWorkers := flag.Int("w", cfg.SweepWorkers, "Size of pending-order sweeper pool")
	sweepInterval := flag.Duration("i", cfg.SweepInterval, "Sweeper interval")
	paymentTTL := flag.Duration("p", cfg.PaymentTTL, "How long an order may stay pending")

	flag.Parse()

	cfg.Address = *address
	cfg.LogLevel = *loglevel
	cfg.DatabaseConnection = *databaseConnection
	cfg.JWTTTL = *jwtTTL
	cfg.SweepWorkers = *sweepWorkers
	cfg.SweepInterval = *sweepInterval
	cfg.PaymentTTL = *paymentTTL

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets fills secrets from their *_FILE counterparts when the
// plain variable is empty.
func (c *Config) resolveSecrets() error {
	for _, s := range []struct {
		value *string
		file  string
	}{
		{&c.JWTSecret, c.JWTSecretFile},
		{&c.VNPHashSecret, c.VNPHashSecretFile},
		{&c.AdminPassword, c.AdminPasswordFile},
	} {
		if *s.value != "" || s.file == "" {
			continue
		}
		b, err := os.ReadFile(s.file)
		if err != nil {
			return fmt.Errorf("read secret file: %w", err)
		}
		*s.value = strings.TrimSpace(string(b))
	}
	return nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("ENV JWT_SECRET must be set")
	}
	if c.VNPHashSecret == "" {
		return fmt.Errorf("ENV VNP_HASH_SECRET must be set")
	}
	if c.VNPTmnCode == "" {
		return fmt.Errorf("ENV VNP_TMN_CODE must be set")
	}
	if (c.AdminLogin == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ENV ADMIN_LOGIN and ADMIN_PASSWORD must be set together")
	}
	if c.SweepInterval <= 0 || c.PaymentTTL <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and PAYMENT_TTL must be positive")
	}
	if c.PaymentGrace < 0 {
		return fmt.Errorf("PAYMENT_GRACE must not be negative")
	}
	return nil
}

// usesPostgres reports whether DATABASE_URI is a Postgres URL rather than a
// SQLite file path.
func (c *Config) usesPostgres() bool {
	return strings.HasPrefix(c.DatabaseConnection, "postgres://") ||
		strings.HasPrefix(c.DatabaseConnection, "postgresql://")
}
