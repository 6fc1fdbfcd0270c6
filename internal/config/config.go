package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Reservation ReservationConfig
	Commission  CommissionConfig
	Stripe      StripeConfig
	Telegram    TelegramConfig
	Auth        AuthConfig
	TicketCodes TicketCodeConfig
	Migrations  MigrationsConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	ConnRetries  int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	SaleFinalized string
	TicketStatus  string
}

// ReservationConfig holds the hold lifecycle knobs.
type ReservationConfig struct {
	HoldDuration    time.Duration
	MaxBatchSize    int
	SweepInterval   time.Duration
	SweepTimeout    time.Duration
	SweepBatchSize  int
	SweepOnRead     bool
	SweepLease      bool
	HoldTokenSecret string
}

type CommissionConfig struct {
	Rate           float64
	BonusThreshold int
	BonusPerTicket float64
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
}

type AuthConfig struct {
	OIDCIssuer string
	AdminRole  string
}

// TicketCodeConfig controls the QR codes issued for purchased tickets.
type TicketCodeConfig struct {
	Secret string
	Size   int
}

type MigrationsConfig struct {
	Dir         string
	AutoMigrate bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			ConnRetries:  getEnvInt("DB_CONN_RETRIES", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "raffle-notifier"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				SaleFinalized: getEnv("KAFKA_TOPIC_SALES", "raffle.sales.finalized"),
				TicketStatus:  getEnv("KAFKA_TOPIC_TICKET_STATUS", "raffle.tickets.status"),
			},
		},
		Reservation: ReservationConfig{
			HoldDuration:    getEnvDuration("HOLD_DURATION", 3*time.Hour),
			MaxBatchSize:    getEnvInt("MAX_BATCH_SIZE", 50),
			SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 45*time.Second),
			SweepTimeout:    getEnvDuration("SWEEP_TIMEOUT", 20*time.Second),
			SweepBatchSize:  getEnvInt("SWEEP_BATCH_SIZE", 500),
			SweepOnRead:     getEnvBool("SWEEP_ON_READ", true),
			SweepLease:      getEnvBool("SWEEP_LEASE", true),
			HoldTokenSecret: getEnv("HOLD_TOKEN_SECRET", ""),
		},
		Commission: CommissionConfig{
			Rate:           getEnvFloat("COMMISSION_RATE", 0.10),
			BonusThreshold: getEnvInt("COMMISSION_BONUS_THRESHOLD", 100),
			BonusPerTicket: getEnvFloat("COMMISSION_BONUS_PER_TICKET", 5),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "mxn")),
			SuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:     getEnv("CHECKOUT_CANCEL_URL", "http://localhost:3000/checkout/cancel"),
		},
		Telegram: TelegramConfig{
			BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: int64(getEnvInt("TELEGRAM_ADMIN_CHAT_ID", 0)),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			AdminRole:  getEnv("ADMIN_ROLE", "raffle-admin"),
		},
		TicketCodes: TicketCodeConfig{
			Secret: getEnv("TICKET_CODE_SECRET", ""),
			Size:   getEnvInt("TICKET_CODE_SIZE", 256),
		},
		Migrations: MigrationsConfig{
			Dir:         getEnv("MIGRATIONS_DIR", "./migrations"),
			AutoMigrate: getEnvBool("AUTO_MIGRATE", true),
		},
	}
}

// Validate rejects settings the reservation lifecycle cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Reservation.HoldDuration <= 0 {
		errs = append(errs, fmt.Errorf("HOLD_DURATION must be positive, got %s", c.Reservation.HoldDuration))
	}
	if c.Reservation.MaxBatchSize < 1 {
		errs = append(errs, fmt.Errorf("MAX_BATCH_SIZE must be at least 1, got %d", c.Reservation.MaxBatchSize))
	}
	if c.Reservation.SweepInterval < 30*time.Second || c.Reservation.SweepInterval > 60*time.Second {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be between 30s and 60s, got %s", c.Reservation.SweepInterval))
	}
	if c.Reservation.SweepBatchSize < 1 {
		errs = append(errs, fmt.Errorf("SWEEP_BATCH_SIZE must be at least 1, got %d", c.Reservation.SweepBatchSize))
	}
	if c.Commission.Rate < 0 || c.Commission.Rate > 1 {
		errs = append(errs, fmt.Errorf("COMMISSION_RATE must be within [0,1], got %v", c.Commission.Rate))
	}
	if c.Commission.BonusThreshold < 1 {
		errs = append(errs, fmt.Errorf("COMMISSION_BONUS_THRESHOLD must be at least 1, got %d", c.Commission.BonusThreshold))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
