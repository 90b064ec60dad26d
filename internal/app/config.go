package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// EnvPrefix — префикс переменных окружения сервиса.
const EnvPrefix = "STOREFRONT"

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr    string `envconfig:"GRPC_ADDR" default:":50051"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER" default:"memory"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC" default:"storefront.cart.events"`

	CartStorageKey string        `envconfig:"CART_STORAGE_KEY" default:"promo-team-cart"`
	SessionCookie  string        `envconfig:"SESSION_COOKIE" default:"cart_session"`
	SessionIdleTTL time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m"`

	SnapshotRetention       time.Duration `envconfig:"SNAPSHOT_RETENTION" default:"720h"`
	SnapshotCleanupInterval time.Duration `envconfig:"SNAPSHOT_CLEANUP_INTERVAL" default:"10m"`
	SnapshotCleanupBatch    int           `envconfig:"SNAPSHOT_CLEANUP_BATCH" default:"500"`

	CheckoutChannelURL string `envconfig:"CHECKOUT_CHANNEL_URL" default:"https://t.me/"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                ":8080",
		GRPCAddr:                ":50051",
		MetricsAddr:             ":9090",
		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		KafkaTopic:              kafka.TopicCartEvents,
		CartStorageKey:          cart.DefaultStorageKey,
		SessionCookie:           httpapi.DefaultSessionCookie,
		SessionIdleTTL:          30 * time.Minute,
		SnapshotRetention:       30 * 24 * time.Hour,
		SnapshotCleanupInterval: 10 * time.Minute,
		SnapshotCleanupBatch:    500,
		CheckoutChannelURL:      checkout.DefaultChannelURL,
		LogLevel:                log.InfoLevel.String(),
	}
}

// LoadConfig читает конфигурацию из переменных окружения с префиксом STOREFRONT_.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage driver requires POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address must not be empty"))
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, errors.New("session idle ttl must be positive"))
	}
	if c.SnapshotRetention <= 0 {
		errs = append(errs, errors.New("snapshot retention must be positive"))
	}
	if c.SnapshotCleanupInterval <= 0 {
		errs = append(errs, errors.New("snapshot cleanup interval must be positive"))
	}
	if c.SnapshotCleanupBatch <= 0 {
		errs = append(errs, errors.New("snapshot cleanup batch must be positive"))
	}
	if _, err := url.ParseRequestURI(c.CheckoutChannelURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid checkout channel url: %w", err))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Brokers разбирает список Kafka brokers через запятую.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Level возвращает уровень логирования; неизвестное значение даёт info.
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
