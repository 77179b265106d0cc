package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Logger      LoggerConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Reservation ReservationConfig
	Tracing     TracingConfig
	Cart        CartConfig
}

type ServerConfig struct {
	AppEnv          string
	HTTPPort        string
	GRPCPort        string
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int
	AutoMigrate     bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers           []string
	OrdersTopic       string
	GroupID           string
	ReservationsTopic string
}

// ReservationConfig drives the reservation coordinator and the expiry sweeper.
type ReservationConfig struct {
	StorageDriver  string // postgres | memory
	HoldDuration   time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
	StockCacheTTL  time.Duration
	RetryMaxTries  int
	RetryMaxWait   time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

type CartConfig struct {
	ServiceURL     string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:          getEnv("APP_ENV", "dev"),
			HTTPPort:        getEnv("HTTP_PORT", ":8080"),
			GRPCPort:        getEnv("GRPC_PORT", ":8082"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "debug"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Postgres: PostgresConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnv("POSTGRES_PORT", "5433"),
			User:            getEnv("POSTGRES_USER", "omnipos"),
			Password:        getEnv("POSTGRES_PASSWORD", "omnipos"),
			DBName:          getEnv("POSTGRES_DB", "omnipos_product"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvInt("POSTGRES_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getEnvInt("POSTGRES_CONN_MAX_IDLE_TIME", 60),
			AutoMigrate:     getEnvBool("POSTGRES_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic:       getEnv("KAFKA_TOPIC_ORDERS", "orders.events"),
			GroupID:           getEnv("KAFKA_GROUP_RESERVATIONS", "product-reservations"),
			ReservationsTopic: getEnv("KAFKA_TOPIC_RESERVATIONS", "reservations.events"),
		},
		Reservation: ReservationConfig{
			StorageDriver:  getEnv("RESERVATION_STORAGE_DRIVER", "postgres"),
			HoldDuration:   getEnvDuration("RESERVATION_HOLD_DURATION", 15*time.Minute),
			SweepInterval:  getEnvDuration("RESERVATION_SWEEP_INTERVAL", 30*time.Second),
			SweepBatchSize: getEnvInt("RESERVATION_SWEEP_BATCH_SIZE", 100),
			StockCacheTTL:  getEnvDuration("STOCK_CACHE_TTL", 5*time.Second),
			RetryMaxTries:  getEnvInt("RESERVATION_RETRY_MAX_TRIES", 3),
			RetryMaxWait:   getEnvDuration("RESERVATION_RETRY_MAX_WAIT", 2*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "product-service"),
		},
		Cart: CartConfig{
			ServiceURL:     getEnv("CART_SERVICE_URL", ""),
			ConnectTimeout: getEnvDuration("CART_CONNECT_TIMEOUT", 3*time.Second),
			RequestTimeout: getEnvDuration("CART_REQUEST_TIMEOUT", 5*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("15m", "30s").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok {
		if strings.TrimSpace(value) == "" {
			return nil
		}
		return strings.Split(value, ",")
	}
	return fallback
}
