package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppMode       string
	DBDriver      string
	DBHost        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBPort        string
	DBPath        string
	JWTSecret     string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	NatsURL       string

	BrokerKind         string
	BrokerChannel      string
	BrokerRetryBackoff int // milliseconds
	InstanceID         string

	EncryptionKey       string
	MaxBodyLength       int
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	ReadReceipts        bool
	MessageRateLimit    int
	ShutdownGrace       int // seconds

	OTLPEndpoint string
}

var (
	BrokerRedis  = "redis"
	BrokerNats   = "nats"
	BrokerMemory = "memory"
)

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	instanceID := getEnv("INSTANCE_ID", "")
	if instanceID == "" {
		instanceID = uuid.New().String()
	}

	return &Config{
		AppPort:       getEnv("APP_PORT", "8080"),
		AppMode:       getEnv("APP_MODE", "debug"),
		DBDriver:      getEnv("DB_DRIVER", "postgres"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "roomcast"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBPath:        getEnv("DB_PATH", "roomcast.db"),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		NatsURL:       getEnv("NATS_URL", "nats://localhost:4222"),

		BrokerKind:         strings.ToLower(getEnv("BROKER_KIND", BrokerRedis)),
		BrokerChannel:      getEnv("BROKER_CHANNEL", "roomcast:broadcast"),
		BrokerRetryBackoff: getEnvAsInt("BROKER_RETRY_BACKOFF_MS", 2000),
		InstanceID:         instanceID,

		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
		MaxBodyLength:       getEnvAsInt("MAX_BODY_LENGTH", 4000),
		HistoryDefaultLimit: getEnvAsInt("HISTORY_DEFAULT_LIMIT", 50),
		HistoryMaxLimit:     getEnvAsInt("HISTORY_MAX_LIMIT", 100),
		ReadReceipts:        getEnvAsBool("READ_RECEIPTS", false),
		MessageRateLimit:    getEnvAsInt("MESSAGE_RATE_LIMIT", 60),
		ShutdownGrace:       getEnvAsInt("SHUTDOWN_GRACE_SECONDS", 5),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
