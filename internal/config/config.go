package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	StoreDriver string // "mysql" or "memory"

	DBHost           string
	DBPort           string
	DBUser           string
	DBPass           string
	DBName           string
	DBConnectRetries int

	RedisAddr      string
	IdempotencyTTL time.Duration

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTSecret   string
	RateLimit   float64
	RateBurst   int
	LockStripes int
}

// Load reads the configuration from the environment. Values in a .env file
// in the working directory are applied first and never override variables
// that are already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8082"),
		StoreDriver:      getEnv("STORE_DRIVER", "mysql"),
		DBHost:           getEnv("DB_HOST", "127.0.0.1"),
		DBPort:           getEnv("DB_PORT", "3306"),
		DBUser:           getEnv("DB_USER", "root"),
		DBPass:           os.Getenv("DB_PASS"),
		DBName:           getEnv("DB_NAME", "pantry-db"),
		DBConnectRetries: getEnvInt("DB_CONNECT_RETRIES", 10),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		IdempotencyTTL:   getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		KafkaEnabled:     getEnvBool("KAFKA_ENABLED", true),
		KafkaBrokers:     getKafkaBrokerURLs(),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "inventory-topic"),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", "pantry-analytics-group"),
		JWTSecret:        getEnv("JWT_SECRET", "secret"),
		RateLimit:        getEnvFloat("RATE_LIMIT", 10),
		RateBurst:        getEnvInt("RATE_BURST", 20),
		LockStripes:      getEnvInt("LOCK_STRIPES", 64),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getKafkaBrokerURLs() []string {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092,localhost:9093,localhost:9094" // Default brokers
	}
	return strings.Split(brokers, ",")
}
