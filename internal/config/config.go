package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	KafkaBrokers          []string
	KafkaTicketTopic      string
	DefaultTenantID       string
	BusinessDayCutoffHour int
	OverpayTolerancePct   float64
	IdempotencyTTLSeconds int
	IdempotencyCacheSize  int
	MaxPaymentsPerCall    int
	AuthSecret            string
	AccessTokenTTLMinutes int
}

// Load reads configuration from the environment, after loading a local .env
// file when one is present. Tunables carry documented defaults; secrets and
// connection strings deliberately have none.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] skipping .env: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cutoff, err := strconv.Atoi(getEnv("BUSINESS_DAY_CUTOFF_HOUR", "6"))
	if err != nil || cutoff < 0 || cutoff > 23 {
		cutoff = 6
	}
	tolerance, err := strconv.ParseFloat(getEnv("OVERPAY_TOLERANCE_PCT", "10"), 64)
	if err != nil || tolerance < 0 {
		tolerance = 10
	}
	idemTTL, err := strconv.Atoi(getEnv("IDEMPOTENCY_TTL_SECONDS", "300"))
	if err != nil || idemTTL < 1 {
		idemTTL = 300
	}
	idemSize, err := strconv.Atoi(getEnv("IDEMPOTENCY_CACHE_SIZE", "1024"))
	if err != nil || idemSize < 1 {
		idemSize = 1024
	}
	maxPayments, err := strconv.Atoi(getEnv("MAX_PAYMENTS_PER_CALL", "10"))
	if err != nil || maxPayments < 1 {
		maxPayments = 10
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTicketTopic:      getEnv("KAFKA_TICKET_TOPIC", "kitchen-tickets"),
		DefaultTenantID:       getEnv("DEFAULT_TENANT_ID", "demo-tenant"),
		BusinessDayCutoffHour: cutoff,
		OverpayTolerancePct:   tolerance,
		IdempotencyTTLSeconds: idemTTL,
		IdempotencyCacheSize:  idemSize,
		MaxPaymentsPerCall:    maxPayments,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
