package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// MongoDB configuration
	MongoURI     string
	DatabaseName string

	// Server configuration
	Port string

	// Token codec keys, must stay stable across restarts
	TokenHashKey   string
	TokenCipherKey string

	// Session lifetimes
	SessionTTL time.Duration
	RefreshTTL time.Duration

	// Retention window for expired session rows before the sweep deletes them
	SessionRetention time.Duration

	// Presence
	OfflineGrace time.Duration

	// Delivery
	DeliveryReceiptDelay time.Duration
	BatchFlushWindow     time.Duration
	BatchMaxSize         int

	// Risk
	SuspiciousThreshold int
}

func LoadConfig() *Config {
	cfg := &Config{
		MongoURI:             getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DatabaseName:         getEnv("MONGO_DB_NAME", "chat_server"),
		Port:                 getEnv("PORT", "8080"),
		TokenHashKey:         getEnv("TOKEN_HASH_KEY", ""),
		TokenCipherKey:       getEnv("TOKEN_CIPHER_KEY", ""),
		SessionTTL:           getDuration("SESSION_TTL", 15*time.Minute),
		RefreshTTL:           getDuration("REFRESH_TTL", 30*24*time.Hour),
		SessionRetention:     getDuration("SESSION_RETENTION", 7*24*time.Hour),
		OfflineGrace:         getDuration("OFFLINE_GRACE", 2*time.Minute),
		DeliveryReceiptDelay: getDuration("DELIVERY_RECEIPT_DELAY", 300*time.Millisecond),
		BatchFlushWindow:     getDuration("BATCH_FLUSH_WINDOW", 25*time.Millisecond),
		BatchMaxSize:         getInt("BATCH_MAX_SIZE", 100),
		SuspiciousThreshold:  getInt("SUSPICIOUS_THRESHOLD", 70),
	}

	// Validate required configuration
	if cfg.TokenHashKey == "" || cfg.TokenCipherKey == "" {
		slog.Error("TOKEN_HASH_KEY or TOKEN_CIPHER_KEY not set, ephemeral keys will be generated")
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Error("Invalid duration, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Error("Invalid integer, using default", "key", key, "value", value)
	}
	return defaultValue
}
