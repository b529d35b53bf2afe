package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort  string
	Environment string
	LogLevel    string

	FirebaseProject            string
	FirebaseServiceAccountJSON string
	FirebaseServiceAccountPath string

	UserUID     string
	DisplayName string
	RequireAuth bool

	FeedBackend    string // firestore | postgres
	FeedCollection string
	PostgresDSN    string

	StoreBackend string // pebble | sqlite | redis | memory
	StorePath    string
	RedisAddr    string
	RedisDB      int

	ProbeAddr     string
	ProbeInterval time.Duration

	TransmitTimeout    time.Duration
	FlushInterval      time.Duration
	MaxAttachmentBytes int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", ""),

		FirebaseProject:            getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebaseServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),

		UserUID:     getEnv("CHAT_USER_UID", ""),
		DisplayName: getEnv("CHAT_DISPLAY_NAME", "anonymous"),
		RequireAuth: getEnvAsBool("REQUIRE_AUTH", false),

		FeedBackend:    getEnv("FEED_BACKEND", "firestore"),
		FeedCollection: getEnv("FEED_COLLECTION", "messages"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),

		StoreBackend: getEnv("STORE_BACKEND", "pebble"),
		StorePath:    getEnv("STORE_PATH", "./data/chatsync"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      int(getEnvAsInt64("REDIS_DB", 0)),

		ProbeAddr:     getEnv("CONNECTIVITY_PROBE_ADDR", "firestore.googleapis.com:443"),
		ProbeInterval: getEnvAsDuration("CONNECTIVITY_PROBE_INTERVAL", 5*time.Second),

		TransmitTimeout:    getEnvAsDuration("TRANSMIT_TIMEOUT", 10*time.Second),
		FlushInterval:      getEnvAsDuration("FLUSH_INTERVAL", 30*time.Second),
		MaxAttachmentBytes: int(getEnvAsInt64("MAX_ATTACHMENT_BYTES", 700*1024)),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}
