package config

import (
	"fmt"
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
	SnapshotTTLSeconds    int
	AMQPURL               string
	EventsExchange        string
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	CurrenciesFile        string
	DefaultCurrency       string
}

// LoadEnvFiles overlays .env files from the working directory onto the
// process environment and returns the files it loaded.
func LoadEnvFiles(files ...string) []string {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			continue
		}
		loaded = append(loaded, file)
	}
	return loaded
}

func Load() Config {
	redisDB := getEnvInt("REDIS_DB", 0)
	ttl := getEnvInt("SNAPSHOT_TTL_SECONDS", 30)
	if ttl < 1 {
		ttl = 30
	}
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	if tokenTTL < 1 {
		tokenTTL = 480
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		SnapshotTTLSeconds:    ttl,
		AMQPURL:               strings.TrimSpace(os.Getenv("AMQP_URL")),
		EventsExchange:        getEnv("EVENTS_EXCHANGE", "openinvoice.events"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		CurrenciesFile:        strings.TrimSpace(os.Getenv("CURRENCIES_FILE")),
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return val
}
