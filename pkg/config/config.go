package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config collects every knob the services read from the environment.
// Missing variables fall back to local-development defaults.
type Config struct {
	GatewayAddr string
	APIAddr     string

	KafkaBrokers []string
	KafkaTopic   string

	RedisAddr string

	ScyllaHosts []string
	Keyspace    string

	JWTSecret string
	TokenTTL  time.Duration

	// OpTimeout bounds every registry/store call; PushTimeout bounds one
	// websocket delivery attempt during fanout.
	OpTimeout         time.Duration
	PushTimeout       time.Duration
	FanoutConcurrency int
}

func Load() Config {
	return Config{
		GatewayAddr:       getenv("GATEWAY_ADDR", ":8080"),
		APIAddr:           getenv("API_ADDR", ":8081"),
		KafkaBrokers:      strings.Split(getenv("KAFKA_BROKERS", "localhost:19092"), ","),
		KafkaTopic:        getenv("KAFKA_TOPIC", "chat-messages"),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:       strings.Split(getenv("SCYLLA_HOSTS", "localhost:9042"), ","),
		Keyspace:          getenv("SCYLLA_KEYSPACE", "chat"),
		JWTSecret:         getenv("JWT_SECRET", "my_secret_key"),
		TokenTTL:          24 * time.Hour,
		OpTimeout:         getdur("OP_TIMEOUT", 5*time.Second),
		PushTimeout:       getdur("PUSH_TIMEOUT", 10*time.Second),
		FanoutConcurrency: getint("FANOUT_CONCURRENCY", 64),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
