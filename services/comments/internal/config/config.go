package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Event sources selectable with EVENTS_SOURCE.
const (
	EventsPostgres = "postgres"
	EventsBackend  = "backend"
	EventsStatic   = "static"
)

type Config struct {
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	JWTSecret   string
	GRPCAddr    string
	NATSURL     string

	EventsSource    string
	StaticEventIDs  []string
	BackendAPIURL   string
	BackendAPIToken string
	RedisURL        string
	EventCacheTTL   time.Duration

	// Retry and circuit-breaker settings for the backend client.
	MaxRetries         int
	RetryBaseDelay     time.Duration
	BackendTimeout     time.Duration
	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32

	HealthInterval time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:         int32(envInt("DB_MAX_CONNS", 10)),
		DBMinConns:         int32(envInt("DB_MIN_CONNS", 1)),
		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		GRPCAddr:           envString("GRPC_ADDR", ":9090"),
		NATSURL:            strings.TrimSpace(os.Getenv("NATS_URL")),
		EventsSource:       strings.ToLower(strings.TrimSpace(os.Getenv("EVENTS_SOURCE"))),
		StaticEventIDs:     splitList(os.Getenv("STATIC_EVENT_IDS")),
		BackendAPIURL:      strings.TrimSpace(os.Getenv("BACKEND_API_URL")),
		BackendAPIToken:    strings.TrimSpace(os.Getenv("BACKEND_API_TOKEN")),
		RedisURL:           strings.TrimSpace(os.Getenv("REDIS_URL")),
		EventCacheTTL:      envDuration("EVENT_CACHE_TTL", 5*time.Minute),
		MaxRetries:         envInt("BACKEND_MAX_RETRIES", 3),
		RetryBaseDelay:     envDuration("BACKEND_RETRY_BASE_DELAY", 200*time.Millisecond),
		BackendTimeout:     envDuration("BACKEND_TIMEOUT", 5*time.Second),
		CBMaxRequests:      uint32(envInt("CB_MAX_REQUESTS", 5)),
		CBInterval:         envDuration("CB_INTERVAL", 60*time.Second),
		CBTimeout:          envDuration("CB_TIMEOUT", 30*time.Second),
		CBFailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),
		HealthInterval:     envDuration("HEALTH_INTERVAL", 5*time.Second),
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	if cfg.EventsSource == "" {
		cfg.EventsSource = EventsPostgres
		if cfg.DatabaseURL == "" {
			cfg.EventsSource = EventsStatic
		}
	}
	switch cfg.EventsSource {
	case EventsPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("EVENTS_SOURCE=postgres requires DATABASE_URL")
		}
	case EventsBackend:
		if cfg.BackendAPIURL == "" {
			return Config{}, errors.New("EVENTS_SOURCE=backend requires BACKEND_API_URL")
		}
	case EventsStatic:
	default:
		return Config{}, fmt.Errorf("unknown EVENTS_SOURCE %q", cfg.EventsSource)
	}
	return cfg, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
