package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects where game records and auth tokens live.
type StoreBackend string

const (
	BackendMemory   StoreBackend = "memory"
	BackendRedis    StoreBackend = "redis"
	BackendPostgres StoreBackend = "postgres"
)

type AppConfig struct {
	ListenAddr string

	Backend     StoreBackend
	RedisURL    string
	DatabaseURL string

	// AuthTokens seeds the token resolver of whichever backend is selected.
	AuthTokens map[string]string

	MessagesDir string

	// AllowedOrigins are extra websocket origin patterns; the server's own host is always allowed.
	AllowedOrigins []string
	AdminClear     bool

	ReleaseSeatOnDisconnect bool
	ArchiveResults          bool
	WriteTimeout            time.Duration
	ShutdownTimeout         time.Duration
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		Backend:         BackendMemory,
		AuthTokens:      map[string]string{},
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))); v != "" {
		cfg.Backend = StoreBackend(v)
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("AUTH_TOKENS")); v != "" {
		tokens, err := parseTokens(v)
		if err != nil {
			return nil, err
		}
		cfg.AuthTokens = tokens
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_CLEAR")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AdminClear = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("RELEASE_SEAT_ON_DISCONNECT")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ReleaseSeatOnDisconnect = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("ARCHIVE_RESULTS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ArchiveResults = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("WRITE_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WriteTimeout = time.Duration(n) * time.Millisecond
		}
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Backend)
	}
	if cfg.ArchiveResults && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required when ARCHIVE_RESULTS is set")
	}
	return cfg, nil
}

// parseTokens reads "token:user,token2:user2".
func parseTokens(v string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tok, user, ok := strings.Cut(part, ":")
		tok, user = strings.TrimSpace(tok), strings.TrimSpace(user)
		if !ok || tok == "" || user == "" {
			return nil, fmt.Errorf("AUTH_TOKENS entry %q must be token:user", part)
		}
		out[tok] = user
	}
	return out, nil
}
