package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Server      ServerConfig
	Storage     string
	SeedFile    string
	Postgres    PostgresConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Reservation ReservationConfig
	LogLevel    string
	Location    *time.Location
	SeatMapTTL  time.Duration
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User        string
	Password    string
	Name        string
	Host        string
	Port        int
	SSLMode     string
	LockTimeout time.Duration
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

type AuthConfig struct {
	Secret string
	Issuer string
}

type ReservationConfig struct {
	ClaimLockTTL       time.Duration
	CodeLength         int
	CodeAttempts       int
	RateLimitPerMinute int
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: strEnv("SERVER_HOST", "localhost"),
			Port: serverPort,
		},
		Storage:  strEnv("STORAGE", StoragePostgres),
		SeedFile: os.Getenv("SEED_FILE"),
		LogLevel: strEnv("LOG_LEVEL", "info"),
	}

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.Postgres, err = postgresConfig(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case StorageMemory:
		if cfg.SeedFile == "" {
			return nil, fmt.Errorf("%s: STORAGE=memory requires SEED_FILE", op)
		}
	default:
		return nil, fmt.Errorf("%s: invalid STORAGE %q", op, cfg.Storage)
	}

	if cfg.Redis, err = redisConfig(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.Auth = AuthConfig{
		Secret: os.Getenv("JWT_SECRET"),
		Issuer: strEnv("JWT_ISSUER", "seatline"),
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("%s: missing JWT_SECRET", op)
	}

	cfg.Location, err = time.LoadLocation(strEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid TIMEZONE: %w", op, err)
	}

	if cfg.SeatMapTTL, err = durationEnv("SEATMAP_TTL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if cfg.Reservation, err = reservationConfig(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cfg, nil
}

func postgresConfig() (PostgresConfig, error) {
	port, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}

	lockTimeout, err := durationEnv("POSTGRES_LOCK_TIMEOUT", 3*time.Second)
	if err != nil {
		return PostgresConfig{}, err
	}

	cfg := PostgresConfig{
		User:        os.Getenv("POSTGRES_USER"),
		Password:    os.Getenv("POSTGRES_PASSWORD"),
		Name:        os.Getenv("POSTGRES_DB"),
		Host:        strEnv("POSTGRES_HOST", "localhost"),
		Port:        port,
		SSLMode:     strEnv("POSTGRES_SSLMODE", "disable"),
		LockTimeout: lockTimeout,
	}

	if cfg.User == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_USER")
	}

	if cfg.Password == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_PASSWORD")
	}

	if cfg.Name == "" {
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_DB")
	}

	return cfg, nil
}

func redisConfig() (RedisConfig, error) {
	enabled, err := boolEnv("REDIS_ENABLED", true)
	if err != nil {
		return RedisConfig{}, err
	}

	db, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  enabled,
		Addr:     strEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func reservationConfig() (ReservationConfig, error) {
	var (
		cfg ReservationConfig
		err error
	)

	if cfg.ClaimLockTTL, err = durationEnv("CLAIM_LOCK_TTL", 10*time.Second); err != nil {
		return cfg, err
	}

	if cfg.CodeLength, err = intEnv("CODE_LENGTH", 8); err != nil {
		return cfg, err
	}
	if cfg.CodeLength < 4 {
		return cfg, fmt.Errorf("CODE_LENGTH must be at least 4")
	}

	if cfg.CodeAttempts, err = intEnv("CODE_ATTEMPTS", 5); err != nil {
		return cfg, err
	}
	if cfg.CodeAttempts < 1 {
		return cfg, fmt.Errorf("CODE_ATTEMPTS must be positive")
	}

	// 0 disables rate limiting.
	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", 10); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func strEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return v, nil
}
