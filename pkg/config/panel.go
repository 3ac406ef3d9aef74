package config

import "time"

// PanelConfig holds runtime configuration for the control-plane daemon.
type PanelConfig struct {
	Environment         string
	Addr                string
	DatabaseURL         string
	MigrationsDir       string
	JWTSecret           string
	SupervisorURL       string
	SupervisorToken     string
	ConsoleBufferLines  int
	MetricsPushEvery    time.Duration
	MetricsHistoryLimit int
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
}

// LoadPanelConfig constructs a PanelConfig from environment variables.
func LoadPanelConfig() PanelConfig {
	return PanelConfig{
		Environment:         GetString("APP_ENV", "development"),
		Addr:                GetString("PANEL_ADDR", ":4600"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://warden:warden@db:5432/warden?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		SupervisorURL:       GetString("SUPERVISOR_URL", "http://supervisor:4700"),
		SupervisorToken:     GetString("SUPERVISOR_TOKEN", ""),
		ConsoleBufferLines:  GetInt("CONSOLE_BUFFER_LINES", 500),
		MetricsPushEvery:    time.Duration(GetInt("METRICS_PUSH_SECONDS", 2)) * time.Second,
		MetricsHistoryLimit: GetInt("METRICS_HISTORY_LIMIT", 100),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
