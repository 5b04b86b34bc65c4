package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bastionauth/bastion/internal/models"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	Alerts   AlertsConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	// RevocationFailClosed denies authenticated requests when the revocation
	// blacklist cannot be consulted
	RevocationFailClosed bool
}

type LockoutConfig struct {
	// Threshold is the number of consecutive failures before an account locks
	Threshold int
	// Duration is how long a lockout lasts once triggered
	Duration time.Duration
	// CleanupInterval is how often the reclaimer scans for expired lockouts
	CleanupInterval time.Duration
	// FailMode is "allow" or "deny": what the login gate does when the
	// attempt store cannot be reached during the lockout check
	FailMode string
}

type AlertsConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			AccessTokenExpiry:    getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry:   getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			RevocationFailClosed: getEnvAsBool("REVOCATION_FAIL_CLOSED", true),
		},
		Lockout: LockoutConfig{
			Threshold:       getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			Duration:        getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			CleanupInterval: getEnvAsDuration("LOCKOUT_CLEANUP_INTERVAL", 5*time.Minute),
			FailMode:        getEnv("LOCKOUT_FAIL_MODE", "allow"),
		},
		Alerts: AlertsConfig{
			Enabled:     getEnvAsBool("LOCKOUT_ALERTS_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Lockout.Validate(); err != nil {
		return nil, err
	}

	if cfg.Alerts.Enabled && cfg.Alerts.FromAddress == "" {
		return nil, fmt.Errorf("ALERT_FROM_ADDRESS is required when lockout alerts are enabled")
	}

	return cfg, nil
}

// Validate rejects lockout policy misconfiguration at startup. A bad value at
// request time would either disable the lockout entirely or lock accounts
// forever, so this is fatal.
func (c LockoutConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: LOCKOUT_THRESHOLD must be positive, got %d", models.ErrInvalidConfig, c.Threshold)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: LOCKOUT_DURATION must be positive, got %s", models.ErrInvalidConfig, c.Duration)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("%w: LOCKOUT_CLEANUP_INTERVAL must be positive, got %s", models.ErrInvalidConfig, c.CleanupInterval)
	}
	if c.FailMode != "allow" && c.FailMode != "deny" {
		return fmt.Errorf("%w: LOCKOUT_FAIL_MODE must be \"allow\" or \"deny\", got %q", models.ErrInvalidConfig, c.FailMode)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
