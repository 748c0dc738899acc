package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Report   ReportConfig
	Log      LogConfig
	Backend  string // "postgres" or "memory"
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Port        int
	FrontendURL string // allowed CORS origin
}

// DatabaseConfig holds the database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	DBName       string
	SSLMode      string
	TestDBName   string // Separate database for testing
	MaxOpenConns int
	MaxIdleConns int
}

// AuthConfig holds the authentication configuration
type AuthConfig struct {
	Salt           string
	TokenTTL       time.Duration
	PasswordScheme string // "sha256" or "bcrypt"
	InvitationTTL  time.Duration
}

// ReportConfig holds the monthly report settings
type ReportConfig struct {
	Timezone       string
	BoundedBuckets bool
	TaskWorkers    int
	TaskTTL        time.Duration
	MaxWait        time.Duration
}

// LogConfig holds the logger settings
type LogConfig struct {
	Level  string
	Format string
}

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// placeholderSalt is the AUTH_SALT default. It also keys the JWT signature,
// so it is only accepted with the memory backend.
const placeholderSalt = "your-salt-here"

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.DBName, c.SSLMode,
	)
}

// Location resolves the report timezone, falling back to UTC.
func (c *ReportConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoadConfig loads the configuration from environment variables.
// A .env file in the working directory is read first when present;
// variables already set in the environment win.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 4200),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Username:     getEnv("DB_USERNAME", "postgres"),
			Password:     getEnv("DB_PASSWORD", "password"),
			DBName:       getEnv("DB_NAME", "debtbook"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			TestDBName:   getEnv("TEST_DB_NAME", "debtbook_test"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Auth: AuthConfig{
			Salt:           getEnv("AUTH_SALT", placeholderSalt),
			TokenTTL:       getEnvAsDuration("AUTH_TOKEN_TTL", 24*time.Hour),
			PasswordScheme: getEnv("AUTH_PASSWORD_SCHEME", "sha256"),
			InvitationTTL:  getEnvAsDuration("INVITATION_TTL", time.Hour),
		},
		Report: ReportConfig{
			Timezone:       getEnv("REPORT_TIMEZONE", "UTC"),
			BoundedBuckets: getEnvAsBool("REPORT_BOUNDED_BUCKETS", false),
			TaskWorkers:    getEnvAsInt("REPORT_TASK_WORKERS", 4),
			TaskTTL:        getEnvAsDuration("REPORT_TASK_TTL", 10*time.Minute),
			MaxWait:        getEnvAsDuration("REPORT_MAX_WAIT", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Backend: getEnv("DATA_BACKEND", BackendPostgres),
	}
}

// Validate checks the configuration and returns every problem found
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", c.Server.Port))
	}

	switch c.Backend {
	case BackendPostgres:
		if c.Database.Host == "" {
			problems = append(problems, "DB_HOST cannot be empty when using the postgres backend")
		}
		if c.Database.DBName == "" {
			problems = append(problems, "DB_NAME cannot be empty when using the postgres backend")
		}
		if c.Auth.Salt == placeholderSalt {
			problems = append(problems, "AUTH_SALT must be set when using the postgres backend")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("invalid data backend '%s': must be one of [postgres memory]", c.Backend))
	}

	if c.Auth.Salt == "" {
		problems = append(problems, "AUTH_SALT cannot be empty")
	}
	if c.Auth.TokenTTL < time.Second {
		problems = append(problems, fmt.Sprintf("invalid token TTL %v: must be at least 1 second", c.Auth.TokenTTL))
	}
	if c.Auth.PasswordScheme != "sha256" && c.Auth.PasswordScheme != "bcrypt" {
		problems = append(problems, fmt.Sprintf("invalid password scheme '%s': must be sha256 or bcrypt", c.Auth.PasswordScheme))
	}
	if c.Auth.InvitationTTL <= 0 {
		problems = append(problems, "INVITATION_TTL must be positive")
	}

	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		problems = append(problems, fmt.Sprintf("invalid report timezone '%s': %v", c.Report.Timezone, err))
	}
	if c.Report.TaskWorkers < 1 {
		problems = append(problems, fmt.Sprintf("invalid report task workers %d: must be at least 1", c.Report.TaskWorkers))
	}
	if c.Report.MaxWait <= 0 {
		problems = append(problems, "REPORT_MAX_WAIT must be positive")
	}

	if len(problems) > 0 {
		return errors.New("configuration validation failed:\n- " + strings.Join(problems, "\n- "))
	}
	return nil
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
