package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("AUTH_TOKEN_TTL", "")
	t.Setenv("DATA_BACKEND", "")

	cfg := LoadConfig()

	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, time.Hour, cfg.Auth.InvitationTTL)
	assert.Equal(t, "sha256", cfg.Auth.PasswordScheme)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.False(t, cfg.Report.BoundedBuckets)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("AUTH_TOKEN_TTL", "2h")
	t.Setenv("REPORT_BOUNDED_BUCKETS", "true")
	t.Setenv("REPORT_TIMEZONE", "Asia/Tokyo")
	t.Setenv("DATA_BACKEND", "memory")

	cfg := LoadConfig()

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Report.BoundedBuckets)
	assert.Equal(t, "Asia/Tokyo", cfg.Report.Location().String())
	assert.Equal(t, BackendMemory, cfg.Backend)
	require.NoError(t, cfg.Validate())
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, Username: "u", Password: "p", DBName: "n", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=require", db.GetDSN())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := LoadConfig()
	cfg.Server.Port = 0
	cfg.Backend = "sheets"
	cfg.Auth.Salt = ""
	cfg.Auth.PasswordScheme = "md5"
	cfg.Report.Timezone = "Nowhere/City"
	cfg.Report.TaskWorkers = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "invalid port 0")
	assert.Contains(t, msg, "invalid data backend 'sheets'")
	assert.Contains(t, msg, "AUTH_SALT cannot be empty")
	assert.Contains(t, msg, "invalid password scheme 'md5'")
	assert.Contains(t, msg, "invalid report timezone")
	assert.Contains(t, msg, "invalid report task workers 0")
}

func TestValidateRejectsPlaceholderSalt(t *testing.T) {
	t.Setenv("AUTH_SALT", "")
	t.Setenv("DATA_BACKEND", "postgres")
	os.Unsetenv("AUTH_SALT")

	cfg := LoadConfig()
	require.Equal(t, placeholderSalt, cfg.Auth.Salt)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SALT must be set when using the postgres backend")

	cfg.Backend = BackendMemory
	assert.NoError(t, cfg.Validate())

	cfg.Backend = BackendPostgres
	cfg.Auth.Salt = "a-real-secret"
	assert.NoError(t, cfg.Validate())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	rc := ReportConfig{Timezone: "Not/AZone"}
	assert.Equal(t, time.UTC, rc.Location())
}
