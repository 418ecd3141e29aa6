package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("MIN_SEGMENT_DURATION", "")
	t.Setenv("WAITER_DELAY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Live.Environment)
	assert.Equal(t, 10*time.Second, cfg.Live.MinSegmentDuration)
	assert.Equal(t, 5*time.Second, cfg.Live.WaiterDelay)
	assert.Equal(t, "liveops-sg", cfg.Live.SecurityGroupTag)
	assert.Equal(t, 5, cfg.Database.ConnectAttempts)
	assert.Equal(t, 2*time.Second, cfg.Database.ConnectDelay)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("RETENTION_TEST", "90")
	assert.Equal(t, 90*time.Second, getEnvDuration("RETENTION_TEST", time.Hour))

	t.Setenv("RETENTION_TEST", "36h")
	assert.Equal(t, 36*time.Hour, getEnvDuration("RETENTION_TEST", time.Hour))

	t.Setenv("RETENTION_TEST", "soon")
	assert.Equal(t, time.Hour, getEnvDuration("RETENTION_TEST", time.Hour))
}

func TestLoadRejectsNonPositiveWaiter(t *testing.T) {
	t.Setenv("WAITER_MAX_ATTEMPTS", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WAITER_MAX_ATTEMPTS")
}

func TestDSNPrefersURL(t *testing.T) {
	c := DatabaseConfig{URL: "postgres://db/live", Host: "ignored"}
	assert.Equal(t, "postgres://db/live", c.DSN())

	c = DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", c.DSN())
}
