package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("APP_STORAGE", "memory")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 2.0, cfg.Session.Tolerance)
	assert.Equal(t, 3*time.Hour, cfg.Session.StaleThreshold)
	assert.Equal(t, 180*time.Minute, cfg.Reconstruct.PlausibilityBound)
	assert.Equal(t, 0.6, cfg.Reconstruct.EngagementDiscount)
	assert.Equal(t, 30*time.Minute, cfg.Reconstruct.RepairCap)
	assert.Equal(t, 30, cfg.Scoring.SkipPenalty)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.Scheduler.RunOnStart)
	assert.True(t, cfg.IsDevelopment())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_STORAGE", "memory")
	t.Setenv("SESSION_STALE_THRESHOLD", "90m")
	t.Setenv("SESSION_TOLERANCE", "1.5")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SESSION_REAP_CONCURRENCY", "not-a-number")
	t.Setenv("SCHEDULER_RUN_ON_START", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Minute, cfg.Session.StaleThreshold)
	assert.Equal(t, 1.5, cfg.Session.Tolerance)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 8, cfg.Session.ReapConcurrency)
	assert.False(t, cfg.Scheduler.RunOnStart)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_STORAGE", "memory")
	t.Setenv("SESSION_TOLERANCE", "0.5")
	t.Setenv("RECONSTRUCT_ENGAGEMENT_DISCOUNT", "1.4")

	_, err := FromEnv()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "APP_STORAGE=memory is not allowed in production")
	assert.Contains(t, msg, "SESSION_TOLERANCE")
	assert.Contains(t, msg, "RECONSTRUCT_ENGAGEMENT_DISCOUNT")
	assert.Contains(t, msg, "OPERATOR_KEY_HASH")
}

func TestPostgresStorageNeedsURL(t *testing.T) {
	t.Setenv("APP_STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "engagement")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://engagement:@db:5432/postgres?sslmode=require", cfg.Database.URL)
}

func TestParseLeaseKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    string
		want    []LeaseKeySpec
		wantErr string
	}{
		{name: "empty", keys: "  "},
		{
			name: "two keys",
			keys: "primary:5, backup:2,",
			want: []LeaseKeySpec{{Label: "primary", MaxLeases: 5}, {Label: "backup", MaxLeases: 2}},
		},
		{name: "missing max", keys: "primary", wantErr: "want label:max"},
		{name: "zero max", keys: "primary:0", wantErr: "positive integer"},
		{name: "duplicate", keys: "a:1,a:2", wantErr: "duplicate label"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LeaseConfig{Keys: tt.keys}.ParseKeys()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateRejectsBadLeaseKeys(t *testing.T) {
	t.Setenv("APP_STORAGE", "memory")
	t.Setenv("LEASE_KEYS", "primary:many")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEASE_KEYS")
}

func TestCatalogURLValidated(t *testing.T) {
	t.Setenv("APP_STORAGE", "memory")
	t.Setenv("CATALOG_URL", "catalog.internal:8080")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CATALOG_URL")

	t.Setenv("CATALOG_URL", "https://catalog.internal")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Catalog.Timeout)
	assert.Equal(t, 200, cfg.Catalog.PageSize)
}
