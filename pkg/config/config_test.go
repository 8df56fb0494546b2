package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigrc/pipeline/pkg/config"
)

// clearEnv blanks every variable Load reads so tests see a clean
// environment regardless of the shell they run in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "DATA_DIR",
		"API_KEYS_FILE", "SERVICE_TOKEN_SECRET",
		"SIGNING_MASTER_KEY", "SIGNATURE_VERIFICATION", "RULES_FILE",
		"RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_BURST",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"ARCHIVE_BACKEND", "ARCHIVE_DIR", "ARCHIVE_BUCKET",
		"ARCHIVE_REGION", "ARCHIVE_ENDPOINT", "ARCHIVE_PREFIX",
		"ARCHIVE_SEGMENT_EVENTS", "ARCHIVE_FLUSH_INTERVAL",
		"OTEL_ENABLED", "OTEL_ENDPOINT", "OTEL_INSECURE",
		"OTEL_SAMPLE_RATE", "ENVIRONMENT", "MAX_BATCH",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 600, cfg.RateLimitPerMinute)
	assert.Equal(t, 100, cfg.RateLimitBurst)
	assert.False(t, cfg.ArchiveEnabled())
	assert.Equal(t, 1000, cfg.ArchiveSegmentEvents)
	assert.Equal(t, time.Minute, cfg.ArchiveFlushInterval)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, "localhost:4317", cfg.OTelEndpoint)
	assert.False(t, cfg.OTelInsecure)
	assert.Equal(t, 1.0, cfg.OTelSampleRate)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 1000, cfg.MaxBatch)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://pipeline@db:5432/events")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "1200")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ARCHIVE_BACKEND", "s3")
	t.Setenv("ARCHIVE_BUCKET", "governance-archive")
	t.Setenv("ARCHIVE_FLUSH_INTERVAL", "30s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLE_RATE", "0.25")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("MAX_BATCH", "500")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, 1200, cfg.RateLimitPerMinute)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.True(t, cfg.ArchiveEnabled())
	assert.Equal(t, "governance-archive", cfg.ArchiveBucket)
	assert.Equal(t, 30*time.Second, cfg.ArchiveFlushInterval)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 0.25, cfg.OTelSampleRate)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 500, cfg.MaxBatch)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"RATE_LIMIT_PER_MINUTE", "many"},
		{"RATE_LIMIT_BURST", "1.5"},
		{"ARCHIVE_SEGMENT_EVENTS", "lots"},
		{"ARCHIVE_FLUSH_INTERVAL", "soon"},
		{"OTEL_SAMPLE_RATE", "most"},
		{"MAX_BATCH", "無"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := config.Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestLoadSignatureVerificationNeedsKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNATURE_VERIFICATION", "true")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNING_MASTER_KEY")

	t.Setenv("SIGNING_MASTER_KEY", "b2c3d4e5f60718293a4b5c6d7e8f9012b2c3d4e5f60718293a4b5c6d7e8f9012")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.SignatureVerification)
}

func writeKeysFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func TestLoadKeys(t *testing.T) {
	path := writeKeysFile(t, `
orgs:
  - orgId: org-a
    name: production
    keys:
      - ak_live_orga_4f3a9c1e7b2d
      - ak_live_orga_backup_11aa22bb
  - orgId: org-b
    keys:
      - ak_live_orgb_8e1d5a6c9f30
`)
	kf, err := config.LoadKeys(path)
	require.NoError(t, err)
	require.Len(t, kf.Orgs, 2)
	assert.Equal(t, "org-a", kf.Orgs[0].OrgID)
	assert.Equal(t, "production", kf.Orgs[0].Name)
	assert.Len(t, kf.Orgs[0].Keys, 2)
	assert.Equal(t, []string{"ak_live_orgb_8e1d5a6c9f30"}, kf.Orgs[1].Keys)
}

func TestLoadKeysRejectsBrokenFiles(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty file", ``, "no orgs"},
		{"org without id", "orgs:\n  - keys: [ak_live_x_1]\n", "no orgId"},
		{"org without keys", "orgs:\n  - orgId: org-a\n", "no keys"},
		{"blank key", "orgs:\n  - orgId: org-a\n    keys: ['  ']\n", "empty key"},
		{"shared key", "orgs:\n  - orgId: org-a\n    keys: [ak_live_dup_1]\n  - orgId: org-b\n    keys: [ak_live_dup_1]\n", "shared by"},
		{"malformed yaml", "orgs: [{{", "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.LoadKeys(writeKeysFile(t, tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadKeysMissingFile(t *testing.T) {
	_, err := config.LoadKeys(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
