package config

import (
	"context"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN": "postgres://localhost/catalogd",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 100, cfg.RateLimitPerMinute)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.True(t, cfg.S3.ForcePathStyle)
	assert.False(t, cfg.S3.Enabled())

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":                   "postgres://db/catalogd",
		"ADDR":                     ":9090",
		"CORS_ALLOWED_ORIGINS":     "https://a.example,https://b.example",
		"REQUEST_TIMEOUT":          "15s",
		"LOG_LEVEL":                "DEBUG",
		"BOOTSTRAP_ADMIN_USER":     "admin",
		"BOOTSTRAP_ADMIN_PASSWORD": "changeme",
		"S3_ENDPOINT":              "minio:9000",
		"S3_BUCKET":                "manifests",
		"S3_DISABLE_TLS":           "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "manifests", cfg.S3.Bucket)
	assert.True(t, cfg.S3.DisableTLS)
	assert.True(t, cfg.S3.Enabled())

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing dsn", env: map[string]string{}},
		{name: "bad level", env: map[string]string{"DB_DSN": "x", "LOG_LEVEL": "loud"}},
		{name: "bad timeout", env: map[string]string{"DB_DSN": "x", "REQUEST_TIMEOUT": "0s"}},
		{name: "half bootstrap", env: map[string]string{"DB_DSN": "x", "BOOTSTRAP_ADMIN_USER": "admin"}},
		{name: "bucket without endpoint", env: map[string]string{"DB_DSN": "x", "S3_BUCKET": "b"}},
		{name: "bad age recipient", env: map[string]string{"DB_DSN": "x", "MANIFEST_AGE_RECIPIENTS": "age1bogus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadWith(context.Background(), envconfig.MapLookuper(tt.env)); err == nil {
				t.Fatalf("expected error for %v", tt.env)
			}
		})
	}
}

func TestManifestRecipients(t *testing.T) {
	first, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	second, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"DB_DSN":                  "x",
		"MANIFEST_AGE_RECIPIENTS": first.Recipient().String() + ", " + second.Recipient().String(),
	}))
	require.NoError(t, err)

	recipients, err := cfg.Recipients()
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	assert.Equal(t, second.Recipient().String(), recipients[1].(*age.X25519Recipient).String())

	empty, err := (Config{}).Recipients()
	require.NoError(t, err)
	assert.Empty(t, empty)
}
