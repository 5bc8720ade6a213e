package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	"catalogd/pkg/s3"
)

// Config holds runtime configuration for the blueprints service and its CLI.
type Config struct {
	Addr                   string        `env:"ADDR,default=:8080"`
	DBDSN                  string        `env:"DB_DSN,required"`
	APIBaseURL             string        `env:"API_BASE_URL"`
	NATSURL                string        `env:"NATS_URL"`
	OTLPEndpoint           string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins         []string      `env:"CORS_ALLOWED_ORIGINS"`
	RateLimitPerMinute     int           `env:"RATE_LIMIT_PER_MINUTE,default=100"`
	RequestTimeout         time.Duration `env:"REQUEST_TIMEOUT,default=60s"`
	LogLevel               string        `env:"LOG_LEVEL,default=info"`
	BootstrapAdminUser     string        `env:"BOOTSTRAP_ADMIN_USER"`
	BootstrapAdminPassword string        `env:"BOOTSTRAP_ADMIN_PASSWORD"`
	ManifestRecipients     []string      `env:"MANIFEST_AGE_RECIPIENTS"`
	S3                     s3.Options    `env:",prefix=S3_"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith returns a Config populated from l.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if (c.BootstrapAdminUser == "") != (c.BootstrapAdminPassword == "") {
		return errors.New("BOOTSTRAP_ADMIN_USER and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	if c.S3.Bucket != "" && c.S3.Endpoint == "" {
		return errors.New("S3_ENDPOINT is required when S3_BUCKET is set")
	}
	if _, err := c.Recipients(); err != nil {
		return err
	}
	return nil
}

// Recipients parses ManifestRecipients as age X25519 public keys.
func (c Config) Recipients() ([]age.Recipient, error) {
	var out []age.Recipient
	for _, raw := range c.ManifestRecipients {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid MANIFEST_AGE_RECIPIENTS entry: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Level parses LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
