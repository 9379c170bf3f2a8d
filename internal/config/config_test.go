package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 8080
database:
  host: localhost
  port: 3306
  user: app
  password: pw
  name: cloudsense
nats:
  url: nats://localhost:4222
`))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "REVIEWS", cfg.NATS.Stream)
	assert.Equal(t, "reviews.jobs", cfg.NATS.Subject)
	assert.Equal(t, "review-worker", cfg.NATS.Durable)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 10*time.Minute, cfg.ReviewTimeout())
	assert.Equal(t, time.Minute, cfg.ReclaimEvery())
	assert.False(t, cfg.LegacyWebhookEnabled())
}

func TestDSNHelpers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: app
  password: pw
  name: cloudsense
`))
	require.NoError(t, err)

	assert.Contains(t, cfg.PostgresDSN(), "host=db.internal")
	assert.Contains(t, cfg.PostgresDSN(), "sslmode=disable")

	cfg.Database.Port = 3306
	assert.Equal(t, "app:pw@tcp(db.internal:3306)/cloudsense?parseTime=true&charset=utf8mb4&loc=UTC", cfg.MySQLDSN())
}

func TestLegacyWebhookRequiresBothFields(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
webhook:
  legacySecret: s3cret
`))
	require.NoError(t, err)
	assert.False(t, cfg.LegacyWebhookEnabled())

	cfg.Webhook.LegacyTenant = "acme"
	assert.True(t, cfg.LegacyWebhookEnabled())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
