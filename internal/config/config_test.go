package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
destinations:
  - name: ops-chat
    url: https://hooks.example.com/services/T000
    rate_limit: {events: 60, per: 1m}
    max_batch_size: 20
    batch_timeout: 5s
    retry: {max_attempts: 3, base_delay: 1s, max_delay: 60s, multiplier: 2}
routing:
  general: ops-chat
  error_alert: ops-chat
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Intake.QueueSize)
	assert.Equal(t, 5*time.Minute, cfg.Intake.DedupWindow)
	assert.Equal(t, 256, cfg.Redaction.MaxFieldLen)
	assert.Equal(t, 512, cfg.Redaction.LongFieldLen)
	assert.Contains(t, cfg.Redaction.LongFields, "description")
	assert.Equal(t, 30*time.Second, cfg.DrainTimeout)

	require.Len(t, cfg.Destinations, 1)
	d := cfg.Destinations[0]
	assert.Equal(t, "ops-chat", d.Name)
	assert.Equal(t, 60, d.RateLimit.Events)
	assert.Equal(t, time.Minute, d.RateLimit.Per)
	assert.Equal(t, 5*time.Second, d.BatchTimeout)
	assert.Equal(t, 3, d.Retry.MaxAttempts)
	assert.Equal(t, 2.0, d.Retry.Multiplier)
}

func TestLoad_NoDestinations(t *testing.T) {
	_, err := Load(writeConfig(t, `logging: {level: debug}`))
	assert.ErrorIs(t, err, ErrNoDestinations)
}

func TestLoad_UnknownRoutingTarget(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
  subscriptions:
    push_detected: [nonexistent]
`))
	assert.ErrorIs(t, err, ErrUnknownRoutingTarget)
}

func TestLoad_DuplicateDestination(t *testing.T) {
	_, err := Load(writeConfig(t, `
destinations:
  - name: dup
    url: https://a.example.com/x
    rate_limit: {events: 1, per: 1m}
    max_batch_size: 1
    batch_timeout: 1s
    retry: {max_attempts: 1, base_delay: 1s, max_delay: 1s, multiplier: 1}
  - name: dup
    url: https://b.example.com/x
    rate_limit: {events: 1, per: 1m}
    max_batch_size: 1
    batch_timeout: 1s
    retry: {max_attempts: 1, base_delay: 1s, max_delay: 1s, multiplier: 1}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate destination")
}

func TestLoad_InvalidDestination(t *testing.T) {
	_, err := Load(writeConfig(t, `
destinations:
  - name: broken
    url: https://a.example.com/x
    rate_limit: {events: 1, per: 1m}
    max_batch_size: 0
    batch_timeout: 1s
    retry: {max_attempts: 1, base_delay: 1s, max_delay: 1s, multiplier: 1}
`))
	assert.Error(t, err)
}

func TestDestinationNamesAndSubscriptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"ops-chat"}, cfg.DestinationNames())
	assert.Empty(t, cfg.Subscriptions())
}
