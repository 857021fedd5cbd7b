package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The package directory carries no config.yaml, so this exercises the
// defaults-only path.
func TestLoadConfigWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err, "a missing config file must not be fatal")

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, time.Minute, cfg.Dispatch.PollInterval)
	assert.Equal(t, 10, cfg.Dispatch.PoolSize)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.DeliveryTimeout)
	assert.Equal(t, 5, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.SendingLease)
	assert.Equal(t, 4, cfg.Dispatch.RecordConcurrency)

	assert.Equal(t, "remind.notifications", cfg.Push.Channel)
	assert.Equal(t, "IxUSVxfmI85P3LJciVVcUZk24uK6zNvZXYkeJrCm_48", cfg.Push.TemplateID)
	assert.Equal(t, "#459ae9", cfg.Push.TopColor)
	assert.Equal(t, "http://www.weixin.at", cfg.Push.BaseURL)
}
