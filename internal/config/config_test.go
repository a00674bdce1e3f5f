package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 0.85, cfg.Routing.Thresholds.High)
	assert.Equal(t, 10*time.Minute, cfg.Routing.RecencyWindow)
	assert.Equal(t, 3, cfg.Routing.LowConfidenceCap)
	assert.Equal(t, 2*time.Minute, cfg.Routing.SessionLockTTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ROUTING_THRESHOLD_HIGH", "0.9")
	t.Setenv("ROUTING_RECENCY_WINDOW", "5m")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("ROUTING_LOW_CONFIDENCE_CAP", "not-a-number")

	cfg := Load()

	assert.Equal(t, 0.9, cfg.Routing.Thresholds.High)
	assert.Equal(t, 5*time.Minute, cfg.Routing.RecencyWindow)
	assert.Equal(t, "redis", cfg.Routing.SessionBackend)
	assert.Equal(t, 3, cfg.Routing.LowConfidenceCap, "invalid ints fall back to default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unordered thresholds", func(c *Config) { c.Routing.Thresholds.Medium = 0.8 }, true},
		{"boost outside medium_high", func(c *Config) { c.Routing.OverrideBoost = 0.9 }, true},
		{"zero window", func(c *Config) { c.Routing.RecencyWindow = 0 }, true},
		{"zero cap", func(c *Config) { c.Routing.LowConfidenceCap = 0 }, true},
		{"unknown backend", func(c *Config) { c.Routing.SessionBackend = "etcd" }, true},
		{"redis without lock ttl", func(c *Config) { c.Routing.SessionBackend = "redis"; c.Routing.SessionLockTTL = 0 }, true},
		{"memory ignores lock ttl", func(c *Config) { c.Routing.SessionLockTTL = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
