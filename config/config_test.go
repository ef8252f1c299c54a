package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvAppliesDefaults(t *testing.T) {
	t.Setenv("BUFFER_DURATION_MS", "")
	t.Setenv("DELAY_MS", "")
	t.Setenv("UPSTREAM_URL", "http://upstream.example/live.m3u8")

	cfg := FromEnv()

	assert.Equal(t, defaultBufferDuration, cfg.BufferDuration)
	assert.Equal(t, defaultDelay, cfg.Delay)
	assert.Equal(t, "http://upstream.example/live.m3u8", cfg.UpstreamURL)
	assert.Equal(t, 3, cfg.MaxConcurrentDownloads)
}

func TestFromEnvParsesOverrides(t *testing.T) {
	t.Setenv("BUFFER_DURATION_MS", "3600000")
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "7")
	t.Setenv("USE_DISK_STORAGE", "false")

	cfg := FromEnv()

	assert.Equal(t, time.Hour, cfg.BufferDuration)
	assert.Equal(t, 7, cfg.MaxConcurrentDownloads)
	assert.False(t, cfg.UseDiskStorage)
}

func TestValidateRejectsDelayNotLessThanBuffer(t *testing.T) {
	cfg := &Config{
		BufferDuration:         time.Hour,
		Delay:                  time.Hour,
		UpstreamURL:            "http://upstream.example",
		MaxConcurrentDownloads: 1,
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingUpstreamURL(t *testing.T) {
	cfg := &Config{
		BufferDuration:         time.Hour,
		Delay:                  time.Minute,
		MaxConcurrentDownloads: 1,
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsSaneConfig(t *testing.T) {
	cfg := &Config{
		BufferDuration:         time.Hour,
		Delay:                  time.Minute,
		UpstreamURL:            "http://upstream.example",
		MaxConcurrentDownloads: 1,
	}
	assert.NoError(t, cfg.Validate())
}

func TestSetConfigOverridesGlobal(t *testing.T) {
	original := GetConfig()
	defer SetConfig(original)

	custom := &Config{UpstreamURL: "http://custom.example"}
	SetConfig(custom)

	assert.Same(t, custom, GetConfig())
}
