package rawwriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("AppliesDefaults", func(t *testing.T) {
		cfg := Config{Path: "run.raw"}
		require.NoError(t, cfg.Validate())

		assert.Equal(t, defaultBlockSize, cfg.BlockSize)
		assert.Equal(t, defaultBufferSize, cfg.BufferSize)
		assert.Equal(t, defaultNumBuffers, cfg.NumBuffers)
		assert.Equal(t, EngineAuto, cfg.Engine)
		assert.NotNil(t, cfg.Logger)
	})

	t.Run("DefaultConfigIsValid", func(t *testing.T) {
		cfg := DefaultConfig("run.raw")
		require.NoError(t, cfg.Validate())
		assert.True(t, cfg.DirectIO)
		assert.True(t, cfg.SyncOnClose)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"MissingPath", func(c *Config) { c.Path = "" }},
		{"BlockNotPowerOfTwo", func(c *Config) { c.BlockSize = 1000; c.BufferSize = 4000 }},
		{"BufferNotBlockMultiple", func(c *Config) { c.BlockSize = 512; c.BufferSize = 512*4 + 256 }},
		{"BufferTooLarge", func(c *Config) { c.BufferSize = 2 * maxBufferSize }},
		{"UnknownEngine", func(c *Config) { c.Engine = "io_uring" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("run.raw")
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfig_IsNullSink(t *testing.T) {
	assert.True(t, (&Config{Path: "/dev/null"}).IsNullSink())
	assert.False(t, (&Config{Path: "/data/run.raw"}).IsNullSink())
}
