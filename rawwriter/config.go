package rawwriter

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// NullSinkPath is the destination that disables all I/O.
// A writer opened on it drops every byte and reports position 0.
const NullSinkPath = os.DevNull

const (
	defaultBlockSize  = 4096            // ext4 / NVMe logical block
	defaultBufferSize = 4 * 1024 * 1024 // 4MB per ring slot
	defaultNumBuffers = 8               // pipeline depth
	maxBufferSize     = 1024 * 1024 * 1024
)

// Engine selects the asynchronous write facility behind the ring
type Engine string

const (
	// EngineAuto uses kernel AIO when io_setup succeeds, otherwise the worker queue
	EngineAuto Engine = "auto"
	// EngineAIO requires kernel AIO; setup fails if it is unavailable
	EngineAIO Engine = "aio"
	// EngineQueue uses a dedicated OS thread performing pwrite
	EngineQueue Engine = "queue"
)

// Config holds the configuration for a raw data writer
type Config struct {
	// Path is the destination file (required). NullSinkPath disables I/O.
	Path string

	// BufferSize is the size of each ring buffer in bytes (default: 4MB)
	// Must be a multiple of BlockSize.
	BufferSize int

	// BlockSize is the direct I/O alignment granularity (default: 4096)
	// Must be a power of two.
	BlockSize int

	// NumBuffers is the ring depth N, the maximum number of writes in flight (default: 8)
	NumBuffers int

	// Engine selects the async write facility (default: EngineAuto)
	Engine Engine

	// DirectIO opens the file with O_DIRECT where supported (default: true via DefaultConfig)
	DirectIO bool

	// RequireDirectIO turns a rejected O_DIRECT open into a setup error
	// instead of a buffered fallback
	RequireDirectIO bool

	// SyncOnClose fsyncs the file after the final truncate
	SyncOnClose bool

	// Logger receives diagnostics (default: no-op)
	Logger *zap.Logger

	// Metrics is optional; nil disables Prometheus instrumentation
	Metrics *Metrics
}

// DefaultConfig returns a configuration with baseline defaults
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		BufferSize:  defaultBufferSize,
		BlockSize:   defaultBlockSize,
		NumBuffers:  defaultNumBuffers,
		Engine:      EngineAuto,
		DirectIO:    true,
		SyncOnClose: true,
	}
}

// IsNullSink reports whether the configuration disables all I/O
func (c *Config) IsNullSink() bool {
	return c.Path == NullSinkPath
}

// Validate checks if the configuration is valid and applies defaults where needed
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: Path is required", ErrInvalidConfig)
	}

	if c.BlockSize <= 0 {
		c.BlockSize = defaultBlockSize
	}

	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}

	if c.NumBuffers <= 0 {
		c.NumBuffers = defaultNumBuffers
	}

	if c.Engine == "" {
		c.Engine = EngineAuto
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	if c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%w: BlockSize %d is not a power of two", ErrInvalidConfig, c.BlockSize)
	}

	if c.BufferSize%c.BlockSize != 0 {
		return fmt.Errorf("%w: BufferSize %d is not a multiple of BlockSize %d",
			ErrInvalidConfig, c.BufferSize, c.BlockSize)
	}

	if c.BufferSize > maxBufferSize {
		return fmt.Errorf("%w: BufferSize %d exceeds %d", ErrInvalidConfig, c.BufferSize, maxBufferSize)
	}

	switch c.Engine {
	case EngineAuto, EngineAIO, EngineQueue:
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, c.Engine)
	}

	return nil
}
