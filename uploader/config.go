package uploader

import (
	"fmt"
	"time"
)

// Config holds configuration for the GCS uploader
type Config struct {
	Bucket            string        // GCS bucket name (required)
	ObjectPrefix      string        // Object prefix (e.g., "daq/run42/")
	ChunkSize         int           // Resumable upload chunk size (default: 16MB)
	MaxRetries        int           // Max retry attempts (default: 3)
	RetryDelay        time.Duration // Delay between retries (default: 5s)
	UseGRPC           bool          // Use the gRPC storage transport
	GRPCPoolSize      int           // gRPC connection pool size (default: 4)
	ChannelBufferSize int           // Upload channel buffer size (default: 16)
	DeleteAfterUpload bool          // Remove the local file once the object is verified

	// Files of at least ParallelThreshold bytes are uploaded as parallel
	// chunks composed into the final object (0 disables)
	ParallelThreshold  int64
	ParallelChunkSize  int // Bytes per composed chunk (default: 32MB)
	MaxParallelUploads int // Concurrent chunk uploads (default: 8)
}

// DefaultConfig returns an upload configuration with defaults
func DefaultConfig(bucket string) Config {
	return Config{
		Bucket:             bucket,
		ChunkSize:          16 * 1024 * 1024, // 16MB
		MaxRetries:         3,
		RetryDelay:         5 * time.Second,
		GRPCPoolSize:       4,
		ChannelBufferSize:  16,
		ParallelChunkSize:  32 * 1024 * 1024, // 32MB
		MaxParallelUploads: 8,
	}
}

// Validate checks if the upload configuration is valid and applies defaults
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("bucket name is required")
	}

	if c.ChunkSize <= 0 {
		c.ChunkSize = 16 * 1024 * 1024
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = 3
	}

	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}

	if c.GRPCPoolSize <= 0 {
		c.GRPCPoolSize = 4
	}

	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = 16
	}

	if c.ParallelThreshold < 0 {
		return fmt.Errorf("parallel threshold must not be negative")
	}

	if c.ParallelChunkSize <= 0 {
		c.ParallelChunkSize = 32 * 1024 * 1024
	}

	if c.MaxParallelUploads <= 0 {
		c.MaxParallelUploads = 8
	}

	return nil
}
