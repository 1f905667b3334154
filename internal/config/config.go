// Package config loads the rawwriter process configuration.
package config

import (
	"time"

	"github.com/neehar-mavuduru/daq-rawwriter/internal/observability"
	"github.com/neehar-mavuduru/daq-rawwriter/rawwriter"
	"github.com/neehar-mavuduru/daq-rawwriter/uploader"
)

// Config is the root configuration for the rawwriter commands
type Config struct {
	Writer  WriterConfig                `mapstructure:"writer"`
	Logging observability.LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig               `mapstructure:"metrics"`
	Upload  UploadConfig                `mapstructure:"upload"`
}

// WriterConfig mirrors rawwriter.Config
type WriterConfig struct {
	Output          string `mapstructure:"output"`
	BufferSize      int    `mapstructure:"buffer_size"`
	BlockSize       int    `mapstructure:"block_size"`
	NumBuffers      int    `mapstructure:"num_buffers"`
	Engine          string `mapstructure:"engine"`
	DirectIO        bool   `mapstructure:"direct_io"`
	RequireDirectIO bool   `mapstructure:"require_direct_io"`
	SyncOnClose     bool   `mapstructure:"sync_on_close"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

// UploadConfig mirrors uploader.Config
type UploadConfig struct {
	Bucket            string        `mapstructure:"bucket"` // empty disables upload
	ObjectPrefix      string        `mapstructure:"object_prefix"`
	ChunkSizeMB       int           `mapstructure:"chunk_size_mb"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	UseGRPC           bool          `mapstructure:"use_grpc"`
	GRPCPoolSize      int           `mapstructure:"grpc_pool_size"`
	DeleteAfterUpload bool          `mapstructure:"delete_after_upload"`

	// Files of at least ParallelThresholdMB are uploaded as composed chunks (0 disables)
	ParallelThresholdMB int `mapstructure:"parallel_threshold_mb"`
	ParallelChunkSizeMB int `mapstructure:"parallel_chunk_size_mb"`
	MaxParallelUploads  int `mapstructure:"max_parallel_uploads"`
}

// Enabled reports whether finished files should be archived
func (u UploadConfig) Enabled() bool {
	return u.Bucket != ""
}

// RawWriter converts the writer section into a rawwriter.Config
func (w WriterConfig) RawWriter() rawwriter.Config {
	return rawwriter.Config{
		Path:            w.Output,
		BufferSize:      w.BufferSize,
		BlockSize:       w.BlockSize,
		NumBuffers:      w.NumBuffers,
		Engine:          rawwriter.Engine(w.Engine),
		DirectIO:        w.DirectIO,
		RequireDirectIO: w.RequireDirectIO,
		SyncOnClose:     w.SyncOnClose,
	}
}

// Uploader converts the upload section into an uploader.Config
func (u UploadConfig) Uploader() uploader.Config {
	cfg := uploader.DefaultConfig(u.Bucket)
	cfg.ObjectPrefix = u.ObjectPrefix
	cfg.ChunkSize = u.ChunkSizeMB * 1024 * 1024
	cfg.MaxRetries = u.MaxRetries
	cfg.RetryDelay = u.RetryDelay
	cfg.UseGRPC = u.UseGRPC
	cfg.GRPCPoolSize = u.GRPCPoolSize
	cfg.DeleteAfterUpload = u.DeleteAfterUpload
	cfg.ParallelThreshold = int64(u.ParallelThresholdMB) * 1024 * 1024
	cfg.ParallelChunkSize = u.ParallelChunkSizeMB * 1024 * 1024
	cfg.MaxParallelUploads = u.MaxParallelUploads
	return cfg
}
