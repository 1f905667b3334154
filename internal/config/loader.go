package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/neehar-mavuduru/daq-rawwriter/rawwriter"
)

// EnvPrefix is the prefix of environment overrides, e.g. RAWWRITER_WRITER_BUFFER_SIZE
const EnvPrefix = "RAWWRITER"

// flagKeys maps command-line flag names to configuration keys
var flagKeys = map[string]string{
	"out":                 "writer.output",
	"buffer-size":         "writer.buffer_size",
	"block-size":          "writer.block_size",
	"num-buffers":         "writer.num_buffers",
	"engine":              "writer.engine",
	"direct-io":           "writer.direct_io",
	"require-direct-io":   "writer.require_direct_io",
	"sync":                "writer.sync_on_close",
	"log-level":           "logging.level",
	"log-format":          "logging.format",
	"metrics-addr":        "metrics.addr",
	"upload-bucket":       "upload.bucket",
	"upload-prefix":       "upload.object_prefix",
	"delete-after-upload": "upload.delete_after_upload",
}

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load reads defaults, then the optional file, environment and flags, in
// increasing precedence. flags may be nil.
func (l *Loader) Load(path string, flags *pflag.FlagSet) (*Config, error) {
	l.setDefaults()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := l.v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Load is a shorthand for NewLoader().Load
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	return NewLoader().Load(path, flags)
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	defaults := rawwriter.DefaultConfig("")

	// Writer defaults
	l.v.SetDefault("writer.output", "")
	l.v.SetDefault("writer.buffer_size", defaults.BufferSize)
	l.v.SetDefault("writer.block_size", defaults.BlockSize)
	l.v.SetDefault("writer.num_buffers", defaults.NumBuffers)
	l.v.SetDefault("writer.engine", string(defaults.Engine))
	l.v.SetDefault("writer.direct_io", defaults.DirectIO)
	l.v.SetDefault("writer.require_direct_io", false)
	l.v.SetDefault("writer.sync_on_close", defaults.SyncOnClose)

	// Observability defaults
	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "json")
	l.v.SetDefault("metrics.addr", "")

	// Upload defaults
	l.v.SetDefault("upload.bucket", "")
	l.v.SetDefault("upload.object_prefix", "")
	l.v.SetDefault("upload.chunk_size_mb", 16)
	l.v.SetDefault("upload.max_retries", 3)
	l.v.SetDefault("upload.retry_delay", "5s")
	l.v.SetDefault("upload.use_grpc", false)
	l.v.SetDefault("upload.grpc_pool_size", 4)
	l.v.SetDefault("upload.delete_after_upload", false)
	l.v.SetDefault("upload.parallel_threshold_mb", 0)
	l.v.SetDefault("upload.parallel_chunk_size_mb", 32)
	l.v.SetDefault("upload.max_parallel_uploads", 8)
}

// Validate validates the configuration. The output path is checked by the
// commands that need one.
func Validate(config *Config) error {
	w := config.Writer.RawWriter()
	w.Path = rawwriter.NullSinkPath
	if err := w.Validate(); err != nil {
		return err
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", config.Logging.Level)
	}

	if config.Upload.Enabled() {
		if config.Upload.ChunkSizeMB <= 0 {
			return errors.New("upload.chunk_size_mb must be positive")
		}
		if config.Upload.MaxRetries < 0 {
			return errors.New("upload.max_retries must not be negative")
		}
		if config.Upload.ParallelThresholdMB < 0 {
			return errors.New("upload.parallel_threshold_mb must not be negative")
		}
	}

	return nil
}
