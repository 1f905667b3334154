// Package cmd implements the rawwriter command line.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/daq-rawwriter/internal/config"
	"github.com/neehar-mavuduru/daq-rawwriter/internal/observability"
	"github.com/neehar-mavuduru/daq-rawwriter/uploader"
)

// Version is set at build time
var Version = "dev"

// globalState carries the process streams and persistent flags shared by
// every subcommand
type globalState struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	configFile string

	// logger and objectStore override the configured ones, used by tests
	logger      *zap.Logger
	objectStore uploader.ObjectStore
}

// NewRootCommand builds the rawwriter command tree on the given streams
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	gs := &globalState{stdin: stdin, stdout: stdout, stderr: stderr}
	return newRootCommand(gs)
}

func newRootCommand(gs *globalState) *cobra.Command {
	root := &cobra.Command{
		Use:           "rawwriter",
		Short:         "Low-latency sequential raw data recorder",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(gs.stdin)
	root.SetOut(gs.stdout)
	root.SetErr(gs.stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&gs.configFile, "config", "c", "", "config file (YAML)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log encoding: json or console")

	root.AddCommand(
		newRecordCommand(gs),
		newInspectCommand(gs),
		newBenchCommand(gs),
	)
	return root
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, environment and this command's flags
func (gs *globalState) loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(gs.configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	if gs.logger != nil {
		return cfg, gs.logger, nil
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// addWriterFlags registers the ring geometry flags shared by record and bench
func addWriterFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("buffer-size", 0, "ring buffer size in bytes (default 4MB)")
	f.Int("block-size", 0, "direct I/O block size in bytes, a power of two (default 4096)")
	f.Int("num-buffers", 0, "ring depth, max writes in flight (default 8)")
	f.String("engine", "auto", "async write engine: auto, aio, queue")
	f.Bool("direct-io", true, "open the output with O_DIRECT")
	f.Bool("require-direct-io", false, "fail instead of falling back to buffered I/O")
	f.Bool("sync", true, "fsync the output on close")
}
