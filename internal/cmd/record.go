package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/daq-rawwriter/internal/config"
	"github.com/neehar-mavuduru/daq-rawwriter/internal/observability"
	"github.com/neehar-mavuduru/daq-rawwriter/rawwriter"
	"github.com/neehar-mavuduru/daq-rawwriter/uploader"
)

type recordOptions struct {
	input        string
	noHeader     bool
	frequency    int64
	mode         string
	triggerID    int
	syncEpoch    float64
	creationTime uint64
}

func newRecordCommand(gs *globalState) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Stream input bytes into a raw data file",
		Long: `Record copies an input stream into a raw data file through the aligned
buffer ring. Unless --no-header is given, a 64-byte acquisition header is
written first. The finished file is optionally uploaded to GCS.`,
		Example: `  daq-source | rawwriter record --out /data/run42.raw --frequency 250000000 --mode qdc --trigger-id 7`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecord(cmd, gs, opts)
		},
	}

	f := cmd.Flags()
	f.StringP("out", "o", "", "output raw data file ("+rawwriter.NullSinkPath+" discards)")
	f.StringVarP(&opts.input, "input", "i", "-", "input file, - for stdin")
	f.BoolVar(&opts.noHeader, "no-header", false, "do not write the acquisition header")
	f.Int64Var(&opts.frequency, "frequency", 0, "system frequency in Hz")
	f.StringVar(&opts.mode, "mode", "tot", "acquisition mode: tot, qdc, mixed")
	f.IntVar(&opts.triggerID, "trigger-id", rawwriter.NoTrigger, "trigger ID, -1 for none")
	f.Float64Var(&opts.syncEpoch, "sync-epoch", 0, "synchronization epoch")
	f.Uint64Var(&opts.creationTime, "creation-time", 0, "DAQ creation timestamp (default: now in ns)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while recording")
	f.String("upload-bucket", "", "upload the finished file to this GCS bucket")
	f.String("upload-prefix", "", "object name prefix for uploads")
	f.Bool("delete-after-upload", false, "remove the local file after a verified upload")
	addWriterFlags(cmd)

	return cmd
}

func (o *recordOptions) validate() (rawwriter.Mode, error) {
	mode, ok := rawwriter.ParseMode(o.mode)
	if !ok {
		return mode, fmt.Errorf("unknown mode %q (want tot, qdc or mixed)", o.mode)
	}
	if o.noHeader {
		return mode, nil
	}
	if o.frequency <= 0 || o.frequency > int64(^uint32(0)) {
		return mode, fmt.Errorf("--frequency must be in (0, %d], got %d", ^uint32(0), o.frequency)
	}
	if o.triggerID < rawwriter.NoTrigger {
		return mode, fmt.Errorf("--trigger-id must be >= -1, got %d", o.triggerID)
	}
	return mode, nil
}

func runRecord(cmd *cobra.Command, gs *globalState, opts *recordOptions) error {
	mode, err := opts.validate()
	if err != nil {
		return err
	}

	cfg, logger, err := gs.loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Writer.Output == "" {
		return errors.New("--out is required")
	}

	in, closeInput, err := openInput(gs, opts.input)
	if err != nil {
		return err
	}
	defer closeInput()

	registry := prometheus.NewRegistry()
	if cfg.Metrics.Addr != "" {
		srv, err := observability.StartMetricsServer(cfg.Metrics.Addr, registry, logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	wcfg := cfg.Writer.RawWriter()
	wcfg.Logger = logger
	wcfg.Metrics = rawwriter.NewMetrics(registry)

	w, err := rawwriter.New(wcfg)
	if err != nil {
		logger.Fatal("failed to open raw writer", zap.String("path", wcfg.Path), zap.Error(err))
	}

	if !opts.noHeader {
		creation := opts.creationTime
		if creation == 0 {
			creation = uint64(time.Now().UnixNano())
		}
		if err := w.WriteHeader(creation, opts.syncEpoch, opts.frequency, mode.String(), opts.triggerID); err != nil {
			logger.Fatal("failed to write header", zap.Error(err))
		}
	}

	start := time.Now()
	copied, err := io.Copy(w, in)
	if err != nil {
		var ioErr *rawwriter.IOError
		if errors.As(err, &ioErr) {
			logger.Fatal("raw write failed", zap.Int64("copied", copied), zap.Error(err))
		}
		// Input side failure: keep what was recorded
		logger.Error("input read failed, closing file", zap.Int64("copied", copied), zap.Error(err))
	}

	size := w.CurrentPosition()
	if err := w.Close(); err != nil {
		logger.Fatal("failed to finalize raw file", zap.Error(err))
	}
	elapsed := time.Since(start)

	stats := w.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "recorded %s: %d bytes (%d payload) in %v, %d buffers, %d barriers, engine=%s direct=%v\n",
		wcfg.Path, size, copied, elapsed.Round(time.Millisecond),
		stats.BuffersSubmitted, stats.Barriers, stats.Engine, stats.DirectIO)

	if !cfg.Upload.Enabled() || wcfg.IsNullSink() {
		return nil
	}
	return uploadFile(gs, cfg.Upload, wcfg.Path, registry, logger)
}

func openInput(gs *globalState, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return gs.stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// uploadFile archives a finished raw file and waits for the result
func uploadFile(gs *globalState, ucfg config.UploadConfig, path string, registry prometheus.Registerer, logger *zap.Logger) error {
	var (
		up  *uploader.Uploader
		err error
	)
	metrics := uploader.NewMetrics(registry)
	if gs.objectStore != nil {
		up, err = uploader.NewWithStore(ucfg.Uploader(), gs.objectStore, logger, metrics)
	} else {
		up, err = uploader.New(ucfg.Uploader(), logger, metrics)
	}
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}

	up.Start()
	up.Channel() <- path
	if err := up.Stop(); err != nil {
		logger.Warn("failed to close storage client", zap.Error(err))
	}

	if stats := up.GetStats(); stats.Failed > 0 {
		return fmt.Errorf("upload of %s failed", path)
	}
	return nil
}
