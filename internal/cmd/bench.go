package cmd

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/daq-rawwriter/rawwriter"
)

type benchOptions struct {
	chunkSize     int
	totalMB       int
	duration      time.Duration
	numChunks     int
	keep          bool
	progressEvery int64
}

func newBenchCommand(gs *globalState) *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure append latency and throughput of the raw writer",
		Long: `Bench appends pre-generated pseudo-random chunks through the writer until
--total-mb or --duration is reached, whichever comes first, and reports
per-append latency percentiles and throughput.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, gs, opts)
		},
	}

	f := cmd.Flags()
	f.StringP("out", "o", "", "output file (default: a file in the temp dir)")
	f.IntVar(&opts.chunkSize, "chunk-size", 64*1024, "bytes per Append call")
	f.IntVar(&opts.totalMB, "total-mb", 1024, "stop after this many MB")
	f.DurationVar(&opts.duration, "duration", time.Minute, "stop after this long")
	f.IntVar(&opts.numChunks, "num-chunks", 16, "number of pre-generated chunks (for different data)")
	f.BoolVar(&opts.keep, "keep", false, "keep the output file")
	f.Int64Var(&opts.progressEvery, "progress-every", 0, "log progress every N appends (0 disables)")
	addWriterFlags(cmd)

	return cmd
}

func runBench(cmd *cobra.Command, gs *globalState, opts *benchOptions) error {
	if opts.chunkSize <= 0 || opts.numChunks <= 0 || opts.totalMB <= 0 {
		return fmt.Errorf("--chunk-size, --num-chunks and --total-mb must be positive")
	}

	cfg, logger, err := gs.loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	wcfg := cfg.Writer.RawWriter()
	if wcfg.Path == "" {
		wcfg.Path = filepath.Join(os.TempDir(), fmt.Sprintf("rawwriter-bench-%d.raw", os.Getpid()))
	}
	wcfg.Logger = logger
	if !opts.keep && !wcfg.IsNullSink() {
		defer os.Remove(wcfg.Path)
	}

	// Pre-generate chunks with different data (to avoid affecting measurements)
	chunks := make([][]byte, opts.numChunks)
	for i := range chunks {
		rng := rand.New(rand.NewSource(int64(i + 1000)))
		chunks[i] = make([]byte, opts.chunkSize)
		rng.Read(chunks[i])
	}

	w, err := rawwriter.New(wcfg)
	if err != nil {
		return err
	}

	metrics := &Metrics{
		Durations:   make([]time.Duration, 0, 10000),
		MinDuration: time.Hour,
	}

	limit := int64(opts.totalMB) * 1024 * 1024
	startTime := time.Now()
	endTime := startTime.Add(opts.duration)

	for i := 0; metrics.TotalBytes < limit && time.Now().Before(endTime); i++ {
		chunk := chunks[i%len(chunks)]

		appendStart := time.Now()
		err := w.Append(chunk)
		metrics.record(len(chunk), time.Since(appendStart), err)
		if err != nil {
			w.Close()
			return fmt.Errorf("append failed after %d bytes: %w", metrics.TotalBytes, err)
		}

		if opts.progressEvery > 0 && metrics.Iterations%opts.progressEvery == 0 {
			logger.Info("bench progress",
				zap.Int64("appends", metrics.Iterations),
				zap.Int64("bytes", metrics.TotalBytes),
				zap.Duration("elapsed", time.Since(startTime)),
			)
		}
	}

	closeStart := time.Now()
	if err := w.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	closeDuration := time.Since(closeStart)
	wall := time.Since(startTime)

	stats := metrics.CalculateStats()
	printStats(cmd.OutOrStdout(), stats, benchSummary{
		Path:          wcfg.Path,
		ChunkSize:     opts.chunkSize,
		Writer:        w.Stats(),
		CloseDuration: closeDuration,
		WallDuration:  wall,
	})
	return nil
}

// Metrics accumulates per-append latency samples
type Metrics struct {
	Iterations    int64
	TotalBytes    int64
	TotalDuration time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
	Durations     []time.Duration // For percentile calculation
	Errors        int64
}

func (m *Metrics) record(n int, d time.Duration, err error) {
	if err != nil {
		m.Errors++
		return
	}
	m.Iterations++
	m.TotalBytes += int64(n)
	m.TotalDuration += d
	m.Durations = append(m.Durations, d)
	if d < m.MinDuration {
		m.MinDuration = d
	}
	if d > m.MaxDuration {
		m.MaxDuration = d
	}
}

// BenchStats summarizes the collected samples
type BenchStats struct {
	Iterations     int64
	TotalBytes     int64
	Errors         int64
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgDuration    time.Duration
	P50Duration    time.Duration
	P95Duration    time.Duration
	P99Duration    time.Duration
	TotalDuration  time.Duration
	ThroughputMBps float64
}

func (m *Metrics) CalculateStats() BenchStats {
	stats := BenchStats{
		Iterations:    m.Iterations,
		TotalBytes:    m.TotalBytes,
		Errors:        m.Errors,
		MinDuration:   m.MinDuration,
		MaxDuration:   m.MaxDuration,
		TotalDuration: m.TotalDuration,
	}
	if m.Iterations == 0 {
		stats.MinDuration = 0
		return stats
	}
	stats.AvgDuration = time.Duration(m.TotalDuration.Nanoseconds() / m.Iterations)

	if len(m.Durations) > 0 {
		// Sort for percentile calculation
		sorted := make([]time.Duration, len(m.Durations))
		copy(sorted, m.Durations)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i] < sorted[j]
		})

		stats.P50Duration = percentile(sorted, 50)
		stats.P95Duration = percentile(sorted, 95)
		stats.P99Duration = percentile(sorted, 99)
	}

	// Calculate throughput
	if m.TotalDuration > 0 {
		stats.ThroughputMBps = float64(m.TotalBytes) / m.TotalDuration.Seconds() / (1024 * 1024)
	}

	return stats
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p / 100.0)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

type benchSummary struct {
	Path          string
	ChunkSize     int
	Writer        rawwriter.Stats
	CloseDuration time.Duration
	WallDuration  time.Duration
}

func printStats(w io.Writer, stats BenchStats, s benchSummary) {
	line := "════════════════════════════════════════════════════════════"
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "                  RAW WRITER BENCHMARK RESULTS")
	fmt.Fprintln(w, line)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Configuration:\n")
	fmt.Fprintf(w, "  Output: %s\n", s.Path)
	fmt.Fprintf(w, "  Engine: %s (direct I/O: %v)\n", s.Writer.Engine, s.Writer.DirectIO)
	fmt.Fprintf(w, "  Chunk Size: %d bytes\n", s.ChunkSize)
	fmt.Fprintf(w, "  Total Appends: %d\n", stats.Iterations)
	fmt.Fprintf(w, "  Total Bytes Written: %d (%.2f GB)\n", stats.TotalBytes, float64(stats.TotalBytes)/(1024*1024*1024))
	fmt.Fprintf(w, "  Buffers Submitted: %d\n", s.Writer.BuffersSubmitted)
	fmt.Fprintf(w, "  Barriers: %d (max in flight %d)\n", s.Writer.Barriers, s.Writer.MaxInFlight)
	fmt.Fprintf(w, "  Errors: %d\n", stats.Errors)
	fmt.Fprintln(w)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "Append Latency:")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  Min Duration:     %12.3f µs\n", micros(stats.MinDuration))
	fmt.Fprintf(w, "  Avg Duration:     %12.3f µs\n", micros(stats.AvgDuration))
	fmt.Fprintf(w, "  Max Duration:     %12.3f µs\n", micros(stats.MaxDuration))
	fmt.Fprintf(w, "  P50 (Median):     %12.3f µs\n", micros(stats.P50Duration))
	fmt.Fprintf(w, "  P95:              %12.3f µs\n", micros(stats.P95Duration))
	fmt.Fprintf(w, "  P99:              %12.3f µs\n", micros(stats.P99Duration))
	fmt.Fprintf(w, "  Barrier Wait:     %12.3f ms\n", s.Writer.BarrierWait.Seconds()*1000)
	fmt.Fprintf(w, "  Close:            %12.3f ms\n", s.CloseDuration.Seconds()*1000)
	fmt.Fprintln(w)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "Throughput:")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "  Append Throughput: %.2f MB/s\n", stats.ThroughputMBps)
	if s.WallDuration > 0 {
		fmt.Fprintf(w, "  Wall Throughput:   %.2f MB/s\n", float64(stats.TotalBytes)/s.WallDuration.Seconds()/(1024*1024))
	}
	fmt.Fprintf(w, "  Wall Duration:     %v\n", s.WallDuration)
	fmt.Fprintln(w)
	fmt.Fprintln(w, line)
}

func micros(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1000
}
