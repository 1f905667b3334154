package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neehar-mavuduru/daq-rawwriter/rawwriter"
)

var smallRing = []string{
	"--engine=queue", "--direct-io=false", "--sync=false",
	"--block-size=512", "--buffer-size=2048", "--num-buffers=4",
}

// run executes the command tree and returns stdout
func run(t *testing.T, gs *globalState, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	gs.stdout, gs.stderr = &stdout, &stderr
	if gs.stdin == nil {
		gs.stdin = strings.NewReader("")
	}
	if gs.logger == nil {
		gs.logger = zap.NewNop()
	}

	root := newRootCommand(gs)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*13 + 5)
	}
	return b
}

func TestRecordAndInspect(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run42.raw")
	data := payload(512*5 + 100)

	gs := &globalState{stdin: bytes.NewReader(data)}
	stdout, err := run(t, gs, append([]string{"record",
		"--out", out,
		"--frequency", "200000000",
		"--mode", "qdc",
		"--trigger-id", "7",
		"--sync-epoch", "1.5",
		"--creation-time", "123456789",
	}, smallRing...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "recorded "+out)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Len(t, raw, rawwriter.HeaderSize+len(data))
	assert.Equal(t, data, raw[rawwriter.HeaderSize:])

	t.Run("text", func(t *testing.T) {
		stdout, err := run(t, &globalState{}, "inspect", out)
		require.NoError(t, err)
		assert.Contains(t, stdout, "Mode:           qdc")
		assert.Contains(t, stdout, "Trigger:        7")
		assert.Contains(t, stdout, "Frequency:      200000000 Hz")
		assert.Contains(t, stdout, "Creation Time:  123456789")
	})

	t.Run("json", func(t *testing.T) {
		stdout, err := run(t, &globalState{}, "inspect", "--json", out)
		require.NoError(t, err)

		var report headerReport
		require.NoError(t, json.Unmarshal([]byte(stdout), &report))
		assert.Equal(t, int64(len(raw)), report.FileSize)
		assert.Equal(t, int64(len(data)), report.PayloadSize)
		assert.Equal(t, 1.5, report.SyncEpoch)
		assert.Equal(t, "qdc", report.Mode)
		assert.Equal(t, 7, report.TriggerID)
	})
}

func TestRecord_InputFileNoHeader(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.bin")
	out := filepath.Join(dir, "out", "capture.raw")
	data := payload(10_000)
	require.NoError(t, os.WriteFile(in, data, 0o644))

	_, err := run(t, &globalState{}, append([]string{"record", "--no-header", "-i", in, "-o", out}, smallRing...)...)
	require.NoError(t, err)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, raw)
}

func TestRecord_NullSink(t *testing.T) {
	gs := &globalState{stdin: bytes.NewReader(payload(4096))}
	stdout, err := run(t, gs, "record", "--out", rawwriter.NullSinkPath, "--frequency", "1000", "--upload-bucket", "unused")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 bytes")
}

func TestRecord_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown mode", args: []string{"--out", "x.raw", "--frequency", "1", "--mode", "adc"}, want: "unknown mode"},
		{name: "missing frequency", args: []string{"--out", "x.raw"}, want: "--frequency"},
		{name: "frequency overflow", args: []string{"--out", "x.raw", "--frequency", "5000000000"}, want: "--frequency"},
		{name: "bad trigger", args: []string{"--out", "x.raw", "--frequency", "1", "--trigger-id", "-2"}, want: "--trigger-id"},
		{name: "missing output", args: []string{"--no-header"}, want: "--out is required"},
		{name: "bad block size", args: []string{"--out", "x.raw", "--no-header", "--block-size", "1000"}, want: "power of two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, &globalState{}, append([]string{"record"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// memStore is an in-memory uploader.ObjectStore
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type memObjectWriter struct {
	store *memStore
	key   string
	buf   bytes.Buffer
}

func (w *memObjectWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memObjectWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.objects[w.key] = w.buf.Bytes()
	return nil
}

func (s *memStore) NewWriter(_ context.Context, bucket, object string) io.WriteCloser {
	return &memObjectWriter{store: s, key: bucket + "/" + object}
}

func (s *memStore) Size(_ context.Context, bucket, object string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[bucket+"/"+object]
	if !ok {
		return 0, errors.New("not found")
	}
	return int64(len(b)), nil
}

func (s *memStore) Delete(_ context.Context, bucket, object string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, bucket+"/"+object)
	return nil
}

func (s *memStore) Compose(_ context.Context, bucket, object string, sources []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var composed []byte
	for _, src := range sources {
		composed = append(composed, s.objects[bucket+"/"+src]...)
	}
	s.objects[bucket+"/"+object] = composed
	return int64(len(composed)), nil
}

func (s *memStore) Close() error { return nil }

func TestRecord_Upload(t *testing.T) {
	out := filepath.Join(t.TempDir(), "run7.raw")
	data := payload(3000)
	store := &memStore{objects: make(map[string][]byte)}

	gs := &globalState{stdin: bytes.NewReader(data), objectStore: store}
	_, err := run(t, gs, append([]string{"record",
		"--out", out,
		"--no-header",
		"--upload-bucket", "daq-archive",
		"--upload-prefix", "runs/",
		"--delete-after-upload",
	}, smallRing...)...)
	require.NoError(t, err)

	store.mu.Lock()
	obj, ok := store.objects["daq-archive/runs/run7.raw"]
	store.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, data, obj)

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestInspect_Errors(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.raw")
	require.NoError(t, os.WriteFile(short, make([]byte, 10), 0o644))
	_, err := run(t, &globalState{}, "inspect", short)
	assert.ErrorIs(t, err, rawwriter.ErrInvalidHeader)

	both := make([]byte, rawwriter.HeaderSize)
	both[4] = 1  // qdc flag
	both[24] = 1 // mixed flag
	bad := filepath.Join(dir, "bad.raw")
	require.NoError(t, os.WriteFile(bad, both, 0o644))
	_, err = run(t, &globalState{}, "inspect", bad)
	assert.ErrorIs(t, err, rawwriter.ErrInvalidHeader)

	_, err = run(t, &globalState{}, "inspect", filepath.Join(dir, "missing.raw"))
	assert.Error(t, err)

	_, err = run(t, &globalState{}, "inspect")
	assert.Error(t, err)
}

func TestBench(t *testing.T) {
	out := filepath.Join(t.TempDir(), "bench.raw")

	stdout, err := run(t, &globalState{}, append([]string{"bench",
		"--out", out,
		"--chunk-size", "1000",
		"--total-mb", "1",
		"--num-chunks", "3",
		"--duration", "30s",
		"--keep",
	}, smallRing...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "RAW WRITER BENCHMARK RESULTS")
	assert.Contains(t, stdout, "Engine: queue")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(1049*1000), info.Size(), "whole chunks until 1MB is reached")
}

func TestBench_RemovesOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "bench.raw")
	_, err := run(t, &globalState{}, append([]string{"bench", "--out", out, "--chunk-size", "4096", "--total-mb", "1"}, smallRing...)...)
	require.NoError(t, err)

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestMetrics_CalculateStats(t *testing.T) {
	m := &Metrics{MinDuration: time.Hour}
	for i := 1; i <= 100; i++ {
		m.record(1024*1024, time.Duration(i)*time.Millisecond, nil)
	}
	m.record(0, 0, errors.New("boom"))

	stats := m.CalculateStats()
	assert.Equal(t, int64(100), stats.Iterations)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, time.Millisecond, stats.MinDuration)
	assert.Equal(t, 100*time.Millisecond, stats.MaxDuration)
	assert.Equal(t, 51*time.Millisecond, stats.P50Duration)
	assert.Equal(t, 96*time.Millisecond, stats.P95Duration)
	assert.Equal(t, 100*time.Millisecond, stats.P99Duration)
	assert.InDelta(t, 100/5.05, stats.ThroughputMBps, 0.01)

	empty := (&Metrics{MinDuration: time.Hour}).CalculateStats()
	assert.Zero(t, empty.MinDuration)
	assert.Zero(t, empty.AvgDuration)
}

func TestPercentile(t *testing.T) {
	assert.Zero(t, percentile(nil, 50))
	sorted := []time.Duration{1, 2, 3}
	assert.Equal(t, time.Duration(3), percentile(sorted, 100))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
}
