package uploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memStore is an in-memory ObjectStore
type memStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failWrites int // number of writer closes to fail before succeeding
	truncate   bool
	deleted    []string
	closed     bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

type memWriter struct {
	store *memStore
	key   string
	buf   bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *memWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.store.failWrites > 0 {
		w.store.failWrites--
		return errors.New("transient store failure")
	}
	data := w.buf.Bytes()
	if w.store.truncate && len(data) > 0 {
		data = data[:len(data)-1]
	}
	w.store.objects[w.key] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) NewWriter(_ context.Context, bucket, object string) io.WriteCloser {
	return &memWriter{store: s, key: bucket + "/" + object}
}

func (s *memStore) Size(_ context.Context, bucket, object string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+object]
	if !ok {
		return 0, errors.New("object not found")
	}
	return int64(len(data)), nil
}

func (s *memStore) Delete(_ context.Context, bucket, object string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucket + "/" + object
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStore) Compose(_ context.Context, bucket, object string, sources []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var composed []byte
	for _, src := range sources {
		data, ok := s.objects[bucket+"/"+src]
		if !ok {
			return 0, errors.New("compose source not found: " + src)
		}
		composed = append(composed, data...)
	}
	s.objects[bucket+"/"+object] = composed
	return int64(len(composed)), nil
}

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memStore) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func writeRawFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func testUploadConfig() Config {
	cfg := DefaultConfig("daq-archive")
	cfg.ObjectPrefix = "run42/"
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	t.Run("RequiresBucket", func(t *testing.T) {
		cfg := Config{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("AppliesDefaults", func(t *testing.T) {
		cfg := Config{Bucket: "b", MaxRetries: -1}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 16*1024*1024, cfg.ChunkSize)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, 5*time.Second, cfg.RetryDelay)
		assert.Equal(t, 4, cfg.GRPCPoolSize)
		assert.Equal(t, 16, cfg.ChannelBufferSize)
	})
}

func TestUploader_UploadsFile(t *testing.T) {
	store := newMemStore()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	u, err := NewWithStore(testUploadConfig(), store, nil, metrics)
	require.NoError(t, err)
	u.Start()

	path, data := writeRawFile(t, "capture_0001.raw", 8192+64)
	u.Channel() <- path
	require.NoError(t, u.Stop())

	got, ok := store.object("daq-archive/run42/capture_0001.raw")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.True(t, store.closed)

	stats := u.GetStats()
	assert.Equal(t, int64(1), stats.TotalFiles)
	assert.Equal(t, int64(1), stats.Successful)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int64(len(data)), stats.TotalBytes)
	assert.False(t, stats.LastUploadTime.IsZero())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Uploads.WithLabelValues("success")))
	assert.Equal(t, float64(len(data)), testutil.ToFloat64(metrics.UploadedBytes))

	// Local file is kept by default
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestUploader_RetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	store.failWrites = 2

	u, err := NewWithStore(testUploadConfig(), store, nil, nil)
	require.NoError(t, err)
	u.Start()

	path, data := writeRawFile(t, "retry.raw", 4096)
	require.True(t, u.Enqueue(path))
	require.NoError(t, u.Stop())

	got, ok := store.object("daq-archive/run42/retry.raw")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(1), u.GetStats().Successful)
}

func TestUploader_GivesUpAfterMaxRetries(t *testing.T) {
	store := newMemStore()
	store.failWrites = 10

	cfg := testUploadConfig()
	cfg.MaxRetries = 1
	metrics := NewMetrics(prometheus.NewRegistry())

	u, err := NewWithStore(cfg, store, nil, metrics)
	require.NoError(t, err)
	u.Start()

	path, _ := writeRawFile(t, "doomed.raw", 512)
	u.Channel() <- path
	require.NoError(t, u.Stop())

	stats := u.GetStats()
	assert.Equal(t, int64(1), stats.TotalFiles)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 8, store.failWrites, "one initial attempt plus one retry")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Uploads.WithLabelValues("failed")))
}

func TestUploader_SizeMismatchDeletesObject(t *testing.T) {
	store := newMemStore()
	store.truncate = true

	cfg := testUploadConfig()
	cfg.MaxRetries = 0

	u, err := NewWithStore(cfg, store, nil, nil)
	require.NoError(t, err)
	u.Start()

	path, _ := writeRawFile(t, "short.raw", 1024)
	u.Channel() <- path
	require.NoError(t, u.Stop())

	_, ok := store.object("daq-archive/run42/short.raw")
	assert.False(t, ok)
	assert.Equal(t, []string{"daq-archive/run42/short.raw"}, store.deleted)
	assert.Equal(t, int64(1), u.GetStats().Failed)
}

func TestUploader_DeleteAfterUpload(t *testing.T) {
	store := newMemStore()
	cfg := testUploadConfig()
	cfg.DeleteAfterUpload = true

	u, err := NewWithStore(cfg, store, nil, nil)
	require.NoError(t, err)
	u.Start()

	path, _ := writeRawFile(t, "gone.raw", 2048)
	u.Channel() <- path
	require.NoError(t, u.Stop())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUploader_MissingFile(t *testing.T) {
	cfg := testUploadConfig()
	cfg.MaxRetries = 0

	u, err := NewWithStore(cfg, newMemStore(), nil, nil)
	require.NoError(t, err)
	u.Start()

	u.Channel() <- filepath.Join(t.TempDir(), "missing.raw")
	u.Channel() <- ""
	require.NoError(t, u.Stop())

	stats := u.GetStats()
	assert.Equal(t, int64(1), stats.TotalFiles)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestUploader_EnqueueFull(t *testing.T) {
	cfg := testUploadConfig()
	cfg.ChannelBufferSize = 1

	// Worker not started, so the queue fills
	u, err := NewWithStore(cfg, newMemStore(), nil, nil)
	require.NoError(t, err)

	assert.True(t, u.Enqueue("a.raw"))
	assert.False(t, u.Enqueue("b.raw"))

	u.Start()
	require.NoError(t, u.Abort())
	require.NoError(t, u.Stop(), "stop after abort is a no-op")
}

func TestUploader_ParallelCompose(t *testing.T) {
	store := newMemStore()
	cfg := testUploadConfig()
	cfg.ParallelThreshold = 4096
	cfg.ParallelChunkSize = 1000
	cfg.MaxParallelUploads = 2

	u, err := NewWithStore(cfg, store, nil, nil)
	require.NoError(t, err)
	u.Start()

	big, bigData := writeRawFile(t, "big.raw", 4500)
	small, smallData := writeRawFile(t, "small.raw", 100)
	u.Channel() <- big
	u.Channel() <- small
	require.NoError(t, u.Stop())

	got, ok := store.object("daq-archive/run42/big.raw")
	require.True(t, ok)
	assert.Equal(t, bigData, got)

	got, ok = store.object("daq-archive/run42/small.raw")
	require.True(t, ok)
	assert.Equal(t, smallData, got)

	// Temporary chunk objects are gone
	assert.ElementsMatch(t, []string{"daq-archive/run42/big.raw", "daq-archive/run42/small.raw"}, store.keys())
	assert.Len(t, store.deleted, 5)
	assert.Equal(t, int64(2), u.GetStats().Successful)
}

func TestUploader_ParallelChunkFailure(t *testing.T) {
	store := newMemStore()
	store.failWrites = 1
	cfg := testUploadConfig()
	cfg.MaxRetries = 0
	cfg.ParallelThreshold = 1
	cfg.ParallelChunkSize = 512
	cfg.MaxParallelUploads = 1

	u, err := NewWithStore(cfg, store, nil, nil)
	require.NoError(t, err)
	u.Start()

	path, _ := writeRawFile(t, "partial.raw", 2048)
	u.Channel() <- path
	require.NoError(t, u.Stop())

	assert.Empty(t, store.keys())
	assert.Equal(t, int64(1), u.GetStats().Failed)
}

func TestChunkPlan(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int
		wantPart  int64
		wantCount int
	}{
		{name: "even split", size: 4000, chunkSize: 1000, wantPart: 1000, wantCount: 4},
		{name: "short tail", size: 4500, chunkSize: 1000, wantPart: 1000, wantCount: 5},
		{name: "single chunk", size: 10, chunkSize: 1000, wantPart: 1000, wantCount: 1},
		{name: "capped at compose limit", size: 64000, chunkSize: 1000, wantPart: 2000, wantCount: 32},
		{name: "empty file", size: 0, chunkSize: 1000, wantPart: 1000, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			part, count := chunkPlan(tt.size, tt.chunkSize)
			assert.Equal(t, tt.wantPart, part)
			assert.Equal(t, tt.wantCount, count)
			assert.LessOrEqual(t, count, maxComposeSources)
		})
	}
}
