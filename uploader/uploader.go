package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Uploader archives completed raw data files to object storage
type Uploader struct {
	config      Config
	store       ObjectStore
	logger      *zap.Logger
	metrics     *Metrics
	uploadChan  chan string
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	uploadStats Stats
	statsMu     sync.RWMutex
	stopOnce    sync.Once
}

// Stats tracks upload statistics
type Stats struct {
	TotalFiles     int64
	Successful     int64
	Failed         int64
	TotalBytes     int64
	TotalDuration  time.Duration
	LastUploadTime time.Time
}

// New creates a GCS-backed uploader. metrics may be nil.
func New(config Config, logger *zap.Logger, metrics *Metrics) (*Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := newGCSStore(context.Background(), config)
	if err != nil {
		return nil, err
	}

	return NewWithStore(config, store, logger, metrics)
}

// NewWithStore creates an uploader on top of an existing ObjectStore
func NewWithStore(config Config, store ObjectStore, logger *zap.Logger, metrics *Metrics) (*Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Uploader{
		config:     config,
		store:      store,
		logger:     logger.With(zap.String("bucket", config.Bucket)),
		metrics:    metrics,
		uploadChan: make(chan string, config.ChannelBufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start starts the upload worker
func (u *Uploader) Start() {
	u.wg.Add(1)
	go u.uploadWorker()
}

// Stop drains queued files, waits for the worker and closes the store
func (u *Uploader) Stop() error {
	var err error
	u.stopOnce.Do(func() {
		close(u.uploadChan)
		u.wg.Wait()
		u.cancel()
		err = u.store.Close()
	})
	return err
}

// Abort cancels in-flight uploads and stops the worker
func (u *Uploader) Abort() error {
	u.cancel()
	return u.Stop()
}

// Channel returns the channel to send completed file paths to
func (u *Uploader) Channel() chan<- string {
	return u.uploadChan
}

// Enqueue queues a completed file without blocking; false means the queue is full
func (u *Uploader) Enqueue(filePath string) bool {
	select {
	case u.uploadChan <- filePath:
		return true
	default:
		u.logger.Warn("upload queue full, skipping file", zap.String("file", filePath))
		return false
	}
}

// GetStats returns current upload statistics
func (u *Uploader) GetStats() Stats {
	u.statsMu.RLock()
	defer u.statsMu.RUnlock()
	return u.uploadStats
}

// uploadWorker reads from channel and uploads files
func (u *Uploader) uploadWorker() {
	defer u.wg.Done()

	for filePath := range u.uploadChan {
		if filePath == "" {
			continue
		}

		err := u.uploadFileWithRetry(filePath)

		u.statsMu.Lock()
		u.uploadStats.TotalFiles++
		if err != nil {
			u.uploadStats.Failed++
		} else {
			u.uploadStats.Successful++
			u.uploadStats.LastUploadTime = time.Now()
		}
		u.statsMu.Unlock()

		if err != nil {
			u.logger.Error("upload failed",
				zap.String("file", filePath),
				zap.Int("maxRetries", u.config.MaxRetries),
				zap.Error(err),
			)
			u.metrics.incUploads("failed")
			continue
		}
		u.metrics.incUploads("success")
	}
}

// uploadFileWithRetry uploads a file with retry logic
func (u *Uploader) uploadFileWithRetry(filePath string) error {
	var lastErr error
	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Wait before retry
			select {
			case <-u.ctx.Done():
				return fmt.Errorf("uploader stopped: %w", lastErr)
			case <-time.After(u.config.RetryDelay):
			}
		}

		start := time.Now()
		size, err := u.uploadFile(filePath)
		duration := time.Since(start)

		if err == nil {
			u.statsMu.Lock()
			u.uploadStats.TotalBytes += size
			u.uploadStats.TotalDuration += duration
			u.statsMu.Unlock()
			u.metrics.observeUpload(size, duration)

			u.logger.Info("uploaded raw data file",
				zap.String("file", filePath),
				zap.String("object", u.objectName(filePath)),
				zap.Int64("bytes", size),
				zap.Duration("duration", duration),
			)
			return nil
		}

		lastErr = err
		if attempt < u.config.MaxRetries {
			u.logger.Warn("upload attempt failed, retrying",
				zap.String("file", filePath),
				zap.Int("attempt", attempt+1),
				zap.Int("attempts", u.config.MaxRetries+1),
				zap.Error(err),
			)
		}
	}

	return fmt.Errorf("upload failed after %d attempts: %w", u.config.MaxRetries+1, lastErr)
}

// uploadFile streams a single file to the store and verifies the object size
func (u *Uploader) uploadFile(filePath string) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}

	object := u.objectName(filePath)
	size := info.Size()
	if u.config.ParallelThreshold > 0 && size >= u.config.ParallelThreshold {
		if err := u.uploadParallel(u.ctx, file, size, object); err != nil {
			return 0, err
		}
	} else if err := u.uploadStream(file, size, object); err != nil {
		return 0, err
	}

	if u.config.DeleteAfterUpload {
		if err := os.Remove(filePath); err != nil {
			// Non-fatal - upload succeeded
			u.logger.Warn("failed to delete local file after upload",
				zap.String("file", filePath),
				zap.Error(err),
			)
		}
	}

	return size, nil
}

// uploadStream writes the whole file through one resumable writer
func (u *Uploader) uploadStream(r io.Reader, expected int64, object string) error {
	w := u.store.NewWriter(u.ctx, u.config.Bucket, object)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("write error: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}

	size, err := u.store.Size(u.ctx, u.config.Bucket, object)
	if err != nil {
		return err
	}
	if size != expected {
		// Try to delete malformed object
		_ = u.store.Delete(u.ctx, u.config.Bucket, object)
		return fmt.Errorf("size mismatch: expected %d bytes, got %d bytes", expected, size)
	}
	return nil
}

// objectName generates the object name from file path
func (u *Uploader) objectName(filePath string) string {
	return u.config.ObjectPrefix + filepath.Base(filePath)
}
