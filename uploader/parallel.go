package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxComposeSources is the GCS limit on source objects per compose request
const maxComposeSources = 32

// chunkPlan returns the part size and count for a parallel upload of size
// bytes, growing the part size so the count never exceeds maxComposeSources
func chunkPlan(size int64, chunkSize int) (int64, int) {
	part := int64(chunkSize)
	if part <= 0 {
		part = size
	}
	if floor := (size + maxComposeSources - 1) / maxComposeSources; part < floor {
		part = floor
	}
	if part == 0 {
		return 0, 0
	}
	return part, int((size + part - 1) / part)
}

// uploadParallel uploads sections of the file as temporary objects in
// parallel and composes them, in order, into the final object
func (u *Uploader) uploadParallel(ctx context.Context, r io.ReaderAt, size int64, object string) error {
	part, numChunks := chunkPlan(size, u.config.ParallelChunkSize)
	tempPrefix := fmt.Sprintf("%s.tmp.%d", object, time.Now().UnixNano())
	sources := make([]string, numChunks)
	for i := range sources {
		sources[i] = fmt.Sprintf("%s.chunk.%d", tempPrefix, i)
	}

	u.logger.Debug("starting parallel upload",
		zap.String("object", object),
		zap.Int("chunks", numChunks),
		zap.Int64("chunkBytes", part),
	)

	errs := make([]error, numChunks)
	sem := make(chan struct{}, u.config.MaxParallelUploads)
	var wg sync.WaitGroup

	for i := 0; i < numChunks; i++ {
		offset := int64(i) * part
		length := part
		if offset+length > size {
			length = size - offset
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(chunkIndex int, section *io.SectionReader) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[chunkIndex] = u.uploadChunk(ctx, sources[chunkIndex], section)
		}(i, io.NewSectionReader(r, offset, length))
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			u.cleanupTempChunks(ctx, sources)
			return fmt.Errorf("chunk %d failed: %w", i, err)
		}
	}

	composed, err := u.store.Compose(ctx, u.config.Bucket, object, sources)
	// Temporary chunks are removed whether or not compose succeeded
	u.cleanupTempChunks(ctx, sources)
	if err != nil {
		return fmt.Errorf("compose error: %w", err)
	}
	if composed != size {
		// Try to delete malformed object
		_ = u.store.Delete(ctx, u.config.Bucket, object)
		return fmt.Errorf("size mismatch: expected %d bytes, got %d bytes", size, composed)
	}

	return nil
}

// uploadChunk writes one section as a separate object and checks its size
func (u *Uploader) uploadChunk(ctx context.Context, object string, section *io.SectionReader) error {
	w := u.store.NewWriter(ctx, u.config.Bucket, object)
	if _, err := io.Copy(w, section); err != nil {
		w.Close()
		return fmt.Errorf("write error: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}

	size, err := u.store.Size(ctx, u.config.Bucket, object)
	if err != nil {
		return err
	}
	if size != section.Size() {
		return fmt.Errorf("chunk size mismatch: expected %d bytes, got %d bytes", section.Size(), size)
	}
	return nil
}

// cleanupTempChunks deletes temporary chunk objects; failures are logged
func (u *Uploader) cleanupTempChunks(ctx context.Context, sources []string) {
	var errs []error
	for _, object := range sources {
		if err := u.store.Delete(ctx, u.config.Bucket, object); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", object, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		u.logger.Warn("failed to cleanup temp chunks", zap.Error(err))
	}
}
