package rawwriter

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Stats holds operational statistics for a writer
type Stats struct {
	BytesAppended    int64         // Total bytes accepted by Append
	BuffersSubmitted int64         // Full buffers handed to the async engine
	Barriers         int64         // Completion barriers taken
	MaxInFlight      int           // Highest number of simultaneously outstanding writes
	BarrierWait      time.Duration // Total time blocked in completion barriers
	Engine           string        // Async engine in use ("" for the null sink)
	DirectIO         bool          // Whether O_DIRECT is active
}

// Writer persists an append-only byte stream through a ring of aligned
// buffers and a depth-N asynchronous write pipeline.
//
// A Writer is not safe for concurrent use: a single producer calls Append,
// WriteHeader, FlushAll and Close. The only blocking point is the
// completion barrier taken when all N buffers are in flight.
type Writer struct {
	cfg  Config
	null bool

	file   *rawFile
	engine BlockWriter
	ring   *ring

	// globalOffset counts bytes submitted to the engine (multiple of BlockSize)
	globalOffset int64

	// finalSize is the logical length recorded by Close
	finalSize int64

	// err is the first unrecoverable error; every later call returns it
	err    error
	closed bool

	logger  *zap.Logger
	metrics *Metrics
	stats   Stats
}

// New opens cfg.Path and allocates the buffer ring.
// A path equal to NullSinkPath returns a writer that drops all data.
func New(cfg Config) (*Writer, error) {
	return newWriter(cfg, newBlockWriter)
}

func newWriter(cfg Config, factory blockWriterFactory) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Writer{
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("path", cfg.Path)),
		metrics: cfg.Metrics,
	}

	if cfg.IsNullSink() {
		w.null = true
		w.logger.Info("raw writer discarding all data")
		return w, nil
	}

	file, err := openRawFile(cfg.Path, cfg.DirectIO, cfg.RequireDirectIO, w.logger)
	if err != nil {
		return nil, newIOError(KindSetup, "open", cfg.Path, err)
	}
	if cfg.DirectIO && !file.Direct() {
		w.metrics.incDirectIOFallback()
	}

	r, err := newRing(cfg.NumBuffers, cfg.BufferSize, cfg.BlockSize)
	if err != nil {
		file.Close()
		return nil, newIOError(KindSetup, "alloc", cfg.Path, err)
	}

	engine, err := factory(&w.cfg, file)
	if err != nil {
		r.release()
		file.Close()
		return nil, newIOError(KindSetup, "aio_setup", cfg.Path, err)
	}

	w.file = file
	w.ring = r
	w.engine = engine
	w.stats.Engine = engine.Name()
	w.stats.DirectIO = file.Direct()

	w.logger.Info("raw writer opened",
		zap.String("engine", engine.Name()),
		zap.Bool("directIO", file.Direct()),
		zap.Int("bufferSize", cfg.BufferSize),
		zap.Int("blockSize", cfg.BlockSize),
		zap.Int("numBuffers", cfg.NumBuffers),
	)

	return w, nil
}

// Append copies p into the ring, submitting every buffer that becomes full.
// It blocks only when all N buffers are in flight.
func (w *Writer) Append(p []byte) error {
	if w.null {
		return nil
	}
	if err := w.usable(); err != nil {
		return err
	}

	for len(p) > 0 {
		cur := w.ring.cur()
		n := cur.fill(p)
		p = p[n:]
		w.stats.BytesAppended += int64(n)
		w.metrics.addAppended(n)

		if cur.full() {
			// Moves the ring to the next buffer, taking a barrier at N
			if err := w.submitCurrent(); err != nil {
				return err
			}
		}
	}

	return nil
}

// Write implements io.Writer on top of Append
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CurrentPosition returns the logical number of bytes appended so far,
// independent of how much has completed on disk.
func (w *Writer) CurrentPosition() int64 {
	if w.null {
		return 0
	}
	if w.ring == nil {
		return w.finalSize
	}
	return w.globalOffset + int64(w.ring.partial())
}

// CurrentFilePosition returns the cursor of the OS file handle. Offset
// addressed writes do not move it, so this is a diagnostic value only.
func (w *Writer) CurrentFilePosition() (int64, error) {
	if w.null {
		return 0, nil
	}
	if w.closed {
		return 0, ErrClosed
	}
	return w.file.Position()
}

// FlushAll waits for every outstanding asynchronous write and resets the
// ring. Bytes in the partially filled current buffer are kept.
func (w *Writer) FlushAll() error {
	if w.null {
		return nil
	}
	if err := w.usable(); err != nil {
		return err
	}
	return w.completeAll()
}

// Stats returns a snapshot of the writer statistics
func (w *Writer) Stats() Stats {
	return w.stats
}

// Path returns the destination path
func (w *Writer) Path() string {
	return w.cfg.Path
}

// Close waits for outstanding writes, flushes the partial buffer padded to
// a block boundary, truncates the file to the logical length and releases
// the buffers. Calling Close again returns the first result.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true

	if w.null {
		return nil
	}

	if w.err == nil {
		w.finish()
	}

	// Engine first: the kernel may still reference ring memory
	if err := w.engine.Close(); err != nil {
		w.fail(KindShutdown, "io_destroy", err)
	}
	if err := w.file.Close(); err != nil {
		w.fail(KindShutdown, "close", err)
	}
	if w.ring != nil {
		w.finalSize = w.globalOffset + int64(w.ring.partial())
		if err := w.ring.release(); err != nil {
			w.fail(KindShutdown, "munmap", err)
		}
		w.ring = nil
	}

	return w.err
}

// finish performs the final flush and truncation
func (w *Writer) finish() {
	if err := w.completeAll(); err != nil {
		return
	}

	cur := w.ring.cur()
	used := cur.used
	size := w.globalOffset + int64(used)

	// O_DIRECT needs whole blocks; the zeroed padding is cut by the truncate
	writeSize := int(alignUp(int64(used), int64(w.cfg.BlockSize)))
	if writeSize > 0 {
		clear(cur.data[used:writeSize])
		n, err := w.file.WriteAt(cur.data[:writeSize], w.globalOffset)
		if err != nil {
			w.fail(KindShutdown, "pwrite", err)
			return
		}
		if n != writeSize {
			w.fail(KindShutdown, "pwrite", fmt.Errorf("%w: wrote %d of %d bytes at offset %d",
				io.ErrShortWrite, n, writeSize, w.globalOffset))
			return
		}
	}

	if err := w.file.Truncate(size); err != nil {
		w.fail(KindShutdown, "ftruncate", err)
		return
	}

	if w.cfg.SyncOnClose {
		if err := w.file.Sync(); err != nil {
			w.fail(KindShutdown, "fsync", err)
			return
		}
	}

	w.metrics.observeClose(writeSize, size)
	w.logger.Info("raw writer closed",
		zap.Int64("size", size),
		zap.Int("finalFlushBytes", writeSize),
		zap.Int64("buffersSubmitted", w.stats.BuffersSubmitted),
		zap.Int64("barriers", w.stats.Barriers),
		zap.Duration("barrierWait", w.stats.BarrierWait),
	)
}

// submitCurrent hands the full current buffer to the engine at globalOffset
func (w *Writer) submitCurrent() error {
	cur := w.ring.cur()
	if err := checkBlock(cur.data, w.globalOffset, w.cfg.BlockSize); err != nil {
		return w.fail(KindSubmit, "io_submit", err)
	}
	if err := w.engine.Submit(cur.data, w.globalOffset); err != nil {
		return w.fail(KindSubmit, "io_submit", err)
	}

	w.globalOffset += int64(len(cur.data))
	w.stats.BuffersSubmitted++
	w.metrics.incSubmitted(w.stats.Engine)

	exhausted := w.ring.advance()
	if inFlight := w.ring.inFlight(); inFlight > w.stats.MaxInFlight {
		w.stats.MaxInFlight = inFlight
	}

	if exhausted {
		// No free buffer remains
		return w.completeAll()
	}
	return nil
}

// completeAll is the completion barrier: wait for every outstanding write,
// verify the count, then reset the ring.
func (w *Writer) completeAll() error {
	outstanding := w.ring.inFlight()
	if outstanding == 0 {
		return nil
	}

	start := time.Now()
	completed, err := w.engine.Await(outstanding)
	if err != nil {
		return w.fail(KindCompletion, "io_getevents", err)
	}
	if completed != outstanding {
		return w.fail(KindCompletion, "io_getevents",
			fmt.Errorf("%w: %d != %d", ErrCompletionMismatch, completed, outstanding))
	}
	wait := time.Since(start)

	w.ring.reset()
	w.stats.Barriers++
	w.stats.BarrierWait += wait
	w.metrics.observeBarrier(completed, wait.Seconds())

	w.logger.Debug("completion barrier",
		zap.Int("completed", completed),
		zap.Duration("wait", wait),
		zap.Int64("offset", w.globalOffset),
	)
	return nil
}

// usable returns the error that prevents further writes, if any
func (w *Writer) usable() error {
	if w.closed {
		return ErrClosed
	}
	return w.err
}

// fail records the first unrecoverable error and returns the sticky error
func (w *Writer) fail(kind Kind, op string, err error) error {
	if w.err == nil {
		w.err = newIOError(kind, op, w.cfg.Path, err)
		w.metrics.incError(kind)
		w.logger.Error("raw writer failed",
			zap.String("kind", kind.String()),
			zap.String("op", op),
			zap.Error(err),
		)
	}
	return w.err
}
