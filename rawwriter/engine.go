package rawwriter

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// BlockWriter is the asynchronous write facility behind the ring.
// Implementations accept at most depth outstanding writes; the writer
// never submits more than that before calling Await.
type BlockWriter interface {
	// Submit enqueues a write of block at offset without waiting for it.
	// block must stay untouched until a later Await reports its completion.
	Submit(block []byte, offset int64) error

	// Await blocks until n outstanding writes complete and returns the
	// number of completions observed. Any failed or short write is an error.
	Await(n int) (int, error)

	// Pending returns the number of submitted writes not yet awaited
	Pending() int

	// Name identifies the facility in logs and metrics
	Name() string

	// Close releases the facility. Outstanding writes must be awaited first.
	Close() error
}

// blockWriterFactory builds a BlockWriter for an open file
type blockWriterFactory func(cfg *Config, f *rawFile) (BlockWriter, error)

// newBlockWriter selects the engine configured in cfg
func newBlockWriter(cfg *Config, f *rawFile) (BlockWriter, error) {
	switch cfg.Engine {
	case EngineQueue:
		return newQueueEngine(f, cfg.NumBuffers), nil

	case EngineAIO:
		return newKernelAIO(f, cfg.NumBuffers)

	default:
		bw, err := newKernelAIO(f, cfg.NumBuffers)
		if err == nil {
			return bw, nil
		}
		cfg.Logger.Warn("kernel AIO unavailable, using worker queue",
			zap.String("path", cfg.Path),
			zap.Error(err),
		)
		return newQueueEngine(f, cfg.NumBuffers), nil
	}
}

// checkBlock validates a submission against the block alignment contract
func checkBlock(block []byte, offset int64, blockSize int) error {
	if len(block) == 0 || len(block)%blockSize != 0 || offset%int64(blockSize) != 0 {
		return fmt.Errorf("%w: length=%d offset=%d block=%d", ErrMisaligned, len(block), offset, blockSize)
	}
	return nil
}

// joinCompletionErr keeps the first completion failure
func joinCompletionErr(first, err error) error {
	if first != nil {
		return first
	}
	return err
}

var errShortCompletion = errors.New("short asynchronous write")
