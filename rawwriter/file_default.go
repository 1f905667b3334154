//go:build !linux

package rawwriter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// rawFile is the destination file (non-Linux fallback without O_DIRECT)
type rawFile struct {
	file *os.File
	path string
}

// openRawFile opens path for writing. Direct I/O is not available here;
// requireDirect turns that into an error.
func openRawFile(path string, direct, requireDirect bool, logger *zap.Logger) (*rawFile, error) {
	if direct && requireDirect {
		return nil, fmt.Errorf("direct I/O is not supported on this platform")
	}
	if direct {
		logger.Warn("direct I/O is not supported on this platform, using buffered I/O",
			zap.String("path", path),
		)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return &rawFile{file: file, path: path}, nil
}

// WriteAt writes all of p at off without moving the file cursor
func (f *rawFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.file.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("pwrite failed: %w", err)
	}
	return n, nil
}

// Truncate sets the file length
func (f *rawFile) Truncate(size int64) error {
	return f.file.Truncate(size)
}

// Sync flushes file data to the device
func (f *rawFile) Sync() error {
	return f.file.Sync()
}

// Position returns the OS file cursor
func (f *rawFile) Position() (int64, error) {
	return f.file.Seek(0, io.SeekCurrent)
}

// Fd returns the raw descriptor
func (f *rawFile) Fd() int {
	return int(f.file.Fd())
}

// Direct reports whether O_DIRECT is active
func (f *rawFile) Direct() bool {
	return false
}

// Close closes the file
func (f *rawFile) Close() error {
	return f.file.Close()
}
