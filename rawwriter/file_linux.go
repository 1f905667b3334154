//go:build linux

package rawwriter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// rawFile is the destination file with offset-addressed writes
type rawFile struct {
	file   *os.File
	fd     int
	path   string
	direct bool
}

// openRawFile opens path with O_DIRECT, O_WRONLY, O_CREAT, O_TRUNC.
// Filesystems that reject O_DIRECT (EINVAL, e.g. tmpfs) get a buffered
// file unless requireDirect is set.
func openRawFile(path string, direct, requireDirect bool, logger *zap.Logger) (*rawFile, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	flags := unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC | unix.O_CLOEXEC
	fd := -1
	var err error

	if direct {
		fd, err = unix.Open(path, flags|unix.O_DIRECT, 0644)
		if errors.Is(err, unix.EINVAL) && !requireDirect {
			logger.Warn("filesystem rejected O_DIRECT, falling back to buffered I/O",
				zap.String("path", path),
			)
			direct = false
		} else if err != nil {
			return nil, fmt.Errorf("failed to open file with O_DIRECT: %w", err)
		}
	}

	if !direct {
		fd, err = unix.Open(path, flags, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
	}

	file := os.NewFile(uintptr(fd), path)
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to create file descriptor")
	}

	return &rawFile{
		file:   file,
		fd:     fd,
		path:   path,
		direct: direct,
	}, nil
}

// WriteAt writes all of p at off with pwrite; the file cursor does not move
func (f *rawFile) WriteAt(p []byte, off int64) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Pwrite(f.fd, p[written:], off+int64(written))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("pwrite failed: %w", err)
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
		written += n
	}
	return written, nil
}

// Truncate sets the file length
func (f *rawFile) Truncate(size int64) error {
	if err := unix.Ftruncate(f.fd, size); err != nil {
		return fmt.Errorf("ftruncate failed: %w", err)
	}
	return nil
}

// Sync flushes file data and metadata to the device
func (f *rawFile) Sync() error {
	if err := unix.Fsync(f.fd); err != nil {
		return fmt.Errorf("fsync failed: %w", err)
	}
	return nil
}

// Position returns the OS file cursor
func (f *rawFile) Position() (int64, error) {
	pos, err := unix.Seek(f.fd, 0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("lseek failed: %w", err)
	}
	return pos, nil
}

// Fd returns the raw descriptor used by kernel AIO
func (f *rawFile) Fd() int {
	return f.fd
}

// Direct reports whether O_DIRECT is active
func (f *rawFile) Direct() bool {
	return f.direct
}

// Close closes the descriptor
func (f *rawFile) Close() error {
	return f.file.Close()
}
