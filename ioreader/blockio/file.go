// Package blockio implements the Reader interfaces pagevector consumes,
// backed by a real *os.File. Adapted from buffermgr/file_registry.go's
// ManagedFile: this library is read-only, so there is no reference
// counting or write path, just a mutex-guarded file handle offering
// ReadAt.
package blockio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by ReadAt after Close has been called.
var ErrClosed = errors.New("esedb: file reader closed")

// FileReader is a random-access reader over one *os.File. It is safe
// for concurrent use; pread-style reads do not share a file cursor.
type FileReader struct {
	mu     sync.RWMutex
	file   *os.File
	path   string
	closed bool
	logger *zap.SugaredLogger
}

// Open opens path read-only and returns a FileReader over it.
func Open(path string, logger *zap.SugaredLogger) (*FileReader, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("esedb: opening %s: %w", path, err)
	}
	return &FileReader{file: f, path: path, logger: logger}, nil
}

// ReadAt reads exactly n bytes starting at offset. A short read (past
// EOF) is reported as an error rather than a partial buffer — a
// truncated database file is always a hard failure for this reader.
func (r *FileReader) ReadAt(offset uint64, n int) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, n)
	read, err := r.file.ReadAt(buf, int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && read == n) {
		return nil, fmt.Errorf("esedb: reading %d bytes at offset %d from %s: %w", n, offset, r.path, err)
	}
	if read != n {
		return nil, fmt.Errorf("esedb: short read at offset %d from %s: got %d of %d bytes", offset, r.path, read, n)
	}
	return buf, nil
}

// Size returns the current size of the underlying file.
func (r *FileReader) Size() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, err := r.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("esedb: stat %s: %w", r.path, err)
	}
	return info.Size(), nil
}

// Close closes the underlying file. Further ReadAt calls fail with
// ErrClosed.
func (r *FileReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("esedb: closing %s: %w", r.path, err)
	}
	return nil
}
