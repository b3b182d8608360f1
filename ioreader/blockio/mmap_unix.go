//go:build unix

package blockio

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// MmapReader is a zero-copy Reader backed by a memory-mapped file. It
// is only available on unix platforms; cmd/esecat falls back to
// FileReader when mmap isn't supported or --mmap wasn't requested.
type MmapReader struct {
	mu     sync.RWMutex
	data   []byte
	path   string
	closed bool
	logger *zap.SugaredLogger
}

// OpenMmap mmaps path read-only for its entire length.
func OpenMmap(path string, logger *zap.SugaredLogger) (*MmapReader, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("esedb: opening %s for mmap: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("esedb: stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("esedb: %s is empty, nothing to map", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("esedb: mmap %s: %w", path, err)
	}

	logger.Debugw("mapped database file", "path", path, "bytes", len(data))
	return &MmapReader{data: data, path: path, logger: logger}, nil
}

// ReadAt returns a slice of the mapped region. The slice aliases the
// mapping directly; callers must not retain it past Close.
func (r *MmapReader) ReadAt(offset uint64, n int) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	if offset > uint64(len(r.data)) || offset+uint64(n) > uint64(len(r.data)) {
		return nil, fmt.Errorf("esedb: mmap read of %d bytes at offset %d exceeds mapping of %d bytes (%s)",
			n, offset, len(r.data), r.path)
	}
	return r.data[offset : offset+uint64(n)], nil
}

// Size returns the length of the mapped region.
func (r *MmapReader) Size() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.data)), nil
}

// Close unmaps the region.
func (r *MmapReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("esedb: munmap %s: %w", r.path, err)
	}
	return nil
}
