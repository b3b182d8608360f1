//go:build !unix

package blockio

import (
	"errors"

	"go.uber.org/zap"
)

// ErrMmapUnsupported is returned by OpenMmap on platforms without a
// unix-style mmap syscall.
var ErrMmapUnsupported = errors.New("esedb: mmap not supported on this platform")

// MmapReader is unavailable outside unix builds; OpenMmap always fails
// so callers fall back to FileReader.
type MmapReader struct{}

// OpenMmap always returns ErrMmapUnsupported on this platform.
func OpenMmap(path string, logger *zap.SugaredLogger) (*MmapReader, error) {
	return nil, ErrMmapUnsupported
}

// ReadAt is unreachable; MmapReader is never constructed on this platform.
func (r *MmapReader) ReadAt(offset uint64, n int) ([]byte, error) {
	return nil, ErrMmapUnsupported
}

// Close is unreachable; MmapReader is never constructed on this platform.
func (r *MmapReader) Close() error {
	return nil
}

// Size is unreachable; MmapReader is never constructed on this platform.
func (r *MmapReader) Size() (int64, error) {
	return 0, ErrMmapUnsupported
}
