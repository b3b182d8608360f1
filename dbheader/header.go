// Package dbheader decodes just enough of an ESE database file header to
// construct an IoHandle for the page-tree core: page geometry and the
// format revision that selects the old/new page header layout. It is
// not a full header validator — every other field of the real on-disk
// header (backup status, last-attach/detach positions, shadowing
// state) is outside this library's read path.
package dbheader

import (
	"errors"
	"fmt"

	"esedb/ioreader"
)

// File header field offsets the core actually consumes (spec.md §6).
// Page size lives at a fixed offset regardless of format revision; the
// two format fields gate old/new page-header layout selection.
const (
	offsetFormatVersion  = 216
	offsetFormatRevision = 220
	offsetPageSize       = 236

	// newFormatRevisionThreshold is the format_revision at and above
	// which pages carry the 52-byte header (40 bytes plus a 12-byte
	// extension) and new-style tag flag packing. The exact cutover
	// revision varies by Windows/ESE release; ReadIoHandle takes no
	// override, but its returned IoHandle.NewFormat field is exported and
	// can be overwritten by a caller that knows the layout from elsewhere.
	newFormatRevisionThreshold = 0x11
)

var (
	// ErrTruncatedHeader is returned when raw is too short to contain
	// the fields this package reads.
	ErrTruncatedHeader = errors.New("esedb: truncated file header")

	// ErrInvalidPageSize is returned when the decoded page_size is not
	// one of the sizes the format defines.
	ErrInvalidPageSize = errors.New("esedb: invalid page size")
)

var validPageSizes = map[uint32]bool{
	4096:  true,
	8192:  true,
	16384: true,
	32768: true,
}

// IoHandle carries the page geometry and format revision the core
// needs from the file header, without the rest of the header's fields.
type IoHandle struct {
	PageSize       uint32
	FormatVersion  uint32
	FormatRevision uint32
	LastPageNumber uint32
	NewFormat      bool
}

// ReadIoHandle decodes raw (expected to be one full copy of the file
// header, page 0 or its mirror at page 1) and derives LastPageNumber
// from fileSize: the header and its mirror occupy the first two
// page-sized blocks, so the number of pages available to the tree is
// fileSize/page_size - 2.
func ReadIoHandle(raw []byte, fileSize int64) (*IoHandle, error) {
	if len(raw) < offsetPageSize+4 {
		return nil, fmt.Errorf("esedb: header needs %d bytes, have %d: %w",
			offsetPageSize+4, len(raw), ErrTruncatedHeader)
	}

	version, err := ioreader.ReadU32LEAt(raw, offsetFormatVersion)
	if err != nil {
		return nil, fmt.Errorf("esedb: format_version: %w", err)
	}
	revision, err := ioreader.ReadU32LEAt(raw, offsetFormatRevision)
	if err != nil {
		return nil, fmt.Errorf("esedb: format_revision: %w", err)
	}
	pageSize, err := ioreader.ReadU32LEAt(raw, offsetPageSize)
	if err != nil {
		return nil, fmt.Errorf("esedb: page_size: %w", err)
	}
	if !validPageSizes[pageSize] {
		return nil, fmt.Errorf("esedb: page_size %d: %w", pageSize, ErrInvalidPageSize)
	}

	lastPageNumber := int64(0)
	if fileSize > 2*int64(pageSize) {
		lastPageNumber = fileSize/int64(pageSize) - 2
	}

	return &IoHandle{
		PageSize:       pageSize,
		FormatVersion:  version,
		FormatRevision: revision,
		LastPageNumber: uint32(lastPageNumber),
		NewFormat:      revision >= newFormatRevisionThreshold,
	}, nil
}
