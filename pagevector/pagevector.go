// Package pagevector implements the page loader: given a page number
// and a reader, it returns a parsed page.Page, using a pagecache.Cache
// to memoize the decode. Adapted from buffermgr.BufferPool.GetPage and
// btree_index's BTreeFile.readPage, simplified to the read-only case
// (no dirty tracking, no writeback) and parameterized per spec so the
// Tree Walker can hand it a fresh per-frame cache on every branch.
package pagevector

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"esedb/integrity"
	"esedb/page"
	"esedb/pagecache"
)

var (
	// ErrInvalidPageNumber is returned for page number 0 or any number
	// greater than the vector's LastPageNumber.
	ErrInvalidPageNumber = errors.New("esedb: invalid page number")

	// ErrIO wraps a failure from the supplied Reader.
	ErrIO = errors.New("esedb: page read failed")
)

// Reader is the random-access, synchronous byte source the core
// consumes. Implementations live in the blockio package.
type Reader interface {
	ReadAt(offset uint64, n int) ([]byte, error)
}

// Config carries the subset of the database's IoHandle the page loader
// needs: page geometry and the format-revision-driven header layout.
type Config struct {
	PageSize       int
	NewFormat      bool
	LastPageNumber uint32
}

// PagesVector is the shared, read-only-during-traversal table of page
// locations. It holds no page data itself — that lives in whichever
// Cache a caller supplies to Get.
type PagesVector struct {
	cfg             Config
	logger          *zap.SugaredLogger
	verifyChecksums bool
}

// New returns a PagesVector for the given geometry.
func New(cfg Config, logger *zap.SugaredLogger) *PagesVector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PagesVector{cfg: cfg, logger: logger}
}

// WithChecksumValidation enables integrity.VerifyChecksum on every page
// read through Get, in addition to the structural checks page.Decode
// already performs. Off by default: most callers trust the underlying
// storage and would rather not pay for folding every word of every page.
func (v *PagesVector) WithChecksumValidation(enabled bool) *PagesVector {
	v.verifyChecksums = enabled
	return v
}

// LastPageNumber reports the highest valid page number for this file.
func (v *PagesVector) LastPageNumber() uint32 { return v.cfg.LastPageNumber }

// pageOffset converts a 1-based logical page number into a physical
// file offset. Pages 0 and 1 are the two copies of the database header,
// occupying the first two page-sized blocks; logical page 1 begins at
// the third block.
func (v *PagesVector) pageOffset(pageNumber uint32) uint64 {
	return uint64(pageNumber+1) * uint64(v.cfg.PageSize)
}

// Get returns the page numbered pageNumber, serving it from cache when
// present and otherwise reading it through reader and decoding it.
func (v *PagesVector) Get(pageNumber uint32, reader Reader, cache *pagecache.Cache) (*page.Page, error) {
	if pageNumber == 0 || pageNumber > v.cfg.LastPageNumber {
		return nil, fmt.Errorf("esedb: page number %d (last valid %d): %w",
			pageNumber, v.cfg.LastPageNumber, ErrInvalidPageNumber)
	}

	if cache != nil {
		if p, ok := cache.Get(pageNumber); ok {
			return p, nil
		}
	}

	raw, err := reader.ReadAt(v.pageOffset(pageNumber), v.cfg.PageSize)
	if err != nil {
		return nil, fmt.Errorf("esedb: reading page %d at offset %d: %w: %v",
			pageNumber, v.pageOffset(pageNumber), ErrIO, err)
	}

	if v.verifyChecksums {
		if err := integrity.VerifyChecksum(raw, pageNumber, v.cfg.NewFormat); err != nil {
			return nil, fmt.Errorf("esedb: page %d failed checksum validation: %w", pageNumber, err)
		}
	}

	p, err := page.Decode(raw, pageNumber, v.cfg.NewFormat)
	if err != nil {
		return nil, fmt.Errorf("esedb: decoding page %d: %w", pageNumber, err)
	}

	v.logger.Debugw("loaded page", "page", pageNumber, "flags", p.Flags)

	if cache != nil {
		cache.Put(pageNumber, p)
	}
	return p, nil
}
