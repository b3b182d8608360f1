// Package esedb is the library facade: Open a database file, list its
// tables, and walk the catalog once to materialize their schemas.
// Grounded on the shape of server.go's top-level service construction
// (logger injection, functional options) rather than its networking —
// this package owns no listener, just one open file.
package esedb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"esedb/catalog"
	"esedb/dbheader"
	"esedb/ioreader/blockio"
	"esedb/pagecache"
	"esedb/pagetree"
	"esedb/pagevector"
)

// catalogRootPageNumber is LIBESEDB_PAGE_NUMBER_DATABASE: the fixed,
// one-based root page of the catalog tree (object identifier 2).
const catalogRootPageNumber = 4

// catalogObjectIdentifier is the FDP object identifier of the catalog
// tree itself.
const catalogObjectIdentifier = 2

// reader is the subset of blockio's two reader implementations the
// facade depends on: random access plus a lifecycle to close.
type reader interface {
	pagevector.Reader
	Close() error
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger          *zap.SugaredLogger
	cacheSize       int
	useMmap         bool
	verifyChecksums bool
}

// WithLogger injects a logger; a nil logger (the default) is replaced
// with a no-op one, matching every other constructor in this library.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCacheSize sets the capacity of the File's shared page cache, which
// is handed to every page tree the File builds. Default 64. The walks
// themselves load pages through their own per-frame caches and neither
// read from nor fill this shared cache.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithMmap requests a memory-mapped reader instead of pread-style file
// I/O. Falls back to a plain file reader (logged at Warn) if mmap is
// unavailable on the current platform or the mapping fails.
func WithMmap(enabled bool) Option {
	return func(o *options) { o.useMmap = enabled }
}

// WithChecksumValidation enables integrity.VerifyChecksum on every page
// this File loads, on top of the structural checks the decoder already
// performs. Off by default.
func WithChecksumValidation(enabled bool) Option {
	return func(o *options) { o.verifyChecksums = enabled }
}

// File is an open ESE database: its IoHandle, a shared pages vector
// and cache, and a lazily-populated catalog.
type File struct {
	path      string
	reader    reader
	ioHandle  *dbheader.IoHandle
	vector    *pagevector.PagesVector
	cache     *pagecache.Cache
	logger    *zap.SugaredLogger
	sessionID string

	tables     []catalog.Table
	tablesRead bool
}

// Open reads path's header, validates its geometry, and returns a File
// ready to list tables. The returned File owns an open file handle
// (or memory mapping); callers must call Close.
func Open(path string, opts ...Option) (*File, error) {
	cfg := options{cacheSize: 64}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop().Sugar()
	}
	sessionID := uuid.New().String()
	logger := cfg.logger.With("session", sessionID, "path", path)

	r, err := openReader(path, cfg, logger)
	if err != nil {
		return nil, err
	}

	headerBytes, err := r.ReadAt(0, headerProbeSize)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("esedb: reading header of %s: %w", path, err)
	}
	size, err := fileSize(r, path)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	ioHandle, err := dbheader.ReadIoHandle(headerBytes, size)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("esedb: parsing header of %s: %w", path, err)
	}

	vector := pagevector.New(pagevector.Config{
		PageSize:       int(ioHandle.PageSize),
		NewFormat:      ioHandle.NewFormat,
		LastPageNumber: ioHandle.LastPageNumber,
	}, logger).WithChecksumValidation(cfg.verifyChecksums)

	logger.Infow("opened database",
		"page_size", ioHandle.PageSize, "last_page_number", ioHandle.LastPageNumber, "new_format", ioHandle.NewFormat)

	return &File{
		path:      path,
		reader:    r,
		ioHandle:  ioHandle,
		vector:    vector,
		cache:     pagecache.New(cfg.cacheSize, logger),
		logger:    logger,
		sessionID: sessionID,
	}, nil
}

// headerProbeSize is large enough to contain every field dbheader
// reads, without assuming the file's actual page size up front.
const headerProbeSize = 256

func fileSize(r reader, path string) (int64, error) {
	type sizer interface{ Size() (int64, error) }
	if s, ok := r.(sizer); ok {
		sz, err := s.Size()
		if err != nil {
			return 0, fmt.Errorf("esedb: sizing %s: %w", path, err)
		}
		return sz, nil
	}
	return 0, fmt.Errorf("esedb: reader for %s cannot report its size", path)
}

func openReader(path string, cfg options, logger *zap.SugaredLogger) (reader, error) {
	if cfg.useMmap {
		m, err := blockio.OpenMmap(path, logger)
		if err == nil {
			return m, nil
		}
		logger.Warnw("mmap unavailable, falling back to file I/O", "error", err)
	}
	f, err := blockio.Open(path, logger)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Tables returns every table the catalog describes, walking the
// catalog tree on first call and caching the result for subsequent
// calls. ctx is checked once before the catalog walk starts, not from
// inside the core's recursion, per the core's context-free design.
func (f *File) Tables(ctx context.Context) ([]catalog.Table, error) {
	if f.tablesRead {
		return f.tables, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tree := pagetree.New(f.vector, f.cache, catalogRootPageNumber, catalogObjectIdentifier, nil, nil, f.logger)
	visitor := catalog.NewVisitor(f.logger)
	if err := tree.Walk(f.reader, visitor); err != nil {
		return nil, fmt.Errorf("esedb: walking catalog of %s: %w", f.path, err)
	}

	tables, err := visitor.Tables()
	if err != nil {
		return nil, fmt.Errorf("esedb: grouping catalog records of %s: %w", f.path, err)
	}

	f.tables = tables
	f.tablesRead = true
	return f.tables, nil
}

// Table returns the single table named name, or an error if no table
// by that name exists in the catalog.
func (f *File) Table(ctx context.Context, name string) (*catalog.Table, error) {
	tables, err := f.Tables(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tables {
		if tables[i].Name == name {
			return &tables[i], nil
		}
	}
	return nil, fmt.Errorf("esedb: no table named %q in %s", name, f.path)
}

// RowCount walks table's own data tree (rooted at its FDP page, not the
// catalog) with a counting visitor and returns how many row leaves it
// holds. It never interprets row contents — schema-aware row decoding
// is outside this library's scope — so it is a structural sanity check
// on a table's tree, usable independently of whether that table's
// columns decode cleanly.
func (f *File) RowCount(ctx context.Context, table catalog.Table) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tree := pagetree.New(f.vector, f.cache, table.FDPPageNumber, table.ObjectID, nil, nil, f.logger)
	count, err := tree.CountLeafValues(f.reader, table.FDPPageNumber)
	if err != nil {
		return 0, fmt.Errorf("esedb: counting rows of table %s: %w", table.Name, err)
	}
	return count, nil
}

// Close releases the underlying reader.
func (f *File) Close() error {
	return f.reader.Close()
}
