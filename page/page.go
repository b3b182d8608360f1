// Package page decodes the raw bytes of one ESE database page into a
// header plus an ordered tag array. It is a pure, side-effect-free
// layer: every function here operates on an immutable byte slice handed
// to it by a caller (the page cache owns the buffer's lifetime).
package page

import (
	"errors"
	"fmt"

	"esedb/ioreader"
)

// Flags is the page-header flags bitmask (offset 36 of the page header).
type Flags uint32

// Page flag bits. Bit assignments follow this library's own canonical
// layout for the page-flags bitmask described in the format; a page on
// disk carries exactly one combination of these.
const (
	FlagRoot Flags = 1 << iota
	FlagLeaf
	FlagParent
	FlagEmpty
	_ // reserved
	FlagSpaceTree
	FlagIndex
	FlagLongValue
	_ // reserved
	_ // reserved
	_ // reserved
	_ // reserved
	FlagPrimary
	FlagNewRecordFormat
	FlagNewChecksumFormat
	FlagScrubbed
)

// Has reports whether all bits in want are set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// tagFlagMask occupies the top 3 bits of the 16-bit field that packs
// them (value_size in new-record-format pages, value_offset otherwise).
const (
	tagFlagMask             = 0xE000
	tagFlagDefunct          = 0x8000
	tagFlagHasCommonKeySize = 0x4000
	tagFlagNewRecordFormat  = 0x2000
	tagValueMask            = 0x1FFF
)

// Tag is one entry of a page's tag array: an (offset, size) span into the
// page body plus the three tag flags.
type Tag struct {
	Offset           int
	Size             int
	IsDefunct        bool
	HasCommonKeySize bool
	NewRecordFormat  bool
}

const (
	oldHeaderSize = 40
	newHeaderSize = 40 + 12
	tagEntrySize  = 4
)

// Page is an immutable, parsed view of one database page. Its byte
// buffer is owned by whatever pagecache.Cache entry produced it; values
// sliced from it (Tag spans, page-tree-value bytes) must not be
// retained past that entry's lifetime.
type Page struct {
	Number                       uint32
	Size                         int
	PreviousPageNumber           uint32
	NextPageNumber               uint32
	FatherDataPageObjectID       uint32
	AvailableDataSize            uint16
	AvailableUncommittedDataSize uint16
	AvailablePageTag             uint16
	Flags                        Flags
	Tags                         []Tag

	body      []byte
	headerEnd int
}

// IsLeaf reports whether this page's value tags are record payloads.
func (p *Page) IsLeaf() bool { return p.Flags.Has(FlagLeaf) }

// IsRoot reports whether this page is the root of its tree.
func (p *Page) IsRoot() bool { return p.Flags.Has(FlagRoot) }

// IsBranch reports whether this page's value tags encode child page
// numbers (the "PARENT" flag in the source terminology).
func (p *Page) IsBranch() bool { return p.Flags.Has(FlagParent) }

var (
	// ErrTruncatedPage is returned when a page's declared structure (tag
	// array, header) runs past the bounds of the buffer supplied.
	ErrTruncatedPage = ioreader.ErrTruncatedPage

	// ErrMalformedPage is returned when a tag's (offset, size) span does
	// not lie strictly inside the page body.
	ErrMalformedPage = errors.New("esedb: malformed page")

	// ErrUnsupportedPage is returned by ValidatePage/ValidateRootPage
	// when the page's header signature or flag combination is not one
	// this decoder understands.
	ErrUnsupportedPage = errors.New("esedb: unsupported page")
)

// Decode parses raw into a Page. newFormat selects the larger, 52-byte
// header (new-record/new-checksum format revisions) and tag-flag
// packing in the top 3 bits of the tag's value_size field; the older
// 40-byte header packs the same flags into value_offset instead.
// raw is retained by the returned Page (not copied) — callers must treat
// it as immutable and keep it alive for the Page's lifetime.
func Decode(raw []byte, pageNumber uint32, newFormat bool) (*Page, error) {
	headerEnd := oldHeaderSize
	if newFormat {
		headerEnd = newHeaderSize
	}
	if len(raw) < headerEnd {
		return nil, fmt.Errorf("esedb: page %d header needs %d bytes, have %d: %w",
			pageNumber, headerEnd, len(raw), ErrTruncatedPage)
	}

	prev, err := ioreader.ReadU32LEAt(raw, 16)
	if err != nil {
		return nil, fmt.Errorf("esedb: page %d previous-page field: %w", pageNumber, err)
	}
	next, err := ioreader.ReadU32LEAt(raw, 20)
	if err != nil {
		return nil, fmt.Errorf("esedb: page %d next-page field: %w", pageNumber, err)
	}
	fdp, err := ioreader.ReadU32LEAt(raw, 24)
	if err != nil {
		return nil, fmt.Errorf("esedb: page %d FDP field: %w", pageNumber, err)
	}
	availData, err := ioreader.ReadU16LEAt(raw, 28)
	if err != nil {
		return nil, fmt.Errorf("esedb: page %d available-data-size field: %w", pageNumber, err)
	}
	availUncommitted, err := ioreader.ReadU16LEAt(raw, 30)
	if err != nil {
		return nil, fmt.Errorf("esedb: page %d available-uncommitted field: %w", pageNumber, err)
	}
	tagCount, err := ioreader.ReadU16LEAt(raw, 34)
	if err != nil {
		return nil, fmt.Errorf("esedb: page %d available-page-tag field: %w", pageNumber, err)
	}
	flags, err := ioreader.ReadU32LEAt(raw, 36)
	if err != nil {
		return nil, fmt.Errorf("esedb: page %d flags field: %w", pageNumber, err)
	}

	p := &Page{
		Number:                       pageNumber,
		Size:                         len(raw),
		PreviousPageNumber:           prev,
		NextPageNumber:               next,
		FatherDataPageObjectID:       fdp,
		AvailableDataSize:            availData,
		AvailableUncommittedDataSize: availUncommitted,
		AvailablePageTag:             tagCount,
		Flags:                        Flags(flags),
		body:      raw,
		headerEnd: headerEnd,
	}

	tags, err := decodeTagArray(raw, pageNumber, int(tagCount), headerEnd, newFormat)
	if err != nil {
		return nil, err
	}
	p.Tags = tags

	return p, nil
}

func decodeTagArray(raw []byte, pageNumber uint32, tagCount, headerEnd int, newFormat bool) ([]Tag, error) {
	pageSize := len(raw)
	tagArrayStart := pageSize - tagEntrySize*tagCount
	if tagCount < 0 || tagArrayStart < headerEnd {
		return nil, fmt.Errorf("esedb: page %d declares %d tags, which does not fit: %w",
			pageNumber, tagCount, ErrMalformedPage)
	}

	tags := make([]Tag, tagCount)
	for i := 0; i < tagCount; i++ {
		entryOffset := pageSize - tagEntrySize*(i+1)

		rawSize, err := ioreader.ReadU16LEAt(raw, entryOffset)
		if err != nil {
			return nil, fmt.Errorf("esedb: page %d tag %d size field: %w", pageNumber, i, err)
		}
		rawValueOffset, err := ioreader.ReadU16LEAt(raw, entryOffset+2)
		if err != nil {
			return nil, fmt.Errorf("esedb: page %d tag %d offset field: %w", pageNumber, i, err)
		}

		var flagBits uint16
		var size, relOffset int
		if newFormat {
			flagBits = rawSize & tagFlagMask
			size = int(rawSize & tagValueMask)
			relOffset = int(rawValueOffset)
		} else {
			flagBits = rawValueOffset & tagFlagMask
			size = int(rawSize)
			relOffset = int(rawValueOffset & tagValueMask)
		}

		absOffset := headerEnd + relOffset
		if size < 0 || absOffset < headerEnd || absOffset+size > pageSize {
			return nil, fmt.Errorf("esedb: page %d tag %d span [%d,%d) outside body [%d,%d): %w",
				pageNumber, i, absOffset, absOffset+size, headerEnd, pageSize, ErrMalformedPage)
		}

		tags[i] = Tag{
			Offset:           absOffset,
			Size:             size,
			IsDefunct:        flagBits&tagFlagDefunct != 0,
			HasCommonKeySize: flagBits&tagFlagHasCommonKeySize != 0,
			NewRecordFormat:  flagBits&tagFlagNewRecordFormat != 0,
		}
	}
	return tags, nil
}

// Value returns the raw byte span and flags for tag i. i must be a
// valid index into p.Tags.
func (p *Page) Value(i int) ([]byte, Tag, error) {
	if i < 0 || i >= len(p.Tags) {
		return nil, Tag{}, fmt.Errorf("esedb: page %d has no tag %d", p.Number, i)
	}
	tag := p.Tags[i]
	span, err := ioreader.SliceAt(p.body, tag.Offset, tag.Size)
	if err != nil {
		return nil, Tag{}, fmt.Errorf("esedb: page %d tag %d value: %w", p.Number, i, err)
	}
	return span, tag, nil
}

// RootTagMeta is the decoded payload of tag 0 on a root page: page-tree
// bookkeeping the Tree Walker treats as opaque and skips. Non-root
// pages use tag 0 for a space-tree indirection instead, which this
// decoder does not currently interpret.
type RootTagMeta struct {
	InitialNumberOfPages uint32
	ParentFDP            uint32
	ExtentSpace          uint32
	SpaceTreePageNumber  uint32
	PrimaryExtent        uint32
}

// DecodeRootTagMeta decodes tag 0 of a root page into RootTagMeta.
func DecodeRootTagMeta(p *Page) (*RootTagMeta, error) {
	span, _, err := p.Value(0)
	if err != nil {
		return nil, err
	}
	c := ioreader.NewCursor(span)
	meta := &RootTagMeta{}
	fields := []*uint32{
		&meta.InitialNumberOfPages,
		&meta.ParentFDP,
		&meta.ExtentSpace,
		&meta.SpaceTreePageNumber,
		&meta.PrimaryExtent,
	}
	for _, f := range fields {
		v, err := c.ReadU32LE()
		if err != nil {
			return nil, fmt.Errorf("esedb: page %d root tag metadata: %w", p.Number, err)
		}
		*f = v
	}
	return meta, nil
}

// Validate fails with ErrUnsupportedPage if the page's flag combination
// is not one this decoder implements: a page must declare exactly one
// of LEAF or PARENT (branch) when it carries any value tags.
func Validate(p *Page) error {
	if len(p.Tags) <= 1 {
		// Tag 0 only (or no tags at all): an empty, freshly allocated
		// page. Legal; nothing further to check.
		return nil
	}
	isLeaf := p.Flags.Has(FlagLeaf)
	isBranch := p.Flags.Has(FlagParent)
	if isLeaf == isBranch {
		return fmt.Errorf("esedb: page %d flags %#x: %w", p.Number, p.Flags, ErrUnsupportedPage)
	}
	return nil
}

// ValidateRoot is Validate plus the requirement that FlagRoot is set.
func ValidateRoot(p *Page) error {
	if !p.Flags.Has(FlagRoot) {
		return fmt.Errorf("esedb: page %d missing ROOT flag: %w", p.Number, ErrUnsupportedPage)
	}
	return Validate(p)
}
