// Package pagetreevalue decodes one page tag's payload into a
// page-tree-value triple: a common-key size, a local key, and the
// remaining value bytes. It is pure: every function operates on a byte
// span already sliced out of a page by the page package.
package pagetreevalue

import (
	"errors"
	"fmt"

	"esedb/ioreader"
	"esedb/page"
)

var (
	// ErrTruncatedValue is returned when the common-key, local-key, or
	// value fields run past the end of the supplied span.
	ErrTruncatedValue = errors.New("esedb: truncated page-tree value")

	// ErrKeyTooLong is returned when common_key_size + local_key_size
	// exceeds the page size.
	ErrKeyTooLong = errors.New("esedb: page-tree key too long")

	// ErrInvalidBranch is returned when a branch tag's value bytes are
	// shorter than the 4-byte child page number they must encode.
	ErrInvalidBranch = errors.New("esedb: invalid branch value")
)

// Value is the decoded form of one non-defunct, non-root tag.
type Value struct {
	CommonKeySize int
	LocalKeySize  int
	LocalKeyBytes []byte
	ValueBytes    []byte
}

// Parse decodes raw (a page.Value's byte span) per tag's flags. pageSize
// bounds how large a reconstructed key is allowed to be.
func Parse(raw []byte, tag page.Tag, pageSize int) (Value, error) {
	c := ioreader.NewCursor(raw)

	var commonKeySize int
	if tag.HasCommonKeySize {
		v, err := c.ReadU16LE()
		if err != nil {
			return Value{}, fmt.Errorf("esedb: common_key_size: %w: %v", ErrTruncatedValue, err)
		}
		commonKeySize = int(v)
	}

	localKeySizeField, err := c.ReadU16LE()
	if err != nil {
		return Value{}, fmt.Errorf("esedb: local_key_size: %w: %v", ErrTruncatedValue, err)
	}
	localKeySize := int(localKeySizeField)

	if commonKeySize+localKeySize > pageSize {
		return Value{}, fmt.Errorf("esedb: common_key_size %d + local_key_size %d exceeds page size %d: %w",
			commonKeySize, localKeySize, pageSize, ErrKeyTooLong)
	}

	localKeyBytes, err := c.ReadBytes(localKeySize)
	if err != nil {
		return Value{}, fmt.Errorf("esedb: local_key_bytes (%d bytes): %w: %v", localKeySize, ErrTruncatedValue, err)
	}

	valueBytes, err := ioreader.SliceAt(raw, c.Offset(), c.Remaining())
	if err != nil {
		return Value{}, fmt.Errorf("esedb: value_bytes: %w: %v", ErrTruncatedValue, err)
	}

	return Value{
		CommonKeySize: commonKeySize,
		LocalKeySize:  localKeySize,
		LocalKeyBytes: localKeyBytes,
		ValueBytes:    valueBytes,
	}, nil
}

// ChildPageNumber decodes a branch tag's value bytes into the child page
// number it points to. Callers must only invoke this for branch
// (non-leaf) pages.
func ChildPageNumber(v Value) (uint32, error) {
	if len(v.ValueBytes) < 4 {
		return 0, fmt.Errorf("esedb: branch value has %d bytes, need >= 4: %w",
			len(v.ValueBytes), ErrInvalidBranch)
	}
	child, err := ioreader.ReadU32LEAt(v.ValueBytes, 0)
	if err != nil {
		return 0, fmt.Errorf("esedb: branch child page number: %w", err)
	}
	return child, nil
}

// Key reconstructs the full logical key of a tag: the page-wide common
// prefix (the leading common_key_size bytes of the page's tag 0 span,
// snapshotted once per page) followed by the tag's own local key bytes.
func Key(commonPrefix, localKeyBytes []byte) []byte {
	key := make([]byte, 0, len(commonPrefix)+len(localKeyBytes))
	key = append(key, commonPrefix...)
	key = append(key, localKeyBytes...)
	return key
}
