// Package ioreader provides bounds-checked little-endian primitives over
// an immutable byte slice. Every decoder in the page/pagetreevalue layers
// is built on top of these.
package ioreader

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncatedPage is returned whenever a read would run past the end of
// the buffer being decoded.
var ErrTruncatedPage = errors.New("esedb: truncated page")

// Cursor is a read-only walk over a byte slice that fails closed: every
// accessor checks its range before touching the buffer.
type Cursor struct {
	buf    []byte
	offset int
}

// NewCursor returns a Cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Offset returns the cursor's current position.
func (c *Cursor) Offset() int {
	return c.offset
}

// Seek repositions the cursor. It does not validate the new offset; the
// next read will fail if it is out of range.
func (c *Cursor) Seek(offset int) {
	c.offset = offset
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.offset
}

func (c *Cursor) require(n int) error {
	if n < 0 || c.offset < 0 || c.offset+n > len(c.buf) {
		return fmt.Errorf("esedb: read of %d bytes at offset %d exceeds buffer of %d: %w",
			n, c.offset, len(c.buf), ErrTruncatedPage)
	}
	return nil
}

// ReadU8 reads one byte and advances the cursor.
func (c *Cursor) ReadU8() (uint8, error) {
	if err := c.require(1); err != nil {
		return 0, err
	}
	v := c.buf[c.offset]
	c.offset++
	return v, nil
}

// ReadU16LE reads a little-endian uint16 and advances the cursor.
func (c *Cursor) ReadU16LE() (uint16, error) {
	if err := c.require(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(c.buf[c.offset:])
	c.offset += 2
	return v, nil
}

// ReadU32LE reads a little-endian uint32 and advances the cursor.
func (c *Cursor) ReadU32LE() (uint32, error) {
	if err := c.require(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(c.buf[c.offset:])
	c.offset += 4
	return v, nil
}

// ReadU64LE reads a little-endian uint64 and advances the cursor.
func (c *Cursor) ReadU64LE() (uint64, error) {
	if err := c.require(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(c.buf[c.offset:])
	c.offset += 8
	return v, nil
}

// ReadBytes reads n raw bytes and advances the cursor. The returned slice
// aliases the underlying buffer; callers must not retain it past the
// buffer's own lifetime.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.require(n); err != nil {
		return nil, err
	}
	v := c.buf[c.offset : c.offset+n]
	c.offset += n
	return v, nil
}

// ReadU16LEAt, ReadU32LEAt, ReadU64LEAt and SliceAt are free functions for one-off reads
// that don't need a Cursor, used by decoders that jump around a buffer
// (tag array entries, which are addressed backward from the page tail).

// ReadU16LEAt reads a little-endian uint16 at a fixed offset without
// mutating any cursor state.
func ReadU16LEAt(buf []byte, offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(buf) {
		return 0, fmt.Errorf("esedb: u16 read at offset %d exceeds buffer of %d: %w",
			offset, len(buf), ErrTruncatedPage)
	}
	return binary.LittleEndian.Uint16(buf[offset:]), nil
}

// ReadU32LEAt reads a little-endian uint32 at a fixed offset without
// mutating any cursor state.
func ReadU32LEAt(buf []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, fmt.Errorf("esedb: u32 read at offset %d exceeds buffer of %d: %w",
			offset, len(buf), ErrTruncatedPage)
	}
	return binary.LittleEndian.Uint32(buf[offset:]), nil
}

// ReadU64LEAt reads a little-endian uint64 at a fixed offset without
// mutating any cursor state.
func ReadU64LEAt(buf []byte, offset int) (uint64, error) {
	if offset < 0 || offset+8 > len(buf) {
		return 0, fmt.Errorf("esedb: u64 read at offset %d exceeds buffer of %d: %w",
			offset, len(buf), ErrTruncatedPage)
	}
	return binary.LittleEndian.Uint64(buf[offset:]), nil
}

// SliceAt returns buf[offset:offset+n] bounds-checked.
func SliceAt(buf []byte, offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(buf) {
		return nil, fmt.Errorf("esedb: slice of %d bytes at offset %d exceeds buffer of %d: %w",
			n, offset, len(buf), ErrTruncatedPage)
	}
	return buf[offset : offset+n], nil
}
