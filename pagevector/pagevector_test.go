package pagevector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"esedb/pagecache"
)

type fakeReader struct {
	pageSize int
	pages    map[uint64][]byte
	reads    int
}

func (f *fakeReader) ReadAt(offset uint64, n int) ([]byte, error) {
	f.reads++
	buf, ok := f.pages[offset]
	if !ok {
		return nil, fmt.Errorf("no page at offset %d", offset)
	}
	if len(buf) != n {
		return nil, fmt.Errorf("short read at offset %d", offset)
	}
	return buf, nil
}

func emptyLeafPage(pageSize int, flags uint32) []byte {
	buf := make([]byte, pageSize)
	binary.LittleEndian.PutUint32(buf[36:], flags)
	binary.LittleEndian.PutUint16(buf[34:], 0)
	return buf
}

func TestGetInvalidPageNumber(t *testing.T) {
	v := New(Config{PageSize: 256, LastPageNumber: 10}, nil)
	if _, err := v.Get(0, &fakeReader{}, nil); !errors.Is(err, ErrInvalidPageNumber) {
		t.Fatalf("Get(0) error = %v, want ErrInvalidPageNumber", err)
	}
	if _, err := v.Get(11, &fakeReader{}, nil); !errors.Is(err, ErrInvalidPageNumber) {
		t.Fatalf("Get(11) error = %v, want ErrInvalidPageNumber", err)
	}
}

func TestGetReadsThroughThenCaches(t *testing.T) {
	const pageSize = 256
	v := New(Config{PageSize: pageSize, LastPageNumber: 10}, nil)
	reader := &fakeReader{
		pageSize: pageSize,
		pages: map[uint64][]byte{
			(4 + 1) * pageSize: emptyLeafPage(pageSize, 2),
		},
	}
	cache := pagecache.New(1, nil)

	p1, err := v.Get(4, reader, cache)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p1.Number != 4 {
		t.Fatalf("Number = %d, want 4", p1.Number)
	}
	if reader.reads != 1 {
		t.Fatalf("reads = %d, want 1", reader.reads)
	}

	p2, err := v.Get(4, reader, cache)
	if err != nil {
		t.Fatalf("Get (cached): %v", err)
	}
	if p2 != p1 {
		t.Fatalf("second Get returned a different *Page, cache miss expected hit")
	}
	if reader.reads != 1 {
		t.Fatalf("reads after cache hit = %d, want still 1", reader.reads)
	}
}

func TestGetIOFailurePropagates(t *testing.T) {
	v := New(Config{PageSize: 256, LastPageNumber: 10}, nil)
	_, err := v.Get(4, &fakeReader{pages: map[uint64][]byte{}}, nil)
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Get error = %v, want ErrIO", err)
	}
}

func withValidChecksum(buf []byte, pageNumber uint32) []byte {
	computed := pageNumber
	for offset := 4; offset < len(buf); offset += 4 {
		computed ^= binary.LittleEndian.Uint32(buf[offset : offset+4])
	}
	binary.LittleEndian.PutUint32(buf[0:], computed)
	return buf
}

func TestGetChecksumValidationAccepted(t *testing.T) {
	const pageSize = 256
	v := New(Config{PageSize: pageSize, LastPageNumber: 10}, nil).WithChecksumValidation(true)
	page := withValidChecksum(emptyLeafPage(pageSize, 2), 4)
	reader := &fakeReader{pages: map[uint64][]byte{(4 + 1) * pageSize: page}}

	if _, err := v.Get(4, reader, nil); err != nil {
		t.Fatalf("Get with valid checksum: %v", err)
	}
}

func TestGetChecksumValidationRejectsMismatch(t *testing.T) {
	const pageSize = 256
	v := New(Config{PageSize: pageSize, LastPageNumber: 10}, nil).WithChecksumValidation(true)
	page := emptyLeafPage(pageSize, 2)
	binary.LittleEndian.PutUint32(page[0:], 0xdeadbeef)
	reader := &fakeReader{pages: map[uint64][]byte{(4 + 1) * pageSize: page}}

	if _, err := v.Get(4, reader, nil); err == nil {
		t.Fatal("Get with bad checksum: want error, got nil")
	}
}
