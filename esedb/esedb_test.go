package esedb

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

const testPageSize = 4096

func putU32(buf []byte, offset int, v uint32) {
	binary.LittleEndian.PutUint32(buf[offset:], v)
}

func putU16(buf []byte, offset int, v uint16) {
	binary.LittleEndian.PutUint16(buf[offset:], v)
}

// buildCatalogRecord mirrors catalog's on-disk record layout without
// importing its unexported helpers.
func buildCatalogRecord(objectID uint32, objectType uint16, identifier, coltypOrFDP, spaceUsage, flags uint32, name string) []byte {
	buf := make([]byte, 0, 22+2*len(name))
	grow := func(n int) []byte {
		start := len(buf)
		buf = append(buf, make([]byte, n)...)
		return buf[start:]
	}
	putU32(grow(4), 0, objectID)
	putU16(grow(2), 0, objectType)
	putU32(grow(4), 0, identifier)
	putU32(grow(4), 0, coltypOrFDP)
	putU32(grow(4), 0, spaceUsage)
	putU32(grow(4), 0, flags)
	putU16(grow(2), 0, uint16(len(name)))
	for _, r := range name {
		putU16(grow(2), 0, uint16(r))
	}
	return buf
}

func buildLeafValue(key byte, record []byte) []byte {
	v := make([]byte, 0, 3+len(record))
	v = append(v, 0, 0) // local_key_size placeholder
	putU16(v, 0, 1)
	v = append(v, key)
	v = append(v, record...)
	return v
}

// buildPageBytes writes one page-sized buffer: old-format 40-byte
// header, then tag payloads packed forward from the header end, then
// a reverse-order tag array at the tail.
func buildPageBytes(flags uint32, payloads [][]byte) []byte {
	buf := make([]byte, testPageSize)
	putU32(buf, 36, flags)
	putU16(buf, 34, uint16(len(payloads)))

	cursor := 40
	type span struct{ offset, size int }
	spans := make([]span, len(payloads))
	for i, p := range payloads {
		copy(buf[cursor:], p)
		spans[i] = span{offset: cursor - 40, size: len(p)}
		cursor += len(p)
	}
	for i, sp := range spans {
		entryOffset := testPageSize - 4*(i+1)
		putU16(buf, entryOffset, uint16(sp.size))
		putU16(buf, entryOffset+2, uint16(sp.offset))
	}
	return buf
}

func buildDatabaseFile(t *testing.T) string {
	t.Helper()

	header := make([]byte, testPageSize)
	putU32(header, 216, 0x620) // format_version
	putU32(header, 220, 0x01)  // format_revision: old format
	putU32(header, 236, testPageSize)

	rootTag0 := make([]byte, 20)
	tableRecord := buildCatalogRecord(1, 1, 10, 4, 0, 0, "Orders")
	columnRecord := buildCatalogRecord(10, 2, 1, 4, 4, 0, "OrderID")

	catalogPage := buildPageBytes(uint32(1)|uint32(2), [][]byte{ // FlagRoot|FlagLeaf
		rootTag0,
		buildLeafValue(0x00, tableRecord),
		buildLeafValue(0x01, columnRecord),
	})

	// Pages 0,1: header mirrors. Page offset 2 (physical) is logical
	// page 1; the catalog root is logical page 4, i.e. physical block 5.
	var file []byte
	file = append(file, header...) // physical block 0 = header
	file = append(file, header...) // physical block 1 = header mirror
	for logical := uint32(1); logical <= 4; logical++ {
		if logical == 4 {
			file = append(file, catalogPage...)
			continue
		}
		file = append(file, make([]byte, testPageSize)...)
	}

	path := filepath.Join(t.TempDir(), "test.edb")
	if err := os.WriteFile(path, file, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenAndListTables(t *testing.T) {
	path := buildDatabaseFile(t)

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	tables, err := f.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("len(tables) = %d, want 1", len(tables))
	}
	if tables[0].Name != "Orders" {
		t.Fatalf("table name = %q, want Orders", tables[0].Name)
	}
	if len(tables[0].Columns) != 1 || tables[0].Columns[0].Name != "OrderID" {
		t.Fatalf("columns = %+v, want one OrderID column", tables[0].Columns)
	}
}

func TestTableLooksUpByName(t *testing.T) {
	path := buildDatabaseFile(t)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	tbl, err := f.Table(context.Background(), "Orders")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if tbl.ObjectID != 10 {
		t.Fatalf("ObjectID = %d, want 10", tbl.ObjectID)
	}

	if _, err := f.Table(context.Background(), "NoSuchTable"); err == nil {
		t.Fatal("Table(NoSuchTable): want error, got nil")
	}
}

func TestTablesCachedAfterFirstWalk(t *testing.T) {
	path := buildDatabaseFile(t)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	first, err := f.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	second, err := f.Tables(context.Background())
	if err != nil {
		t.Fatalf("Tables (cached): %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("cached Tables() returned a different result")
	}
}

func TestOpenContextCancelledBeforeWalk(t *testing.T) {
	path := buildDatabaseFile(t)
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Tables(ctx); err == nil {
		t.Fatal("Tables with cancelled context: want error, got nil")
	}
}
