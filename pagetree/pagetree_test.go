package pagetree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"esedb/page"
	"esedb/pagetreevalue"
	"esedb/pagevector"
)

const testPageSize = 256
const testHeaderSize = 40 // old-format header

// valuePayload encodes one page-tree-value: an optional common-key
// size, a local key, and the value bytes, mirroring pagetreevalue's
// wire layout.
func valuePayload(hasCommonKey bool, commonKeySize uint16, localKey, value []byte) []byte {
	var buf []byte
	if hasCommonKey {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, commonKeySize)
		buf = append(buf, b...)
	}
	lk := make([]byte, 2)
	binary.LittleEndian.PutUint16(lk, uint16(len(localKey)))
	buf = append(buf, lk...)
	buf = append(buf, localKey...)
	buf = append(buf, value...)
	return buf
}

func leafPayload(key, value []byte) []byte {
	return valuePayload(false, 0, key, value)
}

func branchPayload(key []byte, childPage uint32) []byte {
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, childPage)
	return valuePayload(false, 0, key, v)
}

// rootTag0 is the opaque root-tag payload; its content is never
// inspected by the walker.
func rootTag0() []byte {
	return make([]byte, 20)
}

type pageSpec struct {
	number   uint32
	flags    page.Flags
	payloads [][]byte // index 0 is tag 0 (opaque)
	tagFlags []uint16
}

func buildPageBytes(spec pageSpec) []byte {
	buf := make([]byte, testPageSize)
	binary.LittleEndian.PutUint32(buf[36:], uint32(spec.flags))
	binary.LittleEndian.PutUint16(buf[34:], uint16(len(spec.payloads)))

	cursor := testHeaderSize
	type placed struct{ offset, size int }
	spans := make([]placed, len(spec.payloads))
	for i, payload := range spec.payloads {
		copy(buf[cursor:], payload)
		spans[i] = placed{offset: cursor - testHeaderSize, size: len(payload)}
		cursor += len(payload)
	}
	for i, sp := range spans {
		entryOffset := testPageSize - 4*(i+1)
		var flagBits uint16
		if i < len(spec.tagFlags) {
			flagBits = spec.tagFlags[i]
		}
		binary.LittleEndian.PutUint16(buf[entryOffset:], uint16(sp.size))
		binary.LittleEndian.PutUint16(buf[entryOffset+2:], uint16(sp.offset)|flagBits)
	}
	return buf
}

// fakeFile is a pagevector.Reader over a fixed set of pages addressed by
// logical page number, using the same (pageNumber+1)*pageSize mapping
// pagevector.PagesVector.Get applies.
type fakeFile struct {
	pages map[uint32]pageSpec
	reads int
}

func (f *fakeFile) ReadAt(offset uint64, n int) ([]byte, error) {
	f.reads++
	pageNumber := uint32(offset/uint64(testPageSize)) - 1
	spec, ok := f.pages[pageNumber]
	if !ok {
		return nil, fmt.Errorf("no page %d", pageNumber)
	}
	return buildPageBytes(spec), nil
}

func newTree(lastPageNumber, rootPageNumber uint32) *PageTree {
	vector := pagevector.New(pagevector.Config{
		PageSize:       testPageSize,
		LastPageNumber: lastPageNumber,
	}, nil)
	return New(vector, nil, rootPageNumber, 2, nil, nil, nil)
}

func collect(t *testing.T, tree *PageTree, reader pagevector.Reader) (keys []string, values []string, err error) {
	t.Helper()
	err = tree.Walk(reader, VisitorFunc(func(key, value []byte) ControlFlow {
		keys = append(keys, string(key))
		values = append(values, string(value))
		return Continue
	}))
	return
}

func TestEmptyTree(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {number: 4, flags: page.FlagRoot | page.FlagLeaf, payloads: [][]byte{rootTag0()}},
	}}
	tree := newTree(10, 4)

	keys, _, err := collect(t, tree, file)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("keys = %v, want none", keys)
	}
}

func TestSingleLeafPage(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x00}, []byte("A")),
				leafPayload([]byte{0x01}, []byte("B")),
			},
		},
	}}
	tree := newTree(10, 4)

	keys, values, err := collect(t, tree, file)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(values) != 2 || values[0] != "A" || values[1] != "B" {
		t.Fatalf("values = %v, want [A B]", values)
	}
	_ = keys
}

func TestTwoLevelTree(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagParent,
			payloads: [][]byte{
				rootTag0(),
				branchPayload([]byte{0x00}, 5),
				branchPayload([]byte{0x02}, 6),
			},
		},
		5: {
			number: 5,
			flags:  page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x00}, []byte("a")),
				leafPayload([]byte{0x01}, []byte("b")),
			},
		},
		6: {
			number: 6,
			flags:  page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x02}, []byte("c")),
				leafPayload([]byte{0x03}, []byte("d")),
			},
		},
	}}
	tree := newTree(10, 4)

	_, values, err := collect(t, tree, file)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if fmt.Sprint(values) != fmt.Sprint(want) {
		t.Fatalf("values = %v, want %v", values, want)
	}
	if file.reads != 3 {
		t.Fatalf("reads = %d, want 3", file.reads)
	}
}

func TestOutOfRangeChildSkipped(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagParent,
			payloads: [][]byte{
				rootTag0(),
				branchPayload([]byte{0x00}, 11), // last_page_number+1
				branchPayload([]byte{0x02}, 5),
			},
		},
		5: {
			number: 5,
			flags:  page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x02}, []byte("c")),
			},
		},
	}}
	tree := newTree(10, 4)

	_, values, err := collect(t, tree, file)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(values) != 1 || values[0] != "c" {
		t.Fatalf("values = %v, want [c]", values)
	}
}

func TestZeroChildSkipped(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagParent,
			payloads: [][]byte{
				rootTag0(),
				branchPayload([]byte{0x00}, 0),
				branchPayload([]byte{0x02}, 5),
			},
		},
		5: {
			number: 5,
			flags:  page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x02}, []byte("c")),
			},
		},
	}}
	tree := newTree(10, 4)

	_, values, err := collect(t, tree, file)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(values) != 1 || values[0] != "c" {
		t.Fatalf("values = %v, want [c]", values)
	}
}

func TestDefunctTagSkipped(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x00}, []byte("A")),
				leafPayload([]byte{0x01}, []byte("ghost")),
				leafPayload([]byte{0x02}, []byte("B")),
			},
			tagFlags: []uint16{0, 0, 0x8000, 0}, // defunct flag on tag 2
		},
	}}
	tree := newTree(10, 4)

	_, values, err := collect(t, tree, file)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{"A", "B"}
	if fmt.Sprint(values) != fmt.Sprint(want) {
		t.Fatalf("values = %v, want %v", values, want)
	}
}

func TestCycleHitsRecursionDepthLimit(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagParent,
			payloads: [][]byte{
				rootTag0(),
				branchPayload([]byte{0x00}, 4), // points to itself
			},
		},
	}}
	tree := newTree(10, 4)

	_, _, err := collect(t, tree, file)
	if !errors.Is(err, ErrRecursionDepthExceeded) {
		t.Fatalf("Walk error = %v, want ErrRecursionDepthExceeded", err)
	}
	if file.reads > MaxIndexNodeRecursionDepth+2 {
		t.Fatalf("reads = %d, exceeded bound of %d", file.reads, MaxIndexNodeRecursionDepth+2)
	}
}

func TestInvalidBranchValueTooShort(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagParent,
			payloads: [][]byte{
				rootTag0(),
				valuePayload(false, 0, []byte{0x00}, []byte{0x01, 0x02, 0x03}), // 3-byte value
			},
		},
	}}
	tree := newTree(10, 4)

	_, _, err := collect(t, tree, file)
	if !errors.Is(err, pagetreevalue.ErrInvalidBranch) {
		t.Fatalf("Walk error = %v, want ErrInvalidBranch", err)
	}
}

func TestStopVisitorHaltsEarly(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x00}, []byte("A")),
				leafPayload([]byte{0x01}, []byte("B")),
			},
		},
	}}
	tree := newTree(10, 4)

	var got []string
	err := tree.Walk(file, VisitorFunc(func(key, value []byte) ControlFlow {
		got = append(got, string(value))
		return Stop
	}))
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(got) != 1 || got[0] != "A" {
		t.Fatalf("got = %v, want [A]", got)
	}
}

func TestCountLeafValues(t *testing.T) {
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagLeaf,
			payloads: [][]byte{
				rootTag0(),
				leafPayload([]byte{0x00}, []byte("A")),
				leafPayload([]byte{0x01}, []byte("B")),
				leafPayload([]byte{0x02}, []byte("C")),
			},
		},
	}}
	tree := newTree(10, 4)

	count, err := tree.CountLeafValues(file, 4)
	if err != nil {
		t.Fatalf("CountLeafValues: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestSiblingBranchFramesDoNotShareCache(t *testing.T) {
	// Two sibling branch entries load distinct children through the
	// root frame's single-slot child cache, which is separate from the
	// cache holding the root page itself. The second child must not come
	// back as the first child's page, and loading it must not force the
	// root to be read again. Three reads (root, child 5, child 6) and the
	// right values in order rule both failure modes out.
	file := &fakeFile{pages: map[uint32]pageSpec{
		4: {
			number: 4,
			flags:  page.FlagRoot | page.FlagParent,
			payloads: [][]byte{
				rootTag0(),
				branchPayload([]byte{0x00}, 5),
				branchPayload([]byte{0x02}, 6),
			},
		},
		5: {number: 5, flags: page.FlagLeaf, payloads: [][]byte{rootTag0(), leafPayload([]byte{0x00}, []byte("a"))}},
		6: {number: 6, flags: page.FlagLeaf, payloads: [][]byte{rootTag0(), leafPayload([]byte{0x02}, []byte("c"))}},
	}}
	tree := newTree(10, 4)

	_, values, err := collect(t, tree, file)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{"a", "c"}
	if fmt.Sprint(values) != fmt.Sprint(want) {
		t.Fatalf("values = %v, want %v", values, want)
	}
	if file.reads != 3 {
		t.Fatalf("reads = %d, want 3", file.reads)
	}
}
