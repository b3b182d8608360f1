// Package catalog decodes the leaf tuples the core's Tree Walker yields
// for the catalog tree (object identifier 2, the MSysObjects
// equivalent) into Table/Column/Index descriptors. The core never sees
// this package: it is wired in as a pagetree.Visitor, exactly the way
// spec.md's Open Questions describe leaf decoding as belonging to "the
// catalog-record layer above."
package catalog

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"go.uber.org/zap"

	"esedb/ioreader"
	"esedb/pagetree"
)

// ColumnType mirrors the JET_coltyp enumeration's low values; only the
// ones needed to describe a schema are named here.
type ColumnType uint32

const (
	ColumnTypeUnknown    ColumnType = 0
	ColumnTypeBit        ColumnType = 1
	ColumnTypeByte       ColumnType = 2
	ColumnTypeShort      ColumnType = 3
	ColumnTypeLong       ColumnType = 4
	ColumnTypeCurrency   ColumnType = 5
	ColumnTypeSingle     ColumnType = 6
	ColumnTypeDouble     ColumnType = 7
	ColumnTypeDateTime   ColumnType = 8
	ColumnTypeBinary     ColumnType = 9
	ColumnTypeText       ColumnType = 10
	ColumnTypeLongBinary ColumnType = 11
	ColumnTypeLongText   ColumnType = 12
	ColumnTypeGUID       ColumnType = 15
)

// catalogObjectType is the Type field value on a catalog record,
// distinguishing which of Table/Column/Index it describes.
type catalogObjectType uint16

const (
	objectTypeTable  catalogObjectType = 1
	objectTypeColumn catalogObjectType = 2
	objectTypeIndex  catalogObjectType = 3
)

// Column describes one column of a table, as recorded in the catalog.
type Column struct {
	Name       string
	Identifier uint32
	Type       ColumnType
	Flags      uint32
	SpaceUsage uint32
}

// Index describes one index of a table.
type Index struct {
	Name          string
	ObjectID      uint32
	FDPPageNumber uint32
	KeyColumns    []string
}

// Table describes one table: its own catalog entry plus the columns
// and indexes whose catalog rows reference it by ObjectID.
type Table struct {
	Name          string
	ObjectID      uint32
	FDPPageNumber uint32
	Columns       []Column
	Indexes       []Index
}

var (
	// ErrTruncatedRecord is returned when a catalog leaf value is too
	// short to contain its fixed-width prefix.
	ErrTruncatedRecord = errors.New("esedb: truncated catalog record")

	// ErrUnknownObjectType is returned for a Type field this decoder
	// does not recognize (long values, callbacks — outside this
	// library's scope).
	ErrUnknownObjectType = errors.New("esedb: unknown catalog object type")
)

// record is the fixed-width prefix common to every catalog row,
// followed by a length-prefixed UTF-16LE name. Fields beyond what this
// library exposes (template table, default value, conditional columns)
// are read past and discarded.
type record struct {
	objectID        uint32
	objectType      catalogObjectType
	identifier      uint32
	columnTypeOrFDP uint32
	spaceUsage      uint32
	flags           uint32
	name            string
}

func parseRecord(value []byte) (record, error) {
	c := ioreader.NewCursor(value)

	objectID, err := c.ReadU32LE()
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record object_id: %w: %v", ErrTruncatedRecord, err)
	}
	objectTypeRaw, err := c.ReadU16LE()
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record type: %w: %v", ErrTruncatedRecord, err)
	}
	switch catalogObjectType(objectTypeRaw) {
	case objectTypeTable, objectTypeColumn, objectTypeIndex:
	default:
		return record{}, fmt.Errorf("esedb: catalog record type %d: %w", objectTypeRaw, ErrUnknownObjectType)
	}
	identifier, err := c.ReadU32LE()
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record identifier: %w: %v", ErrTruncatedRecord, err)
	}
	coltypOrFDP, err := c.ReadU32LE()
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record coltyp_or_pgnofdp: %w: %v", ErrTruncatedRecord, err)
	}
	spaceUsage, err := c.ReadU32LE()
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record space_usage: %w: %v", ErrTruncatedRecord, err)
	}
	flags, err := c.ReadU32LE()
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record flags: %w: %v", ErrTruncatedRecord, err)
	}
	nameLen, err := c.ReadU16LE()
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record name_length: %w: %v", ErrTruncatedRecord, err)
	}
	nameBytes, err := c.ReadBytes(int(nameLen) * 2)
	if err != nil {
		return record{}, fmt.Errorf("esedb: catalog record name (%d UTF-16 units): %w: %v", nameLen, ErrTruncatedRecord, err)
	}

	units := make([]uint16, nameLen)
	for i := range units {
		units[i] = uint16(nameBytes[2*i]) | uint16(nameBytes[2*i+1])<<8
	}

	return record{
		objectID:        objectID,
		objectType:      catalogObjectType(objectTypeRaw),
		identifier:      identifier,
		columnTypeOrFDP: coltypOrFDP,
		spaceUsage:      spaceUsage,
		flags:           flags,
		name:            string(utf16.Decode(units)),
	}, nil
}

// Visitor implements pagetree.Visitor: it accumulates every catalog
// leaf tuple it sees into a flat list of records, grouping them into
// Table/Column/Index descriptors only once the walk completes (a
// column's row can be emitted before or after its owning table's row,
// so grouping cannot happen incrementally).
type Visitor struct {
	logger  *zap.SugaredLogger
	records []record
}

// NewVisitor returns a Visitor ready to be passed to PageTree.Walk.
func NewVisitor(logger *zap.SugaredLogger) *Visitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Visitor{logger: logger}
}

// OnLeaf implements pagetree.Visitor.
func (v *Visitor) OnLeaf(key, value []byte) pagetree.ControlFlow {
	rec, err := parseRecord(value)
	if err != nil {
		v.logger.Debugw("skipping unparseable catalog record", "error", err)
		return pagetree.Continue
	}
	v.records = append(v.records, rec)
	return pagetree.Continue
}

// Tables groups the accumulated records into Table descriptors, each
// with its Columns and Indexes attached.
func (v *Visitor) Tables() ([]Table, error) {
	tablesByID := make(map[uint32]*Table)
	var order []uint32

	for _, rec := range v.records {
		if rec.objectType != objectTypeTable {
			continue
		}
		t := &Table{
			Name:          rec.name,
			ObjectID:      rec.identifier,
			FDPPageNumber: rec.columnTypeOrFDP,
		}
		tablesByID[rec.identifier] = t
		order = append(order, rec.identifier)
	}

	for _, rec := range v.records {
		switch rec.objectType {
		case objectTypeColumn:
			t, ok := tablesByID[rec.objectID]
			if !ok {
				continue
			}
			t.Columns = append(t.Columns, Column{
				Name:       rec.name,
				Identifier: rec.identifier,
				Type:       ColumnType(rec.columnTypeOrFDP),
				Flags:      rec.flags,
				SpaceUsage: rec.spaceUsage,
			})
		case objectTypeIndex:
			t, ok := tablesByID[rec.objectID]
			if !ok {
				continue
			}
			t.Indexes = append(t.Indexes, Index{
				Name:          rec.name,
				ObjectID:      rec.identifier,
				FDPPageNumber: rec.columnTypeOrFDP,
			})
		}
	}

	tables := make([]Table, 0, len(order))
	for _, id := range order {
		tables = append(tables, *tablesByID[id])
	}
	return tables, nil
}
