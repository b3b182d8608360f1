package catalog

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// exportDocument is the BSON document shape ExportBSON produces: a
// single top-level array field, the way the teacher's EncodeBSON/
// DecodeBSON round-trip a map[string]interface{} rather than a bare
// top-level array (bson.Marshal requires a document, not a slice).
type exportDocument struct {
	Tables []Table `bson:"tables"`
}

// ExportBSON encodes tables as a BSON document with a single "tables"
// array field, for interoperability with tooling that consumes BSON
// rather than this library's native Go types.
func ExportBSON(tables []Table) ([]byte, error) {
	data, err := bson.Marshal(exportDocument{Tables: tables})
	if err != nil {
		return nil, fmt.Errorf("esedb: encoding catalog as BSON: %w", err)
	}
	return data, nil
}

// ImportBSON is ExportBSON's inverse, used by tests and by tooling that
// re-reads an exported catalog snapshot.
func ImportBSON(data []byte) ([]Table, error) {
	var doc exportDocument
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("esedb: decoding catalog BSON: %w", err)
	}
	return doc.Tables, nil
}
