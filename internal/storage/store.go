// Package storage defines the record-store contract the data sources and the
// rule manager call through, plus the postgres implementation.
package storage

import "context"

// Row is one record returned by a stored procedure, keyed by column name.
// Byte-slice column values are normalized to strings before a Row leaves the
// store.
type Row map[string]any

// RecordStore executes a named stored procedure with positional parameters
// and returns its rows. Implementations own connection pooling and schema
// selection.
type RecordStore interface {
	Call(ctx context.Context, procedure string, args ...any) ([]Row, error)
}
