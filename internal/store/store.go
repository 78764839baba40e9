// Package store provides the document-oriented storage contract the scoring
// engine depends on, plus its backends: a PostgreSQL JSONB implementation
// for production and a deterministic in-memory implementation for tests and
// local development.
//
// The contract is deliberately narrow: equality-filtered queries, point
// lookups, auto-id inserts, and an all-or-nothing batch write. Everything
// the engine needs for idempotent incremental processing fits in those four
// operations.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// WriteOp identifies the kind of mutation inside a batch write.
type WriteOp string

const (
	// OpSet creates or fully replaces a document at a known id.
	OpSet WriteOp = "set"
	// OpCreate creates a document at a known id and fails the whole batch
	// if the id already exists. Used for write-once records such as
	// session summaries so a racing writer loses cleanly.
	OpCreate WriteOp = "create"
	// OpUpdate merges fields into an existing document.
	OpUpdate WriteOp = "update"
	// OpDelete removes a document. Deleting a missing id is a no-op.
	OpDelete WriteOp = "delete"
)

// Document is one stored record: an id plus its decoded field map.
type Document struct {
	ID   string
	Data map[string]any
}

// DataTo decodes the document's field map into the given struct via a JSON
// round trip, mirroring how the fields were encoded on write.
func (d *Document) DataTo(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("store: encoding document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("store: decoding document %s: %w", d.ID, err)
	}
	return nil
}

// NewDocumentData encodes a struct into the field map stored for a document.
func NewDocumentData(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encoding fields: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("store: decoding fields: %w", err)
	}
	return data, nil
}

// Filter is one equality constraint on an indexed document field.
type Filter struct {
	Field string
	Value any
}

// Eq is shorthand for an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// QueryOptions tune a query beyond its equality filters.
type QueryOptions struct {
	// Limit bounds the number of documents returned. Zero means no limit.
	Limit int
	// OrderBy names a field to sort by. Empty means storage order.
	OrderBy string
	// Descending reverses the sort when OrderBy is set.
	Descending bool
}

// Write is one mutation inside a batch.
type Write struct {
	Collection string
	ID         string
	Op         WriteOp
	Fields     map[string]any
}

// Store is the document store the engine runs against.
//
// BatchWrite is all-or-nothing: either every write in the slice lands or
// none do. The engine relies on this to keep interval scores and processed
// flags in lockstep.
type Store interface {
	Query(ctx context.Context, collection string, filters []Filter, opts QueryOptions) ([]Document, error)
	Get(ctx context.Context, collection string, id string) (*Document, error)
	BatchWrite(ctx context.Context, writes []Write) error
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
}
