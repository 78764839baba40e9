package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"sleepwatch/internal/types"
)

// Memory is an in-memory Store used by tests and local development.
// It mirrors the Postgres backend's semantics: equality filters, ordered
// queries, and all-or-nothing batch writes (validated before any mutation
// is applied).
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]map[string]any)}
}

// Ping always succeeds; the memory store has no connection to lose.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// normalize round-trips a value through JSON so filter values compare
// consistently against stored (JSON-decoded) field values. In particular,
// ints become float64, matching encoding/json's decoding behavior.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		got, ok := data[f.Field]
		if !ok {
			return false
		}
		if normalize(got) != normalize(f.Value) {
			return false
		}
	}
	return true
}

// Query returns documents matching every equality filter, optionally
// ordered and limited.
func (m *Memory) Query(ctx context.Context, collection string, filters []Filter, opts QueryOptions) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []Document
	for id, data := range m.collections[collection] {
		if matches(data, filters) {
			docs = append(docs, Document{ID: id, Data: copyData(data)})
		}
	}

	if opts.OrderBy != "" {
		field := opts.OrderBy
		sort.Slice(docs, func(i, j int) bool {
			if opts.Descending {
				return lessValue(docs[j].Data[field], docs[i].Data[field])
			}
			return lessValue(docs[i].Data[field], docs[j].Data[field])
		})
	} else {
		// Stable iteration order for deterministic tests.
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}

	if opts.Limit > 0 && len(docs) > opts.Limit {
		docs = docs[:opts.Limit]
	}

	return docs, nil
}

// Get returns a single document, or nil when the id does not exist.
func (m *Memory) Get(ctx context.Context, collection string, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return &Document{ID: id, Data: copyData(data)}, nil
}

// BatchWrite applies all writes atomically. The batch is validated first so
// a failing write (create collision, update of a missing id) leaves the
// store untouched.
func (m *Memory) BatchWrite(ctx context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validation pass: nothing mutates until every write is known to apply.
	for _, w := range writes {
		switch w.Op {
		case OpSet, OpDelete:
		case OpCreate:
			if _, exists := m.collections[w.Collection][w.ID]; exists {
				return types.NewAppError(types.ErrCodeConflictExists,
					"document already exists: "+w.Collection+"/"+w.ID, nil)
			}
		case OpUpdate:
			if _, exists := m.collections[w.Collection][w.ID]; !exists {
				return types.NewAppError(types.ErrCodeNotFoundDocument,
					"cannot update missing document: "+w.Collection+"/"+w.ID, nil)
			}
		default:
			return types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("unknown write op %q", w.Op), nil)
		}
	}

	for _, w := range writes {
		coll := m.ensureCollection(w.Collection)
		switch w.Op {
		case OpSet, OpCreate:
			coll[w.ID] = copyData(normalizeData(w.Fields))
		case OpUpdate:
			for k, v := range normalizeData(w.Fields) {
				coll[w.ID][k] = v
			}
		case OpDelete:
			delete(coll, w.ID)
		}
	}

	return nil
}

// Add inserts a new document with a generated uuid and returns the id.
func (m *Memory) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.ensureCollection(collection)[id] = copyData(normalizeData(fields))
	return id, nil
}

// Len reports the number of documents in a collection. Test helper.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

func (m *Memory) ensureCollection(name string) map[string]map[string]any {
	coll, ok := m.collections[name]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[name] = coll
	}
	return coll
}

func normalizeData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = normalize(v)
	}
	return out
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func lessValue(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af < bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

var _ Store = (*Memory)(nil)
