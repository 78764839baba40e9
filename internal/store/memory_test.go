package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleepwatch/internal/types"
)

func seedDoc(t *testing.T, m *Memory, collection, id string, fields map[string]any) {
	t.Helper()
	err := m.BatchWrite(context.Background(), []Write{{
		Collection: collection,
		ID:         id,
		Op:         OpSet,
		Fields:     fields,
	}})
	require.NoError(t, err)
}

func TestMemoryQueryEqualityFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "sensor_readings", "r1", map[string]any{"session_id": "s1", "processed": false})
	seedDoc(t, m, "sensor_readings", "r2", map[string]any{"session_id": "s1", "processed": true})
	seedDoc(t, m, "sensor_readings", "r3", map[string]any{"session_id": "s2", "processed": false})

	docs, err := m.Query(ctx, "sensor_readings",
		[]Filter{Eq("session_id", "s1"), Eq("processed", false)},
		QueryOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "r1", docs[0].ID)
}

func TestMemoryQueryNormalizesNumericFilters(t *testing.T) {
	// Stored values come back from JSON as float64; an int filter value
	// must still match.
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "interval_scores", "s1", map[string]any{"rank": 3})

	docs, err := m.Query(ctx, "interval_scores", []Filter{Eq("rank", 3)}, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	docs, err = m.Query(ctx, "interval_scores", []Filter{Eq("rank", 3.0)}, QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestMemoryQueryMissingFieldNeverMatches(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "sleep_sessions", "s1", map[string]any{"state": "active"})

	docs, err := m.Query(ctx, "sleep_sessions", []Filter{Eq("ended_at", "2026-08-01")}, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestMemoryQueryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "sensor_readings", "b", map[string]any{"timestamp": "2026-08-01T02:00:00Z"})
	seedDoc(t, m, "sensor_readings", "a", map[string]any{"timestamp": "2026-08-01T01:00:00Z"})
	seedDoc(t, m, "sensor_readings", "c", map[string]any{"timestamp": "2026-08-01T03:00:00Z"})

	docs, err := m.Query(ctx, "sensor_readings", nil, QueryOptions{OrderBy: "timestamp"})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

	docs, err = m.Query(ctx, "sensor_readings", nil, QueryOptions{OrderBy: "timestamp", Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, []string{"c", "b"}, []string{docs[0].ID, docs[1].ID})
}

func TestMemoryGetMissingReturnsNil(t *testing.T) {
	m := NewMemory()
	doc, err := m.Get(context.Background(), "sleep_sessions", "nope")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "sleep_sessions", "s1", map[string]any{"state": "active"})

	doc, err := m.Get(ctx, "sleep_sessions", "s1")
	require.NoError(t, err)
	doc.Data["state"] = "mutated"

	doc, err = m.Get(ctx, "sleep_sessions", "s1")
	require.NoError(t, err)
	assert.Equal(t, "active", doc.Data["state"])
}

func TestMemoryBatchWriteCreateConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "session_records", "s1", map[string]any{"sleep_quality_score": 80.0})

	err := m.BatchWrite(ctx, []Write{{
		Collection: "session_records",
		ID:         "s1",
		Op:         OpCreate,
		Fields:     map[string]any{"sleep_quality_score": 10.0},
	}})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictExists, appErr.Code)

	// Losing the create race must not clobber the existing record.
	doc, err := m.Get(ctx, "session_records", "s1")
	require.NoError(t, err)
	assert.Equal(t, 80.0, doc.Data["sleep_quality_score"])
}

func TestMemoryBatchWriteUpdateMissing(t *testing.T) {
	m := NewMemory()
	err := m.BatchWrite(context.Background(), []Write{{
		Collection: "sensor_readings",
		ID:         "ghost",
		Op:         OpUpdate,
		Fields:     map[string]any{"processed": true},
	}})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundDocument, appErr.Code)
}

func TestMemoryBatchWriteIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "sensor_readings", "r1", map[string]any{"processed": false})

	// The second write fails validation, so the first must not apply.
	err := m.BatchWrite(ctx, []Write{
		{Collection: "sensor_readings", ID: "r1", Op: OpUpdate, Fields: map[string]any{"processed": true}},
		{Collection: "sensor_readings", ID: "ghost", Op: OpUpdate, Fields: map[string]any{"processed": true}},
	})
	require.Error(t, err)

	doc, err := m.Get(ctx, "sensor_readings", "r1")
	require.NoError(t, err)
	assert.Equal(t, false, doc.Data["processed"])
}

func TestMemoryBatchWriteUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seedDoc(t, m, "sensor_readings", "r1", map[string]any{"session_id": "s1", "processed": false})

	err := m.BatchWrite(ctx, []Write{{
		Collection: "sensor_readings",
		ID:         "r1",
		Op:         OpUpdate,
		Fields:     map[string]any{"processed": true},
	}})
	require.NoError(t, err)

	doc, err := m.Get(ctx, "sensor_readings", "r1")
	require.NoError(t, err)
	assert.Equal(t, true, doc.Data["processed"])
	assert.Equal(t, "s1", doc.Data["session_id"])
}

func TestMemoryBatchWriteDeleteMissingIsNoop(t *testing.T) {
	m := NewMemory()
	err := m.BatchWrite(context.Background(), []Write{{
		Collection: "interval_scores",
		ID:         "ghost",
		Op:         OpDelete,
	}})
	assert.NoError(t, err)
}

func TestMemoryBatchWriteRejectsUnknownOp(t *testing.T) {
	m := NewMemory()
	err := m.BatchWrite(context.Background(), []Write{{
		Collection: "sensor_readings",
		ID:         "r1",
		Op:         WriteOp("upsert"),
	}})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalStore, appErr.Code)
}

func TestMemoryAddGeneratesID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Add(ctx, "interval_scores", map[string]any{"final_score": 92.5})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := m.Get(ctx, "interval_scores", id)
	require.NoError(t, err)
	assert.Equal(t, 92.5, doc.Data["final_score"])
	assert.Equal(t, 1, m.Len("interval_scores"))
}

func TestDocumentDataRoundTrip(t *testing.T) {
	reading := types.Reading{SessionID: "s1"}
	fields, err := NewDocumentData(&reading)
	require.NoError(t, err)

	doc := Document{ID: "r1", Data: fields}
	var decoded types.Reading
	require.NoError(t, doc.DataTo(&decoded))
	assert.Equal(t, "s1", decoded.SessionID)
}
