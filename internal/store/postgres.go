package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sleepwatch/internal/types"
)

// Schema is the DDL for the backing table. Applied out-of-band by the
// maintenance tooling; kept here so the store and its schema stay together.
//
// All collections share one table keyed by (collection, id). Equality
// filters compile to JSONB containment so the GIN index serves every
// collection without per-collection schema work.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    data       JSONB NOT NULL,
    PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops);
`

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// pgPool is the subset of *pgxpool.Pool the store uses. An interface keeps
// the store testable without a live database.
type pgPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the production Store backend: one JSONB documents table on a
// pgx connection pool.
type Postgres struct {
	pool pgPool
	ping func(ctx context.Context) error
}

// NewPostgres creates a Postgres store backed by the given pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, ping: pool.Ping}
}

// newPostgresWithPool creates a Postgres store with an injected pool
// implementation. Used by tests.
func newPostgresWithPool(pool pgPool) *Postgres {
	return &Postgres{pool: pool, ping: func(ctx context.Context) error { return nil }}
}

// Ping verifies database connectivity. Used by the admin health endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.ping(ctx)
}

// Query returns documents in the collection matching every equality filter.
func (p *Postgres) Query(ctx context.Context, collection string, filters []Filter, opts QueryOptions) ([]Document, error) {
	sql := `SELECT id, data FROM documents WHERE collection = $1`
	args := []any{collection}

	if len(filters) > 0 {
		contain := make(map[string]any, len(filters))
		for _, f := range filters {
			contain[f.Field] = f.Value
		}
		raw, err := json.Marshal(contain)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to encode query filters", err)
		}
		args = append(args, string(raw))
		sql += fmt.Sprintf(" AND data @> $%d::jsonb", len(args))
	}

	if opts.OrderBy != "" {
		dir := "ASC"
		if opts.Descending {
			dir = "DESC"
		}
		args = append(args, opts.OrderBy)
		sql += fmt.Sprintf(" ORDER BY data->>$%d %s", len(args), dir)
	}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "query failed for "+collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id string
		var data map[string]any
		if err := rows.Scan(&id, &data); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to scan document row", err)
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "error iterating document rows", err)
	}

	return docs, nil
}

// Get returns a single document, or nil when the id does not exist.
func (p *Postgres) Get(ctx context.Context, collection string, id string) (*Document, error) {
	var data map[string]any
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "get failed for "+collection+"/"+id, err)
	}
	return &Document{ID: id, Data: data}, nil
}

// BatchWrite applies all writes inside a single transaction. Any failure,
// including an OpCreate collision or an OpUpdate on a missing document,
// rolls back the whole batch.
func (p *Postgres) BatchWrite(ctx context.Context, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to begin batch transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, w := range writes {
		if err := applyWrite(ctx, tx, w); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to commit batch transaction", err)
	}
	return nil
}

func applyWrite(ctx context.Context, tx pgx.Tx, w Write) error {
	fields, err := json.Marshal(w.Fields)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to encode write fields", err)
	}

	switch w.Op {
	case OpSet:
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
			 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data`,
			w.Collection, w.ID, string(fields))
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "set failed for "+w.Collection+"/"+w.ID, err)
		}

	case OpCreate:
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
			w.Collection, w.ID, string(fields))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return types.NewAppError(types.ErrCodeConflictExists,
					"document already exists: "+w.Collection+"/"+w.ID, err)
			}
			return types.NewAppError(types.ErrCodeInternalStore, "create failed for "+w.Collection+"/"+w.ID, err)
		}

	case OpUpdate:
		tag, err := tx.Exec(ctx,
			`UPDATE documents SET data = data || $3::jsonb WHERE collection = $1 AND id = $2`,
			w.Collection, w.ID, string(fields))
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "update failed for "+w.Collection+"/"+w.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return types.NewAppError(types.ErrCodeNotFoundDocument,
				"cannot update missing document: "+w.Collection+"/"+w.ID, nil)
		}

	case OpDelete:
		_, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			w.Collection, w.ID)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "delete failed for "+w.Collection+"/"+w.ID, err)
		}

	default:
		return types.NewAppError(types.ErrCodeInternalStore, fmt.Sprintf("unknown write op %q", w.Op), nil)
	}

	return nil
}

// Add inserts a new document with a generated uuid and returns the id.
func (p *Postgres) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalStore, "failed to encode document fields", err)
	}

	id := uuid.New().String()
	_, err = p.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
		collection, id, string(raw))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalStore, "add failed for "+collection, err)
	}
	return id, nil
}

// compile-time interface check
var _ Store = (*Postgres)(nil)
