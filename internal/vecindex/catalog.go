package vecindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// indexName is the ANN index over knowledge_entries.embedding.
const indexName = "knowledge_entries_embedding_idx"

// PGCatalog is the pgx-backed implementation of the Catalog interface.
type PGCatalog struct {
	pool *pgxpool.Pool
}

// NewPGCatalog wraps a connection pool.
func NewPGCatalog(pool *pgxpool.Pool) *PGCatalog {
	return &PGCatalog{pool: pool}
}

const upsertSQL = `
INSERT INTO knowledge_entries (namespace, id, question, answer, instruction, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (namespace, id) DO UPDATE SET
    question    = EXCLUDED.question,
    answer      = EXCLUDED.answer,
    instruction = EXCLUDED.instruction,
    embedding   = EXCLUDED.embedding,
    updated_at  = now()`

// UpsertBatch writes one batch of entries in a single round trip.
func (c *PGCatalog) UpsertBatch(ctx context.Context, namespace string, entries []Entry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(upsertSQL,
			namespace, e.ID, e.Question, e.Answer, e.Instruction,
			pgvector.NewVector(e.Embedding))
	}

	results := c.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("entry %q (batch position %d): %w", entries[i].ID, i, err)
		}
	}
	return nil
}

const searchSQL = `
SELECT id, question, answer, instruction,
       1 - (embedding <=> $2) AS score
FROM knowledge_entries
WHERE namespace = $1
ORDER BY embedding <=> $2 ASC, id ASC
LIMIT $3`

// Search returns the limit nearest entries by cosine distance. Ties on
// distance break on id, so results are deterministic.
func (c *PGCatalog) Search(ctx context.Context, namespace string, vector []float32, limit int) ([]Match, error) {
	rows, err := c.pool.Query(ctx, searchSQL, namespace, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("searching entries: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Question, &m.Answer, &m.Instruction, &m.Score); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return matches, nil
}

// DeleteByIDs removes entries and reports how many rows existed.
func (c *PGCatalog) DeleteByIDs(ctx context.Context, namespace string, ids []string) (int64, error) {
	tag, err := c.pool.Exec(ctx,
		`DELETE FROM knowledge_entries WHERE namespace = $1 AND id = ANY($2)`,
		namespace, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of entries in a namespace.
func (c *PGCatalog) Count(ctx context.Context, namespace string) (int64, error) {
	var n int64
	err := c.pool.QueryRow(ctx,
		`SELECT count(*) FROM knowledge_entries WHERE namespace = $1`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// IndexState inspects pg_index for the ANN index. An invalid index with no
// build in flight is a leftover from a crashed CREATE INDEX CONCURRENTLY;
// it is reported as StateInvalid so the caller can drop and rebuild it.
func (c *PGCatalog) IndexState(ctx context.Context) (State, error) {
	var valid, building bool
	err := c.pool.QueryRow(ctx, `
		SELECT i.indisvalid,
		       EXISTS (
		           SELECT 1 FROM pg_stat_progress_create_index p
		           WHERE p.index_relid = i.indexrelid
		       )
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indexrelid
		WHERE c.relname = $1`, indexName).Scan(&valid, &building)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StateAbsent, nil
		}
		return StateAbsent, fmt.Errorf("checking index state: %w", err)
	}
	switch {
	case valid:
		return StateReady, nil
	case building:
		return StateProvisioning, nil
	default:
		return StateInvalid, nil
	}
}

// CreateIndex builds the HNSW index without blocking writes. The call itself
// blocks until the build finishes or fails, so callers poll IndexState from
// another goroutine for progress.
func (c *PGCatalog) CreateIndex(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX CONCURRENTLY IF NOT EXISTS %s
		 ON knowledge_entries USING hnsw (embedding vector_cosine_ops)`, indexName))
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}
	return nil
}

// DropIndex removes the ANN index. IF NOT EXISTS skips an invalid leftover,
// so a rebuild must drop it first.
func (c *PGCatalog) DropIndex(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(
		`DROP INDEX CONCURRENTLY IF EXISTS %s`, indexName))
	if err != nil {
		return fmt.Errorf("dropping index: %w", err)
	}
	return nil
}
