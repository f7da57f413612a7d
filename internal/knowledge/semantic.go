package knowledge

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"
)

// Schema is the SQL DDL for the npc_facts table. The embedding dimension
// matches text-embedding-3-small; adjust before applying if a different
// embedder is configured.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS npc_facts (
    id        TEXT PRIMARY KEY,
    npc_id    TEXT NOT NULL,
    content   TEXT NOT NULL,
    embedding vector(1536) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_npc_facts_npc ON npc_facts(npc_id);
CREATE INDEX IF NOT EXISTS idx_npc_facts_embedding
    ON npc_facts USING hnsw (embedding vector_cosine_ops);
`

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DB is the database interface used by [SemanticResolver]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SemanticResolver is a [Resolver] backed by a pgvector HNSW index. Each
// Resolve call embeds the utterance and runs a cosine nearest-neighbour
// search over the NPC's fact table.
type SemanticResolver struct {
	db       DB
	embedder Embedder

	// MaxDistance discards facts whose cosine distance exceeds it. Zero
	// means no cutoff.
	MaxDistance float64
}

var _ Resolver = (*SemanticResolver)(nil)

// NewSemanticResolver creates a resolver using the given database and
// embedder.
func NewSemanticResolver(db DB, embedder Embedder) *SemanticResolver {
	return &SemanticResolver{db: db, embedder: embedder}
}

// Migrate executes the [Schema] DDL against the database.
func (r *SemanticResolver) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("knowledge: migrate: %w", err)
	}
	return nil
}

// IndexFact embeds and upserts a fact under the given ID.
func (r *SemanticResolver) IndexFact(ctx context.Context, id string, fact Fact) error {
	embedding, err := r.embedder.Embed(ctx, fact.Content)
	if err != nil {
		return fmt.Errorf("knowledge: embed fact: %w", err)
	}

	const query = `
		INSERT INTO npc_facts (id, npc_id, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			npc_id = EXCLUDED.npc_id,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`

	_, err = r.db.Exec(ctx, query, id, fact.NPCID, fact.Content, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("knowledge: index fact: %w", err)
	}
	return nil
}

// Resolve implements [Resolver]. Results are ordered by ascending cosine
// distance (most similar first).
func (r *SemanticResolver) Resolve(ctx context.Context, npcID, utterance string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}

	embedding, err := r.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed utterance: %w", err)
	}

	const query = `
		SELECT content, embedding <=> $1 AS distance
		FROM   npc_facts
		WHERE  npc_id = $2
		ORDER  BY distance
		LIMIT  $3`

	rows, err := r.db.Query(ctx, query, pgvector.NewVector(embedding), npcID, limit)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}

	type result struct {
		content  string
		distance float64
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (result, error) {
		var res result
		err := row.Scan(&res.content, &res.distance)
		return res, err
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: scan rows: %w", err)
	}

	var facts []string
	for _, res := range results {
		if r.MaxDistance > 0 && res.distance > r.MaxDistance {
			continue
		}
		facts = append(facts, res.content)
	}
	return facts, nil
}
