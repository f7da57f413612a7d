package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hollowmere/parley/pkg/provider/llm"
)

// Schema is the SQL DDL for the conversations table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL DEFAULT '',
    player_id  TEXT NOT NULL DEFAULT '',
    npc_id     TEXT NOT NULL DEFAULT '',
    history    JSONB NOT NULL DEFAULT '[]',
    version    BIGINT NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_participants
    ON conversations(project_id, player_id, npc_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. The message
// history is serialised as a JSONB array.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] using the given connection
// or pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("conversation: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	const query = `
		SELECT id, project_id, player_id, npc_id, history, version, started_at, updated_at
		FROM conversations
		WHERE id = $1`

	var rec Record
	var historyJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.ProjectID, &rec.PlayerID, &rec.NPCID,
		&historyJSON, &rec.Version, &rec.StartedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation: get %q: %w", id, err)
	}

	if err := json.Unmarshal(historyJSON, &rec.History); err != nil {
		return nil, fmt.Errorf("conversation: unmarshal history: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	history := rec.History
	if history == nil {
		history = []llm.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("conversation: marshal history: %w", err)
	}

	const query = `
		INSERT INTO conversations (id, project_id, player_id, npc_id, history, version)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			history = EXCLUDED.history,
			version = EXCLUDED.version,
			updated_at = now()
		RETURNING started_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		rec.ID, rec.ProjectID, rec.PlayerID, rec.NPCID, historyJSON, rec.Version,
	).Scan(&rec.StartedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("conversation: save %q: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM conversations WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("conversation: delete %q: %w", id, err)
	}
	return nil
}
