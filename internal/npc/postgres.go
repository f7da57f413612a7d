package npc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the npc_definitions table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS npc_definitions (
    id              TEXT PRIMARY KEY,
    project_id      TEXT NOT NULL DEFAULT '',
    name            TEXT NOT NULL,
    persona         TEXT NOT NULL DEFAULT '',
    greeting        TEXT NOT NULL DEFAULT '',
    voice           JSONB NOT NULL DEFAULT '{}',
    knowledge_scope JSONB NOT NULL DEFAULT '[]',
    behavior_rules  JSONB NOT NULL DEFAULT '[]',
    tools           JSONB NOT NULL DEFAULT '[]',
    attributes      JSONB NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_npc_definitions_project ON npc_definitions(project_id);
CREATE INDEX IF NOT EXISTS idx_npc_definitions_name ON npc_definitions(name);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
// It serialises structured sub-fields (voice, knowledge, etc.) as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// npc_definitions table and indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("npc: migrate: %w", err)
	}
	return nil
}

// Create inserts a new NPC definition. It validates the definition and
// returns an error if an NPC with the same ID already exists.
func (s *PostgresStore) Create(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON, err := marshalFields(def)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO npc_definitions (
			id, project_id, name, persona, greeting,
			voice, knowledge_scope, behavior_rules, tools, attributes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.ProjectID, def.Name, def.Persona, def.Greeting,
		voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON,
	).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("npc: npc with id %q already exists", def.ID)
		}
		return fmt.Errorf("npc: create: %w", err)
	}
	return nil
}

// Get retrieves an NPC definition by ID. It returns (nil, nil) if no NPC with
// the given ID exists.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Definition, error) {
	const query = `
		SELECT id, project_id, name, persona, greeting,
		       voice, knowledge_scope, behavior_rules, tools, attributes,
		       created_at, updated_at
		FROM npc_definitions
		WHERE id = $1`

	var def Definition
	var voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&def.ID, &def.ProjectID, &def.Name, &def.Persona, &def.Greeting,
		&voiceJSON, &ksJSON, &brJSON, &toolsJSON, &attrJSON,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("npc: get %q: %w", id, err)
	}

	if err := unmarshalFields(&def, voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON); err != nil {
		return nil, err
	}
	return &def, nil
}

// Update replaces an existing NPC definition. It validates the new definition
// and returns an error if the NPC is not found.
func (s *PostgresStore) Update(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON, err := marshalFields(def)
	if err != nil {
		return err
	}

	const query = `
		UPDATE npc_definitions SET
			project_id = $2, name = $3, persona = $4, greeting = $5,
			voice = $6, knowledge_scope = $7, behavior_rules = $8,
			tools = $9, attributes = $10, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.ProjectID, def.Name, def.Persona, def.Greeting,
		voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON,
	).Scan(&def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("npc: npc with id %q not found", def.ID)
		}
		return fmt.Errorf("npc: update: %w", err)
	}
	return nil
}

// Delete removes an NPC definition by ID. Deleting a non-existent NPC is not
// an error.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM npc_definitions WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("npc: delete %q: %w", id, err)
	}
	return nil
}

// List returns all NPC definitions, optionally filtered by project ID. An
// empty projectID returns all definitions.
func (s *PostgresStore) List(ctx context.Context, projectID string) ([]Definition, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if projectID == "" {
		const query = `
			SELECT id, project_id, name, persona, greeting,
			       voice, knowledge_scope, behavior_rules, tools, attributes,
			       created_at, updated_at
			FROM npc_definitions
			ORDER BY name`
		rows, err = s.db.Query(ctx, query)
	} else {
		const query = `
			SELECT id, project_id, name, persona, greeting,
			       voice, knowledge_scope, behavior_rules, tools, attributes,
			       created_at, updated_at
			FROM npc_definitions
			WHERE project_id = $1
			ORDER BY name`
		rows, err = s.db.Query(ctx, query, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("npc: list: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var def Definition
		var voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON []byte

		if err := rows.Scan(
			&def.ID, &def.ProjectID, &def.Name, &def.Persona, &def.Greeting,
			&voiceJSON, &ksJSON, &brJSON, &toolsJSON, &attrJSON,
			&def.CreatedAt, &def.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("npc: list scan: %w", err)
		}

		if err := unmarshalFields(&def, voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("npc: list: %w", err)
	}
	return defs, nil
}

// Upsert creates or replaces an NPC definition. This is useful for importing
// definitions from YAML config files. The definition is validated before
// persistence.
func (s *PostgresStore) Upsert(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON, err := marshalFields(def)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO npc_definitions (
			id, project_id, name, persona, greeting,
			voice, knowledge_scope, behavior_rules, tools, attributes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			name = EXCLUDED.name,
			persona = EXCLUDED.persona,
			greeting = EXCLUDED.greeting,
			voice = EXCLUDED.voice,
			knowledge_scope = EXCLUDED.knowledge_scope,
			behavior_rules = EXCLUDED.behavior_rules,
			tools = EXCLUDED.tools,
			attributes = EXCLUDED.attributes,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		def.ID, def.ProjectID, def.Name, def.Persona, def.Greeting,
		voiceJSON, ksJSON, brJSON, toolsJSON, attrJSON,
	).Scan(&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("npc: upsert: %w", err)
	}
	return nil
}

// marshalFields serialises the structured sub-fields for storage as JSONB.
func marshalFields(def *Definition) (voice, ks, br, tools, attrs []byte, err error) {
	voice, err = json.Marshal(def.Voice)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("npc: marshal voice: %w", err)
	}
	ks, err = json.Marshal(emptySlice(def.KnowledgeScope))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("npc: marshal knowledge_scope: %w", err)
	}
	br, err = json.Marshal(emptySlice(def.BehaviorRules))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("npc: marshal behavior_rules: %w", err)
	}
	tools, err = json.Marshal(emptySlice(def.Tools))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("npc: marshal tools: %w", err)
	}
	attrs, err = json.Marshal(emptyMap(def.Attributes))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("npc: marshal attributes: %w", err)
	}
	return voice, ks, br, tools, attrs, nil
}

// unmarshalFields deserialises the JSONB columns into the corresponding
// [Definition] fields.
func unmarshalFields(def *Definition, voice, ks, br, tools, attrs []byte) error {
	if err := json.Unmarshal(voice, &def.Voice); err != nil {
		return fmt.Errorf("npc: unmarshal voice: %w", err)
	}
	if err := json.Unmarshal(ks, &def.KnowledgeScope); err != nil {
		return fmt.Errorf("npc: unmarshal knowledge_scope: %w", err)
	}
	if err := json.Unmarshal(br, &def.BehaviorRules); err != nil {
		return fmt.Errorf("npc: unmarshal behavior_rules: %w", err)
	}
	if err := json.Unmarshal(tools, &def.Tools); err != nil {
		return fmt.Errorf("npc: unmarshal tools: %w", err)
	}
	if err := json.Unmarshal(attrs, &def.Attributes); err != nil {
		return fmt.Errorf("npc: unmarshal attributes: %w", err)
	}
	return nil
}

// emptySlice returns an empty slice in place of nil so the JSONB column
// stores [] rather than null.
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// emptyMap returns an empty map in place of nil so the JSONB column stores
// {} rather than null.
func emptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique-violation
// error (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
