// Package contextstore implements ReasoningContext: append-only versioned
// facts keyed by (session, scope, key). Every write is a new row; reads take
// the latest version per key within the requested scopes, matching
// original_source's ReasoningRepository.set_context/list_context plus
// ReasoningService._read_latest_context_value's reverse-iterate-and-take-
// first-match semantics.
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ontoreason.app/engine/internal/platform/id"
)

// Scope is one of the four closed context scopes from spec.md §3.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeSession  Scope = "session"
	ScopeLocal    Scope = "local"
	ScopeArtifact Scope = "artifact"
)

// Entry is one durable row of reasoning_context.
type Entry struct {
	ID        int64
	SessionID int64
	Scope     Scope
	Key       string
	Value     map[string]any
}

// Store is the append-only context repository.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Write appends a new version of (scope, key) for session. It never updates
// or deletes a prior version — the context store is strictly append-only.
func (s *Store) Write(ctx context.Context, sessionID int64, scope Scope, key string, value map[string]any) error {
	return s.writeTx(ctx, s.pool, sessionID, scope, key, value)
}

// WriteTx is Write scoped to an existing transaction, used by nodes that
// must persist context as part of the same commit as their other writes.
func (s *Store) WriteTx(ctx context.Context, tx pgx.Tx, sessionID int64, scope Scope, key string, value map[string]any) error {
	return s.writeTx(ctx, tx, sessionID, scope, key, value)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) writeTx(ctx context.Context, db execer, sessionID int64, scope Scope, key string, value map[string]any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal context value: %w", err)
	}
	_, err = db.Exec(ctx, `
		INSERT INTO reasoning_contexts (id, session_id, scope, key, value_json, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, id.New(), sessionID, string(scope), key, valueJSON)
	if err != nil {
		return fmt.Errorf("insert context entry: %w", err)
	}
	return nil
}

// List returns every entry for session in the given scopes (all scopes if
// scopes is empty), ordered by id ascending — oldest first, matching
// original_source's list_context so callers can reverse-iterate for the
// latest version per key.
func (s *Store) List(ctx context.Context, sessionID int64, scopes []Scope) ([]Entry, error) {
	return s.listTx(ctx, s.pool, sessionID, scopes)
}

func (s *Store) listTx(ctx context.Context, db execer, sessionID int64, scopes []Scope) ([]Entry, error) {
	var rows pgx.Rows
	var err error
	if len(scopes) == 0 {
		rows, err = db.Query(ctx, `
			SELECT id, session_id, scope, key, value_json
			FROM reasoning_contexts WHERE session_id = $1 ORDER BY id ASC
		`, sessionID)
	} else {
		scopeStrs := make([]string, len(scopes))
		for i, sc := range scopes {
			scopeStrs[i] = string(sc)
		}
		rows, err = db.Query(ctx, `
			SELECT id, session_id, scope, key, value_json
			FROM reasoning_contexts WHERE session_id = $1 AND scope = ANY($2) ORDER BY id ASC
		`, sessionID, scopeStrs)
	}
	if err != nil {
		return nil, fmt.Errorf("list context entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var scope string
		var valueJSON []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &scope, &e.Key, &valueJSON); err != nil {
			return nil, fmt.Errorf("scan context entry: %w", err)
		}
		e.Scope = Scope(scope)
		if err := json.Unmarshal(valueJSON, &e.Value); err != nil {
			e.Value = map[string]any{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReadLatest returns the most recently written value for key within scopes,
// reverse-iterating insertion order so the newest version wins — matches
// original_source's _read_latest_context_value. Returns (nil, false) if key
// was never written in those scopes.
func (s *Store) ReadLatest(ctx context.Context, sessionID int64, key string, scopes []Scope) (map[string]any, bool) {
	return s.readLatestTx(ctx, s.pool, sessionID, key, scopes)
}

func (s *Store) readLatestTx(ctx context.Context, db execer, sessionID int64, key string, scopes []Scope) (map[string]any, bool) {
	entries, err := s.listTx(ctx, db, sessionID, scopes)
	if err != nil {
		return nil, false
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Key == key {
			return entries[i].Value, true
		}
	}
	return nil, false
}
