package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/codeready-toolchain/miniagent/pkg/events"
)

// PGStore persists conversation logs in PostgreSQL, one row per event in
// conversation_events. The (session_name, event_number) primary key is the
// serialization point: two appenders racing on the same log position conflict
// at commit instead of interleaving, and a transaction commits all events of
// an append or none.
//
// PGStore does not own the connection pool; closing the store is a no-op and
// the pool's owner (database.Client) is responsible for cleanup.
type PGStore struct {
	db *stdsql.DB
}

// NewPGStore wraps an already-migrated connection pool.
func NewPGStore(db *stdsql.DB) *PGStore {
	return &PGStore{db: db}
}

// Load reads a conversation's full log in event-number order.
func (s *PGStore) Load(ctx context.Context, name string) ([]events.Event, error) {
	if err := validateName(name); err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM conversation_events WHERE session_name = $1 ORDER BY event_number`,
		name,
	)
	if err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}
	defer rows.Close()

	var evs []events.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		var e events.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, &LoadError{Name: name, Err: err}
		}
		evs = append(evs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &LoadError{Name: name, Err: err}
	}
	return evs, nil
}

// Append commits all events in a single transaction.
func (s *PGStore) Append(ctx context.Context, name string, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	if err := validateName(name); err != nil {
		return &SaveError{Name: name, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &SaveError{Name: name, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range evs {
		payload, err := json.Marshal(e)
		if err != nil {
			return &SaveError{Name: name, Err: fmt.Errorf("encoding event %d: %w", e.EventNumber, err)}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_events (session_name, event_number, event_type, payload)
			 VALUES ($1, $2, $3, $4)`,
			name, e.EventNumber, string(e.Type), payload,
		)
		if err != nil {
			return &SaveError{Name: name, Err: fmt.Errorf("inserting event %d: %w", e.EventNumber, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &SaveError{Name: name, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// Exists reports whether any events are stored for the conversation.
func (s *PGStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_events WHERE session_name = $1)`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking conversation %q: %w", name, err)
	}
	return exists, nil
}

// List returns all stored conversation names, sorted.
func (s *PGStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT session_name FROM conversation_events`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing conversations: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; the connection pool is owned by database.Client.
func (s *PGStore) Close() error { return nil }
