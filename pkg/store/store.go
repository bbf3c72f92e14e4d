// Package store persists conversation event logs.
//
// A Store is keyed by conversation name. Appends for the same conversation
// are serialized and committed atomically; loads observe either the pre- or
// post-state of an append, never a partial write. Different conversations are
// fully independent.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/miniagent/pkg/events"
)

// Store is the event-store contract.
type Store interface {
	// Load returns the full event log for a conversation, in event-number
	// order. A conversation that does not exist yields an empty slice, not
	// an error.
	Load(ctx context.Context, name string) ([]events.Event, error)

	// Append atomically commits events to the end of a conversation's log.
	// Appends for the same name are processed in arrival order.
	Append(ctx context.Context, name string, evs []events.Event) error

	// Exists reports whether a conversation has a stored log.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the names of all stored conversations, sorted.
	List(ctx context.Context) ([]string, error)

	// Close flushes pending appends and releases resources.
	Close() error
}

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("store is closed")

// ErrInvalidName is returned for conversation names that cannot be used as
// storage keys.
var ErrInvalidName = errors.New("invalid conversation name")

// LoadError reports a failed log read: corruption, an undecodable event, or
// an I/O error. Absence of the conversation is not a LoadError.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading conversation %q: %v", e.Name, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SaveError reports a failed append. The events are not committed; callers
// must roll back any in-memory application of them.
type SaveError struct {
	Name string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("appending to conversation %q: %v", e.Name, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// validateName rejects names that would escape the storage namespace.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
