// Package memory provides the bounded conversation memory layer.
//
// A Store holds the most recent turns of each session, FIFO-evicting the
// oldest once the configured bound is exceeded. Persistence is synchronous
// but best-effort: when the backing storage is unwritable, Append reports
// ErrDegraded while still updating the in-memory window so the current
// request can proceed. Conversational continuity is never sacrificed for a
// single write failure.
//
// Drivers are pluggable via configuration:
//
//	[memory]
//	driver = "file"   # or "sqlite"
package memory

import (
	"context"
	"errors"

	"github.com/chatunreal/unreal/pkg/chat"
)

// ErrDegraded indicates an append that updated the in-memory window but
// failed to persist. Callers should log it and carry on.
var ErrDegraded = errors.New("memory persisted in degraded mode")

// Store is the conversation memory contract.
// All turn sequences are oldest-first; sessions are independent namespaces.
type Store interface {
	// Append adds a turn to the session's window, evicting the oldest turn
	// when the bound is exceeded, and persists synchronously before
	// returning. Returns an error wrapping ErrDegraded when persistence
	// failed but the in-memory window was still updated.
	Append(ctx context.Context, session string, turn chat.Turn) error

	// Recent returns up to the last k turns of the session, oldest-first.
	// Never mutates state.
	Recent(ctx context.Context, session string, k int) ([]chat.Turn, error)

	// Close releases driver resources.
	Close() error
}

// Clip returns the trailing window of turns bounded to max entries.
// A non-positive max clips to empty.
func Clip(turns []chat.Turn, max int) []chat.Turn {
	if max <= 0 {
		return nil
	}
	if len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}
