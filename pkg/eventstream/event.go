package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/chatunreal/unreal/pkg/chat"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnCompleted is emitted after a chat exchange completes
	// and its assistant turn is persisted.
	EventTypeTurnCompleted = "unreal.turn.completed"
)

// TurnCompletedEvent is a transport-neutral event payload for a completed
// chat exchange.
type TurnCompletedEvent struct {
	SchemaVersion int             `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Session       string          `json:"session"`
	Turn          chat.Turn       `json:"turn"`
	RequestMeta   TurnRequestMeta `json:"request_meta"`
}

// TurnRequestMeta captures request lifecycle metadata for the event.
type TurnRequestMeta struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`
	Streaming   bool      `json:"streaming"`
	Augmented   bool      `json:"augmented"`
	Truncated   bool      `json:"truncated"`
}

// NewTurnCompletedEvent builds a v1 event envelope around the given turn.
func NewTurnCompletedEvent(session string, turn chat.Turn, meta TurnRequestMeta) *TurnCompletedEvent {
	return &TurnCompletedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeTurnCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Session:       session,
		Turn:          turn,
		RequestMeta:   meta,
	}
}
