package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals TurnCompletedEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := &eventstream.TurnCompletedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeTurnCompleted,
			EventID:       "evt_123",
			EmittedAt:     now,
			Session:       "default",
			Turn: chat.Turn{
				Role:      chat.RoleAssistant,
				Text:      "hi",
				Timestamp: now,
			},
			RequestMeta: eventstream.TurnRequestMeta{
				StartedAt:   now.Add(-2 * time.Second),
				CompletedAt: now,
				DurationMs:  2000,
				Streaming:   true,
			},
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("session"))
		Expect(got).To(HaveKey("turn"))
		Expect(got).To(HaveKey("request_meta"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeTurnCompleted).To(Equal("unreal.turn.completed"))
	})

	It("fills the envelope via NewTurnCompletedEvent", func() {
		turn := chat.Turn{Role: chat.RoleAssistant, Text: "hello"}
		event := eventstream.NewTurnCompletedEvent("session-1", turn, eventstream.TurnRequestMeta{Augmented: true})

		Expect(event.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(event.EventType).To(Equal(eventstream.EventTypeTurnCompleted))
		Expect(event.EventID).NotTo(BeEmpty())
		Expect(event.EmittedAt).NotTo(BeZero())
		Expect(event.Session).To(Equal("session-1"))
		Expect(event.Turn.Text).To(Equal("hello"))
		Expect(event.RequestMeta.Augmented).To(BeTrue())
	})

	It("provides ErrNilTurnEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilTurnEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilTurnEvent).To(MatchError("nil turn event"))
	})
})
