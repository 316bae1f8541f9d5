package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatunreal/unreal/pkg/backend"
	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/eventstream"
	"github.com/chatunreal/unreal/pkg/memory"
	"github.com/chatunreal/unreal/pkg/utils"
)

// errStalled indicates the backend stopped emitting chunks for longer than
// the idle timeout while the stream was still open.
var errStalled = errors.New("model stream stalled")

// truncationMarker is appended to a partial reply persisted after a
// mid-stream failure, so the memory window never presents an interrupted
// reply as complete.
const truncationMarker = " [truncated]"

// streamSentinel terminates a clean client-facing event stream.
const streamSentinel = "data: [DONE]\n\n"

// drain consumes the backend chunk channel, accumulating the full reply and
// forwarding each delta to onDelta when set. It returns the accumulated
// text together with the terminal error, if any; the text may be non-empty
// even on error.
func (s *Server) drain(chunks <-chan backend.Chunk, onDelta func(delta string) error) (string, error) {
	idle := s.config.IdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}

	var acc strings.Builder
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return acc.String(), nil
			}
			if chunk.Err != nil {
				return acc.String(), chunk.Err
			}

			acc.WriteString(chunk.Delta)
			if onDelta != nil {
				if err := onDelta(chunk.Delta); err != nil {
					return acc.String(), fmt.Errorf("client write failed: %w", err)
				}
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			return acc.String(), errStalled
		}
	}
}

// relayToPipe drains the backend stream into the response body pipe,
// framing each delta as an SSE event, then persists the reply. It owns the
// session lock for the remainder of the request.
func (s *Server) relayToPipe(ctx context.Context, cancel context.CancelFunc, pw *io.PipeWriter, chunks <-chan backend.Chunk, session string, lock *sync.Mutex, meta eventstream.TurnRequestMeta) {
	// Deferred in this order so the session lock is released before the
	// pipe closes: a client that sees the end of the body can immediately
	// send its next request without racing the unlock.
	defer cancel()
	defer pw.Close()
	defer lock.Unlock()

	text, drainErr := s.drain(chunks, func(delta string) error {
		if err := writeFrame(pw, chat.StreamChunk{Delta: delta}); err != nil {
			// The client went away; stop the upstream generation too.
			cancel()
			return err
		}
		return nil
	})

	s.persistReply(session, text, drainErr != nil, meta)

	if drainErr != nil {
		s.logger.Error("model stream failed",
			zap.String("session", session),
			zap.Error(drainErr),
		)
		// Terminal error frame; the absent [DONE] sentinel tells the
		// client the reply is incomplete.
		_ = writeErrorFrame(pw, "model stream interrupted")
		return
	}

	_ = writeFrame(pw, chat.StreamChunk{Done: true})
	_, _ = fmt.Fprint(pw, streamSentinel)
}

// persistReply appends the assistant turn and publishes the turn event.
// A truncated reply is persisted with the truncation marker; a stream that
// failed before emitting anything persists nothing.
func (s *Server) persistReply(session, text string, truncated bool, meta eventstream.TurnRequestMeta) {
	if text == "" {
		if truncated {
			s.logger.Warn("stream failed before any output, nothing persisted",
				zap.String("session", session),
			)
		}
		return
	}
	if truncated {
		text += truncationMarker
	}

	s.logger.Debug("reply complete",
		zap.String("session", session),
		zap.String("preview", utils.Truncate(text, 80)),
		zap.Bool("truncated", truncated),
	)

	// Detached context: persistence and publishing must not be lost to a
	// client disconnect.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	turn := chat.NewTurn(chat.RoleAssistant, text)
	if err := s.store.Append(ctx, session, turn); err != nil {
		if errors.Is(err, memory.ErrDegraded) {
			s.logger.Warn("assistant turn persisted in degraded mode", zap.Error(err))
		} else {
			s.logger.Error("could not append assistant turn", zap.Error(err))
		}
	}

	meta.CompletedAt = time.Now().UTC()
	meta.DurationMs = meta.CompletedAt.Sub(meta.StartedAt).Milliseconds()
	meta.Truncated = truncated

	if err := s.publisher.PublishTurn(ctx, eventstream.NewTurnCompletedEvent(session, turn, meta)); err != nil {
		s.logger.Warn("could not publish turn event", zap.Error(err))
	}
}

// writeFrame writes one client-facing SSE delta frame.
func writeFrame(w io.Writer, chunk chat.StreamChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// writeErrorFrame writes a terminal error frame.
func writeErrorFrame(w io.Writer, message string) error {
	payload, err := json.Marshal(chat.ErrorResponse{Error: message})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
