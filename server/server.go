// Package server implements the chat relay: the HTTP surface and the
// per-request orchestration that ties memory, search augmentation, prompt
// composition, and the streaming model backend together.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatunreal/unreal/pkg/backend"
	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/chat/compose"
	"github.com/chatunreal/unreal/pkg/eventstream"
	"github.com/chatunreal/unreal/pkg/eventstream/nop"
	"github.com/chatunreal/unreal/pkg/memory"
	"github.com/chatunreal/unreal/pkg/tor"
)

// DefaultSession is the session name used when a request does not name one.
const DefaultSession = "default"

// Backend originates one streaming generation call per chat request.
type Backend interface {
	Stream(ctx context.Context, prompt chat.ComposedPrompt) (<-chan backend.Chunk, error)
	Ping(ctx context.Context) error
}

// Augmenter produces optional search context for a user message.
type Augmenter interface {
	MaybeAugment(ctx context.Context, message string) *chat.SearchResult
}

// Server is the chat relay server. Each request runs the pipeline
// memory snapshot, user-turn append, optional augmentation, composition,
// streaming relay, assistant-turn persistence, holding its session lock
// throughout so turns land in strict request order.
type Server struct {
	config     Config
	store      memory.Store
	backend    Backend
	augmenter  Augmenter
	publisher  eventstream.Publisher
	supervisor *tor.Supervisor
	logger     *zap.Logger
	app        *fiber.App
	sessions   *sessionLocks
}

// New creates a chat relay server. The augmenter and supervisor may be nil
// when search is disabled; a nil publisher falls back to the no-op one.
func New(config Config, store memory.Store, bk Backend, augmenter Augmenter, publisher eventstream.Publisher, supervisor *tor.Supervisor, logger *zap.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("memory store is required")
	}
	if bk == nil {
		return nil, errors.New("backend is required")
	}
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	s := &Server{
		config:     config,
		store:      store,
		backend:    bk,
		augmenter:  augmenter,
		publisher:  publisher,
		supervisor: supervisor,
		logger:     logger,
		app:        app,
		sessions:   newSessionLocks(),
	}

	app.Post("/api/chat", s.handleChat)
	app.Get("/api/history", s.handleHistory)
	app.Get("/health", s.handleHealth)

	return s, nil
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting chat relay server",
		zap.String("listen", s.config.ListenAddr),
	)

	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting chat relay server",
		zap.String("listen", listener.Addr().String()),
	)

	return s.app.Listener(listener)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	return s.app.Shutdown()
}

// handleChat is the primary chat endpoint. Validation happens before any
// side effect; the session lock is taken before the first memory touch.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req chat.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}

	message := chat.Sanitize(req.Message, 0)
	if message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "no message provided"})
	}
	if s.config.MaxMessageLen > 0 && len([]rune(message)) > s.config.MaxMessageLen {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "message too long"})
	}

	session := req.Session
	if session == "" {
		session = DefaultSession
	}

	lock := s.sessions.get(session)
	if s.config.QueueOverlap {
		lock.Lock()
	} else if !lock.TryLock() {
		return c.Status(fiber.StatusConflict).JSON(chat.ErrorResponse{Error: "request in progress"})
	}

	if req.Stream {
		return s.respondStreaming(c, session, message, lock)
	}

	defer lock.Unlock()
	return s.respondJSON(c, session, message)
}

// respondJSON runs the pipeline inline and answers with a single envelope.
func (s *Server) respondJSON(c *fiber.Ctx, session, message string) error {
	startTime := time.Now().UTC()

	prompt, augmented := s.prepare(c.Context(), session, message)

	chunks, err := s.backend.Stream(c.Context(), prompt)
	if err != nil {
		s.logger.Error("backend request failed",
			zap.String("session", session),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(chat.ErrorResponse{Error: "model backend unavailable"})
	}

	text, drainErr := s.drain(chunks, nil)

	s.persistReply(session, text, drainErr != nil, eventstream.TurnRequestMeta{
		StartedAt: startTime,
		Augmented: augmented,
	})

	if drainErr != nil {
		s.logger.Error("model stream failed",
			zap.String("session", session),
			zap.Error(drainErr),
		)
		return c.Status(fiber.StatusBadGateway).JSON(chat.ErrorResponse{Error: "model stream interrupted"})
	}

	return c.JSON(chat.ChatResponse{Response: text})
}

// respondStreaming opens the backend stream while still inside the handler
// so a backend-unreachable failure can answer 502, then hands the drain
// loop to a goroutine feeding the response body pipe.
func (s *Server) respondStreaming(c *fiber.Ctx, session, message string, lock *sync.Mutex) error {
	startTime := time.Now().UTC()

	prompt, augmented := s.prepare(c.Context(), session, message)

	// Use context.Background() instead of c.Context() because fasthttp
	// recycles its RequestCtx after the handler returns, but the drain
	// goroutine runs on and needs the upstream connection to stay open.
	ctx, cancel := context.WithCancel(context.Background())

	chunks, err := s.backend.Stream(ctx, prompt)
	if err != nil {
		cancel()
		lock.Unlock()
		s.logger.Error("backend request failed",
			zap.String("session", session),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(chat.ErrorResponse{Error: "model backend unavailable"})
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")

	// io.Pipe + SetBodyStream gives direct backpressure: pw.Write blocks
	// until fasthttp reads from the pipe and flushes to the TCP socket,
	// so each delta reaches the client as soon as the model emits it.
	pr, pw := io.Pipe()
	go s.relayToPipe(ctx, cancel, pw, chunks, session, lock, eventstream.TurnRequestMeta{
		StartedAt: startTime,
		Streaming: true,
		Augmented: augmented,
	})

	// Unknown size (-1) triggers chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// prepare takes the memory snapshot, appends the user turn, runs the
// conditional augmentation, and composes the prompt. The snapshot is taken
// before the append so the new user message appears exactly once, as the
// final prompt entry.
func (s *Server) prepare(ctx context.Context, session, message string) (chat.ComposedPrompt, bool) {
	snapshot, err := s.store.Recent(ctx, session, s.config.PromptTurns)
	if err != nil {
		s.logger.Warn("could not read conversation memory",
			zap.String("session", session),
			zap.Error(err),
		)
	}

	if err := s.store.Append(ctx, session, chat.NewTurn(chat.RoleUser, message)); err != nil {
		if errors.Is(err, memory.ErrDegraded) {
			s.logger.Warn("user turn persisted in degraded mode", zap.Error(err))
		} else {
			s.logger.Error("could not append user turn", zap.Error(err))
		}
	}

	var result *chat.SearchResult
	if s.augmenter != nil {
		result = s.augmenter.MaybeAugment(ctx, message)
	}
	if result != nil {
		s.logger.Debug("prompt augmented with search context",
			zap.String("session", session),
			zap.String("query", result.Query),
			zap.String("source", result.SourceURL),
		)
	}

	return compose.Compose(s.config.SystemPrompt, snapshot, result, message), result != nil
}

// healthResponse reports dependency state alongside the overall status.
type healthResponse struct {
	Status  string `json:"status"`
	Tor     string `json:"tor"`
	Backend string `json:"backend"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	torState := string(tor.StateDisabled)
	if s.supervisor != nil {
		torState = string(s.supervisor.State())
	}

	backendState := "reachable"
	if err := s.backend.Ping(c.Context()); err != nil {
		backendState = "unreachable"
	}

	return c.JSON(healthResponse{
		Status:  "ok",
		Tor:     torState,
		Backend: backendState,
	})
}

// historyResponse is the bounded recent window for a session.
type historyResponse struct {
	Session string      `json:"session"`
	History []chat.Turn `json:"history"`
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	session := c.Query("session")
	if session == "" {
		session = DefaultSession
	}

	limit := s.config.HistoryTurns
	if limit <= 0 {
		limit = 50
	}

	turns, err := s.store.Recent(c.Context(), session, limit)
	if err != nil {
		s.logger.Error("could not read history",
			zap.String("session", session),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "could not read history"})
	}
	if turns == nil {
		turns = []chat.Turn{}
	}

	return c.JSON(historyResponse{Session: session, History: turns})
}
