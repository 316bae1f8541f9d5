// Package backend provides the client for the local OpenAI-compatible
// model endpoint. The relay always requests a streaming completion and
// consumes the SSE response chunk by chunk.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/sse"
)

// ErrUpstream indicates the model endpoint could not be reached or
// returned a non-success status before any content was streamed.
var ErrUpstream = errors.New("upstream request failed")

// Chunk is one unit of assistant output delivered over the stream channel.
// A Chunk with a non-nil Err is terminal: the channel is closed after it.
type Chunk struct {
	Delta string
	Err   error
}

// Config holds the model endpoint settings.
type Config struct {
	// Upstream is the base URL of the OpenAI-compatible endpoint,
	// e.g. "http://localhost:11434/v1".
	Upstream string
	Model    string
	// Timeout bounds the entire request including streaming.
	Timeout time.Duration
}

// Client originates streaming chat completion requests against the
// configured endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a backend client for the given endpoint config.
func NewClient(config Config, logger *zap.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		// Local model generations can be slow on modest hardware.
		timeout = 5 * time.Minute
	}

	return &Client{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Stream sends the composed prompt to the model endpoint and returns a
// channel of content deltas. The returned error covers request setup and
// the initial response status; failures mid-stream are delivered as a
// terminal Chunk with Err set, after which the channel is closed.
func (c *Client) Stream(ctx context.Context, prompt chat.ComposedPrompt) (<-chan Chunk, error) {
	wireMessages := make([]chatMessage, 0, len(prompt))
	for _, msg := range prompt {
		wireMessages = append(wireMessages, chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.config.Model,
		Messages: wireMessages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("could not encode chat request: %w", err)
	}

	url := strings.TrimRight(c.config.Upstream, "/") + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("sending streaming request to model endpoint",
		zap.String("url", url),
		zap.String("model", c.config.Model),
		zap.Int("message_count", len(wireMessages)),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 8*1024))
		httpResp.Body.Close()
		c.logger.Error("model endpoint returned error",
			zap.Int("status", httpResp.StatusCode),
			zap.String("body", string(respBody)),
		)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, httpResp.StatusCode, upstreamErrorMessage(respBody))
	}

	chunks := make(chan Chunk)
	go c.readStream(ctx, httpResp, chunks)

	return chunks, nil
}

// readStream consumes the SSE response body and forwards content deltas
// until the [DONE] sentinel, the stream ends, or the context is canceled.
func (c *Client) readStream(ctx context.Context, httpResp *http.Response, chunks chan<- Chunk) {
	defer close(chunks)
	defer httpResp.Body.Close()

	reader := sse.NewReader(httpResp.Body)

	for {
		ev, err := reader.Next()
		if err != nil {
			c.logger.Error("error reading model stream", zap.Error(err))
			c.send(ctx, chunks, Chunk{Err: err})
			return
		}
		if ev == nil || ev.Data == "[DONE]" {
			return
		}

		var parsed streamChunk
		if err := json.Unmarshal([]byte(ev.Data), &parsed); err != nil {
			// Skip malformed payloads; keep-alive noise must not kill
			// the stream.
			c.logger.Warn("skipping unparseable stream chunk", zap.Error(err))
			continue
		}
		if len(parsed.Choices) == 0 {
			continue
		}

		delta := parsed.Choices[0].Delta.Content
		if delta == "" {
			// Role-only or finish-reason-only chunks carry no content.
			continue
		}

		if !c.send(ctx, chunks, Chunk{Delta: delta}) {
			return
		}
	}
}

// send delivers a chunk unless the context is canceled first.
func (c *Client) send(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Ping reports whether the model endpoint accepts connections. Any HTTP
// response counts as reachable; only transport-level failures are errors.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := strings.TrimRight(c.config.Upstream, "/") + "/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not create ping request: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	httpResp.Body.Close()

	return nil
}

// upstreamErrorMessage extracts a human-readable message from an upstream
// error body, tolerating both the flat and the nested error envelope.
func upstreamErrorMessage(body []byte) string {
	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch e := envelope.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "no error body"
	}
	return trimmed
}
