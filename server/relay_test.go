package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/chatunreal/unreal/pkg/backend"
	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/memory"
	"github.com/chatunreal/unreal/pkg/memory/file"
)

// parseFrames splits a client-facing event stream body into its data
// payloads, excluding the [DONE] sentinel.
func parseFrames(body string) (frames []string, sawDone bool) {
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		payload := strings.TrimPrefix(block, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		frames = append(frames, payload)
	}
	return frames, sawDone
}

var _ = Describe("Streaming relay", func() {
	var (
		s     *Server
		fb    *fakeBackend
		store memory.Store
	)

	newStreamServer := func(chunks ...backend.Chunk) {
		fb = &fakeBackend{streamFn: scriptedChunks(chunks...)}

		var err error
		store, err = file.NewStore(filepath.Join(GinkgoT().TempDir(), "chat_memory.json"), 50)
		Expect(err).NotTo(HaveOccurred())

		s, err = New(Config{
			SystemPrompt: "be helpful",
			PromptTurns:  12,
		}, store, fb, nil, nil, nil, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	}

	doStreamChat := func(message string) *http.Response {
		payload, err := json.Marshal(chat.ChatRequest{Message: message, Stream: true})
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("frames each delta as an SSE event with a terminal sentinel", func() {
		newStreamServer(
			backend.Chunk{Delta: "Hello"},
			backend.Chunk{Delta: " world"},
			backend.Chunk{Delta: "!"},
		)

		resp := doStreamChat("Say hello")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		frames, sawDone := parseFrames(string(body))
		Expect(sawDone).To(BeTrue())

		var text string
		var finalDone bool
		for _, frame := range frames {
			var chunk chat.StreamChunk
			Expect(json.Unmarshal([]byte(frame), &chunk)).To(Succeed())
			text += chunk.Delta
			finalDone = chunk.Done
		}
		Expect(text).To(Equal("Hello world!"))
		Expect(finalDone).To(BeTrue())
	})

	It("persists the full reply after the stream completes", func() {
		newStreamServer(
			backend.Chunk{Delta: "Hello"},
			backend.Chunk{Delta: " world"},
		)

		resp := doStreamChat("Say hello")
		_, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())

		turns, err := store.Recent(context.Background(), DefaultSession, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
		Expect(turns[1].Role).To(Equal(chat.RoleAssistant))
		Expect(turns[1].Text).To(Equal("Hello world"))
	})

	It("emits a terminal error frame and no sentinel on mid-stream failure", func() {
		newStreamServer(
			backend.Chunk{Delta: "partial"},
			backend.Chunk{Err: io.ErrUnexpectedEOF},
		)

		resp := doStreamChat("Say hello")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		frames, sawDone := parseFrames(string(body))
		Expect(sawDone).To(BeFalse())
		Expect(frames).NotTo(BeEmpty())

		var lastErr chat.ErrorResponse
		Expect(json.Unmarshal([]byte(frames[len(frames)-1]), &lastErr)).To(Succeed())
		Expect(lastErr.Error).To(Equal("model stream interrupted"))

		turns, err := store.Recent(context.Background(), DefaultSession, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(turns).To(HaveLen(2))
		Expect(turns[1].Text).To(Equal("partial [truncated]"))
	})

	It("answers a plain 502 when the backend is down before streaming starts", func() {
		newStreamServer()
		fb.streamFn = func(context.Context, chat.ComposedPrompt) (<-chan backend.Chunk, error) {
			return nil, backend.ErrUpstream
		}

		resp := doStreamChat("Say hello")
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))
	})

	It("releases the session lock after the stream finishes", func() {
		newStreamServer(backend.Chunk{Delta: "one"})

		first := doStreamChat("first")
		_, _ = io.ReadAll(first.Body)
		first.Body.Close()

		fb.streamFn = scriptedChunks(backend.Chunk{Delta: "two"})
		second := doStreamChat("second")
		defer second.Body.Close()
		Expect(second.StatusCode).To(Equal(http.StatusOK))
	})
})
