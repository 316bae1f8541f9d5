package search

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/chatunreal/unreal/pkg/tor"
)

const resultsPage = `<!DOCTYPE html>
<html><body>
<div class="result">
  <a class="result__a" href="https://example.com/paris">Paris - Capital of France</a>
  <div class="result__snippet">Paris is the capital and largest city of France.</div>
</div>
<div class="result">
  <a class="result__a" href="https://example.com/second">Second result</a>
  <div class="result__snippet">Should not be used.</div>
</div>
</body></html>`

const emptyPage = `<!DOCTYPE html><html><body><div id="links"></div></body></html>`

// deadPort returns a port that nothing is listening on.
func deadPort() int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

var _ = Describe("Augmenter", func() {
	var (
		logger     *zap.Logger
		supervisor *tor.Supervisor
	)

	BeforeEach(func() {
		logger = zap.NewNop()
		supervisor = tor.NewSupervisor(tor.Config{Enabled: false}, logger)
	})

	newAugmenter := func(searchURL string) *Augmenter {
		a := NewAugmenter(Config{
			Enabled:       true,
			Timeout:       5 * time.Second,
			MaxSnippetLen: 2000,
			CacheSize:     16,
			CacheTTL:      time.Hour,
		}, supervisor, logger)
		a.searchURL = searchURL
		return a
	}

	Describe("intent detection", func() {
		It("does not trigger on plain conversation", func() {
			Expect(hasResearchIntent("Hello")).To(BeFalse())
			Expect(hasResearchIntent("how are you today?")).To(BeFalse())
		})

		It("triggers on research keywords", func() {
			Expect(hasResearchIntent("search for the capital of France")).To(BeTrue())
			Expect(hasResearchIntent("can you look something up on the web")).To(BeTrue())
			Expect(hasResearchIntent("do a deep dive into Go schedulers")).To(BeTrue())
			Expect(hasResearchIntent("INVESTIGATE this outage")).To(BeTrue())
		})
	})

	Describe("query extraction", func() {
		It("strips the trigger phrase and trims", func() {
			Expect(extractQuery("search for the capital of France")).To(Equal("the capital of France"))
			Expect(extractQuery("look up Go generics")).To(Equal("Go generics"))
			Expect(extractQuery("Search the web for zap logging")).To(Equal("zap logging"))
		})

		It("keeps the full message when no prefix matches", func() {
			Expect(extractQuery("what does the web say about caching")).To(Equal("what does the web say about caching"))
		})

		It("yields an empty query for a bare trigger phrase", func() {
			Expect(extractQuery("search")).To(BeEmpty())
		})
	})

	Describe("MaybeAugment", func() {
		It("returns nil when no trigger phrase is present", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Fail("no request expected without research intent")
			}))
			defer srv.Close()

			result := newAugmenter(srv.URL + "/html/").MaybeAugment(context.Background(), "Hello")
			Expect(result).To(BeNil())
		})

		It("returns the first result for a triggered message", func() {
			var gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.Query().Get("q")
				_, _ = w.Write([]byte(resultsPage))
			}))
			defer srv.Close()

			result := newAugmenter(srv.URL + "/html/").MaybeAugment(context.Background(), "search for the capital of France")
			Expect(result).NotTo(BeNil())
			Expect(gotQuery).To(Equal("the capital of France"))
			Expect(result.Query).To(Equal("the capital of France"))
			Expect(result.Snippet).To(ContainSubstring("Paris is the capital"))
			Expect(result.Snippet).NotTo(ContainSubstring("Should not be used"))
			Expect(result.SourceURL).To(Equal("https://example.com/paris"))
		})

		It("returns nil on a network failure", func() {
			srv := httptest.NewServer(http.NotFoundHandler())
			unreachable := srv.URL
			srv.Close()

			result := newAugmenter(unreachable + "/html/").MaybeAugment(context.Background(), "search for anything")
			Expect(result).To(BeNil())
		})

		It("returns nil on a non-200 response", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer srv.Close()

			result := newAugmenter(srv.URL + "/html/").MaybeAugment(context.Background(), "search for anything")
			Expect(result).To(BeNil())
		})

		It("returns nil when the results page has no results", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(emptyPage))
			}))
			defer srv.Close()

			result := newAugmenter(srv.URL + "/html/").MaybeAugment(context.Background(), "search for anything")
			Expect(result).To(BeNil())
		})

		It("returns nil when augmentation is disabled", func() {
			a := NewAugmenter(Config{Enabled: false}, supervisor, logger)
			result := a.MaybeAugment(context.Background(), "search for anything")
			Expect(result).To(BeNil())
		})

		It("serves repeated queries from the cache", func() {
			requests := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests++
				_, _ = w.Write([]byte(resultsPage))
			}))

			a := newAugmenter(srv.URL + "/html/")
			first := a.MaybeAugment(context.Background(), "search for the capital of France")
			Expect(first).NotTo(BeNil())
			Expect(requests).To(Equal(1))

			// Close the server: a cache miss would now fail.
			srv.Close()

			second := a.MaybeAugment(context.Background(), "search for the capital of France")
			Expect(second).NotTo(BeNil())
			Expect(second.Snippet).To(Equal(first.Snippet))
			Expect(requests).To(Equal(1))
		})

		Context("with a tor proxy configured", func() {
			It("does not search when the proxy fails to become ready", func() {
				requests := 0
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					requests++
					_, _ = w.Write([]byte(resultsPage))
				}))
				defer srv.Close()

				supervisor = tor.NewSupervisor(tor.Config{
					Enabled:      true,
					BinaryPath:   "/nonexistent/tor",
					SocksHost:    "127.0.0.1",
					SocksPort:    deadPort(),
					StartTimeout: 200 * time.Millisecond,
				}, logger)

				result := newAugmenter(srv.URL + "/html/").MaybeAugment(context.Background(), "search for the capital of France")
				Expect(result).To(BeNil())
				Expect(requests).To(BeZero())
			})

			It("does not search on a later request once the proxy is failed", func() {
				requests := 0
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					requests++
					_, _ = w.Write([]byte(resultsPage))
				}))
				defer srv.Close()

				supervisor = tor.NewSupervisor(tor.Config{
					Enabled:      true,
					BinaryPath:   "/nonexistent/tor",
					SocksHost:    "127.0.0.1",
					SocksPort:    deadPort(),
					StartTimeout: 200 * time.Millisecond,
				}, logger)
				Expect(supervisor.Ensure(context.Background())).To(Equal(tor.StateFailed))

				a := newAugmenter(srv.URL + "/html/")
				Expect(a.MaybeAugment(context.Background(), "search for anything")).To(BeNil())
				Expect(a.MaybeAugment(context.Background(), "search for anything else")).To(BeNil())
				Expect(requests).To(BeZero())
			})

			It("does not search when the caller gives up while the proxy is starting", func() {
				requests := 0
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					requests++
					_, _ = w.Write([]byte(resultsPage))
				}))
				defer srv.Close()

				supervisor = tor.NewSupervisor(tor.Config{
					Enabled:      true,
					BinaryPath:   "/nonexistent/tor",
					SocksHost:    "127.0.0.1",
					SocksPort:    deadPort(),
					StartTimeout: 10 * time.Second,
				}, logger)

				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()

				result := newAugmenter(srv.URL + "/html/").MaybeAugment(ctx, "search for anything")
				Expect(result).To(BeNil())
				Expect(requests).To(BeZero())
			})
		})

		It("caps the snippet at the configured length", func() {
			long := strings.Repeat("x", 500)
			page := `<html><body><a class="result__a" href="https://example.com">Title</a><div class="result__snippet">` + long + `</div></body></html>`
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(page))
			}))
			defer srv.Close()

			a := newAugmenter(srv.URL + "/html/")
			a.config.MaxSnippetLen = 100

			result := a.MaybeAugment(context.Background(), "search for long snippets")
			Expect(result).NotTo(BeNil())
			Expect([]rune(result.Snippet)).To(HaveLen(100))
		})
	})
})
