// Package search implements the web-search augmenter: a keyword-triggered
// DuckDuckGo lookup whose top result is attached to the prompt as extra
// context. When a Tor proxy is configured, lookups go through its SOCKS
// endpoint or not at all: a proxy that is not Ready means no search, never
// a clearnet fallback. Direct connections are used only when proxy use is
// not configured. Every failure collapses to "no augmentation"; search
// never fails a chat request.
package search

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"

	"github.com/chatunreal/unreal/pkg/chat"
	"github.com/chatunreal/unreal/pkg/tor"
)

const defaultSearchURL = "https://duckduckgo.com/html/"

// DuckDuckGo serves an empty result page to clients without a browser
// user agent.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// triggerKeywords are the research-intent markers matched against the
// lowercased message. Rule-based on purpose: false negatives are fine,
// false positives only add context.
var triggerKeywords = []string{
	"search",
	"find",
	"lookup",
	"web",
	"research",
	"investigate",
	"deep dive",
	"tor",
	"dark web",
}

// triggerPrefixes are lead-in phrases stripped from the message when
// extracting the query, longest first so "search the web for" wins over
// "search".
var triggerPrefixes = []string{
	"search the web for",
	"search the web",
	"search for",
	"search",
	"look up",
	"lookup",
	"find information on",
	"find information about",
	"find",
	"research",
	"investigate",
	"deep dive into",
	"deep dive on",
	"deep dive",
}

// Config holds the augmenter settings.
type Config struct {
	Enabled       bool
	Timeout       time.Duration
	MaxSnippetLen int
	CacheSize     int
	CacheTTL      time.Duration
}

// Augmenter performs the conditional search lookup for a user message.
type Augmenter struct {
	config     Config
	supervisor *tor.Supervisor
	cache      *expirable.LRU[string, chat.SearchResult]
	logger     *zap.Logger

	// searchURL is the results page endpoint, settable in tests.
	searchURL string
}

// NewAugmenter creates an Augmenter backed by the given Tor supervisor.
func NewAugmenter(config Config, supervisor *tor.Supervisor, logger *zap.Logger) *Augmenter {
	size := config.CacheSize
	if size <= 0 {
		size = 128
	}
	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Augmenter{
		config:     config,
		supervisor: supervisor,
		logger:     logger,
		cache:      expirable.NewLRU[string, chat.SearchResult](size, nil, ttl),
		searchURL:  defaultSearchURL,
	}
}

// MaybeAugment returns a SearchResult when the message carries research
// intent and the lookup succeeds, nil otherwise. It never returns an
// error: augmentation failures silently reduce context quality.
func (a *Augmenter) MaybeAugment(ctx context.Context, message string) *chat.SearchResult {
	if !a.config.Enabled {
		return nil
	}
	if !hasResearchIntent(message) {
		return nil
	}

	query := extractQuery(message)
	if query == "" {
		return nil
	}

	cacheKey := strings.ToLower(query)
	if cached, ok := a.cache.Get(cacheKey); ok {
		a.logger.Debug("search cache hit", zap.String("query", query))
		result := cached
		return &result
	}

	result, err := a.lookup(ctx, query)
	if err != nil {
		a.logger.Warn("search lookup failed, continuing without augmentation",
			zap.String("query", query),
			zap.Error(err),
		)
		return nil
	}

	a.cache.Add(cacheKey, *result)
	return result
}

// hasResearchIntent reports whether the message matches any trigger keyword.
func hasResearchIntent(message string) bool {
	normalized := strings.ToLower(message)
	for _, keyword := range triggerKeywords {
		if strings.Contains(normalized, keyword) {
			return true
		}
	}
	return false
}

// extractQuery strips a leading trigger phrase from the message and trims
// the remainder. A message that is nothing but the trigger phrase yields
// an empty query.
func extractQuery(message string) string {
	trimmed := strings.TrimSpace(message)
	lowered := strings.ToLower(trimmed)

	for _, prefix := range triggerPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			rest := trimmed[len(prefix):]
			return strings.TrimSpace(strings.TrimLeft(rest, ":,"))
		}
	}

	return trimmed
}

// lookup fetches the search results page and extracts the first result.
func (a *Augmenter) lookup(ctx context.Context, query string) (*chat.SearchResult, error) {
	timeout := a.config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := a.transport(ctx)
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}

	searchURL := a.searchURL + "?q=" + url.QueryEscape(query)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create search request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", httpResp.StatusCode)
	}

	return a.parseResults(query, httpResp.Body)
}

// transport returns the HTTP transport for the lookup. With no proxy
// configured the connection is direct. With one configured, the supervisor
// must reach Ready and the request dials through its SOCKS endpoint; any
// other state is an error so that queries meant for Tor never escape over
// a direct connection.
func (a *Augmenter) transport(ctx context.Context) (http.RoundTripper, error) {
	if a.supervisor == nil || a.supervisor.State() == tor.StateDisabled {
		return http.DefaultTransport, nil
	}

	if state := a.supervisor.Ensure(ctx); state != tor.StateReady {
		return nil, fmt.Errorf("tor proxy is not ready (state %s)", state)
	}

	dialer, err := xproxy.SOCKS5("tcp", a.supervisor.SocksAddr(), nil, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("could not create SOCKS dialer: %w", err)
	}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if contextDialer, ok := dialer.(xproxy.ContextDialer); ok {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		},
	}, nil
}

// parseResults extracts the first meaningful result from the DuckDuckGo
// HTML results page.
func (a *Augmenter) parseResults(query string, body io.Reader) (*chat.SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("could not parse results page: %w", err)
	}

	link := doc.Find("a.result__a").First()
	if link.Length() == 0 {
		return nil, fmt.Errorf("no results for query")
	}

	title := strings.TrimSpace(link.Text())
	href, _ := link.Attr("href")

	snippet := strings.TrimSpace(doc.Find(".result__snippet").First().Text())
	if snippet == "" {
		snippet = title
	}
	if title != "" && snippet != title {
		snippet = title + ": " + snippet
	}

	maxLen := a.config.MaxSnippetLen
	if maxLen <= 0 {
		maxLen = 2000
	}
	if runes := []rune(snippet); len(runes) > maxLen {
		snippet = string(runes[:maxLen])
	}

	if snippet == "" {
		return nil, fmt.Errorf("empty result snippet")
	}

	return &chat.SearchResult{
		Query:     query,
		Snippet:   snippet,
		SourceURL: href,
	}, nil
}
