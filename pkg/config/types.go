package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent unreal configuration stored as config.toml
// in the .unreal/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version int           `toml:"version"`
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Tor     TorConfig     `toml:"tor"`
	Search  SearchConfig  `toml:"search"`
	Memory  MemoryConfig  `toml:"memory"`
	Events  EventsConfig  `toml:"events"`
}

// ServerConfig holds the chat relay's HTTP server settings.
type ServerConfig struct {
	Listen string `toml:"listen,omitempty"`

	// Overlap controls what happens when a second request arrives for a
	// session whose previous request is still in flight: "reject" answers
	// 409 immediately, "queue" serializes on the session lock.
	Overlap string `toml:"overlap,omitempty"`

	// MaxMessageLen caps the length of an incoming user message.
	MaxMessageLen int `toml:"max_message_len,omitempty"`
}

// BackendConfig holds settings for the model backend, an OpenAI-compatible
// chat completions endpoint.
type BackendConfig struct {
	Upstream string `toml:"upstream,omitempty"`
	Model    string `toml:"model,omitempty"`

	// SystemPrompt is the fixed system preamble prepended to every
	// composed prompt.
	SystemPrompt string `toml:"system_prompt,omitempty"`

	// TimeoutSeconds bounds the whole generation call.
	TimeoutSeconds int `toml:"timeout_seconds,omitempty"`

	// IdleTimeoutSeconds bounds the gap between consecutive stream chunks,
	// detecting a stalled backend mid-stream.
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds,omitempty"`
}

// TorConfig holds settings for the anonymizing proxy process.
type TorConfig struct {
	Enabled bool `toml:"enabled,omitempty"`

	// Path is an explicit tor binary location. When empty the supervisor
	// falls back to the TOR_PATH environment variable and then the PATH.
	Path string `toml:"path,omitempty"`

	SocksHost string `toml:"socks_host,omitempty"`
	SocksPort int    `toml:"socks_port,omitempty"`

	// StartTimeoutSeconds bounds the readiness poll after launching tor.
	StartTimeoutSeconds int `toml:"start_timeout_seconds,omitempty"`
}

// SearchConfig holds settings for the web-search augmenter.
type SearchConfig struct {
	Enabled bool `toml:"enabled,omitempty"`

	TimeoutSeconds int `toml:"timeout_seconds,omitempty"`

	// MaxSnippetLen caps the extracted context snippet.
	MaxSnippetLen int `toml:"max_snippet_len,omitempty"`

	CacheSize     int `toml:"cache_size,omitempty"`
	CacheTTLHours int `toml:"cache_ttl_hours,omitempty"`
}

// MemoryConfig holds conversation memory settings.
type MemoryConfig struct {
	// Driver selects the persistence backend: "file" or "sqlite".
	Driver string `toml:"driver,omitempty"`

	// Path is the memory file or database path. Defaults under .unreal/.
	Path string `toml:"path,omitempty"`

	// MaxTurns bounds the persisted window per session.
	MaxTurns int `toml:"max_turns,omitempty"`

	// PromptTurns bounds how many recent turns are fed into the prompt.
	PromptTurns int `toml:"prompt_turns,omitempty"`
}

// EventsConfig holds turn-event publishing settings.
type EventsConfig struct {
	// Driver selects the publisher backend: "nop" or "kafka".
	Driver  string   `toml:"driver,omitempty"`
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func intKey(get func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			n := *get(c)
			if n == 0 {
				return ""
			}
			return strconv.Itoa(n)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid integer value %q: %w", v, err)
			}
			*get(c) = n
			return nil
		},
	}
}

func boolKey(get func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*get(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean value %q: %w", v, err)
			}
			*get(c) = b
			return nil
		},
	}
}

func stringKey(get func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *get(c) },
		set: func(c *Config, v string) error { *get(c) = v; return nil },
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"server.listen":          stringKey(func(c *Config) *string { return &c.Server.Listen }),
	"server.overlap":         stringKey(func(c *Config) *string { return &c.Server.Overlap }),
	"server.max_message_len": intKey(func(c *Config) *int { return &c.Server.MaxMessageLen }),

	"backend.upstream":             stringKey(func(c *Config) *string { return &c.Backend.Upstream }),
	"backend.model":                stringKey(func(c *Config) *string { return &c.Backend.Model }),
	"backend.system_prompt":        stringKey(func(c *Config) *string { return &c.Backend.SystemPrompt }),
	"backend.timeout_seconds":      intKey(func(c *Config) *int { return &c.Backend.TimeoutSeconds }),
	"backend.idle_timeout_seconds": intKey(func(c *Config) *int { return &c.Backend.IdleTimeoutSeconds }),

	"tor.enabled":               boolKey(func(c *Config) *bool { return &c.Tor.Enabled }),
	"tor.path":                  stringKey(func(c *Config) *string { return &c.Tor.Path }),
	"tor.socks_host":            stringKey(func(c *Config) *string { return &c.Tor.SocksHost }),
	"tor.socks_port":            intKey(func(c *Config) *int { return &c.Tor.SocksPort }),
	"tor.start_timeout_seconds": intKey(func(c *Config) *int { return &c.Tor.StartTimeoutSeconds }),

	"search.enabled":         boolKey(func(c *Config) *bool { return &c.Search.Enabled }),
	"search.timeout_seconds": intKey(func(c *Config) *int { return &c.Search.TimeoutSeconds }),
	"search.max_snippet_len": intKey(func(c *Config) *int { return &c.Search.MaxSnippetLen }),
	"search.cache_size":      intKey(func(c *Config) *int { return &c.Search.CacheSize }),
	"search.cache_ttl_hours": intKey(func(c *Config) *int { return &c.Search.CacheTTLHours }),

	"memory.driver":       stringKey(func(c *Config) *string { return &c.Memory.Driver }),
	"memory.path":         stringKey(func(c *Config) *string { return &c.Memory.Path }),
	"memory.max_turns":    intKey(func(c *Config) *int { return &c.Memory.MaxTurns }),
	"memory.prompt_turns": intKey(func(c *Config) *int { return &c.Memory.PromptTurns }),

	"events.driver": stringKey(func(c *Config) *string { return &c.Events.Driver }),
	"events.topic":  stringKey(func(c *Config) *string { return &c.Events.Topic }),
}
