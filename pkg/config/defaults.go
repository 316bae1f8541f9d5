package config

const (
	defaultListen  = ":4891"
	defaultOverlap = OverlapReject

	defaultMaxMessageLen = 4000

	defaultUpstream       = "http://localhost:11434/v1"
	defaultModel          = "llama3.2"
	defaultBackendTimeout = 120
	defaultIdleTimeout    = 30

	defaultSocksHost       = "127.0.0.1"
	defaultSocksPort       = 9050
	defaultTorStartTimeout = 45

	defaultSearchTimeout = 20
	defaultMaxSnippetLen = 2000
	defaultCacheSize     = 128
	defaultCacheTTLHours = 24

	defaultMemoryDriver = "file"
	defaultMaxTurns     = 50
	defaultPromptTurns  = 12

	defaultEventsDriver = "nop"
	defaultEventsTopic  = "unreal.turns"

	// DefaultSystemPrompt is the fixed system preamble for composed prompts.
	DefaultSystemPrompt = "You are Unreal, a precise, security-conscious assistant. " +
		"Answer directly and cite retrieved context when it is provided."
)

// Overlap policy values for server.overlap.
const (
	OverlapReject = "reject"
	OverlapQueue  = "queue"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen:        defaultListen,
			Overlap:       defaultOverlap,
			MaxMessageLen: defaultMaxMessageLen,
		},
		Backend: BackendConfig{
			Upstream:           defaultUpstream,
			Model:              defaultModel,
			SystemPrompt:       DefaultSystemPrompt,
			TimeoutSeconds:     defaultBackendTimeout,
			IdleTimeoutSeconds: defaultIdleTimeout,
		},
		Tor: TorConfig{
			Enabled:             false,
			SocksHost:           defaultSocksHost,
			SocksPort:           defaultSocksPort,
			StartTimeoutSeconds: defaultTorStartTimeout,
		},
		Search: SearchConfig{
			Enabled:        true,
			TimeoutSeconds: defaultSearchTimeout,
			MaxSnippetLen:  defaultMaxSnippetLen,
			CacheSize:      defaultCacheSize,
			CacheTTLHours:  defaultCacheTTLHours,
		},
		Memory: MemoryConfig{
			Driver:      defaultMemoryDriver,
			MaxTurns:    defaultMaxTurns,
			PromptTurns: defaultPromptTurns,
		},
		Events: EventsConfig{
			Driver: defaultEventsDriver,
			Topic:  defaultEventsTopic,
		},
	}
}
