package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/chatunreal/unreal/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the UNREAL_ prefix.
//
// Config precedence (highest to lowest):
//  1. Environment variables (UNREAL_SERVER_LISTEN, UNREAL_TOR_ENABLED, etc.)
//  2. config.toml file values
//  3. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: UNREAL_SERVER_LISTEN, UNREAL_BACKEND_MODEL, etc.
	v.SetEnvPrefix("UNREAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// ConfigFromViper materializes a Config from a viper instance, so callers get
// the full precedence chain (env > file > defaults) as a typed struct.
func ConfigFromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Server: ServerConfig{
			Listen:        v.GetString("server.listen"),
			Overlap:       v.GetString("server.overlap"),
			MaxMessageLen: v.GetInt("server.max_message_len"),
		},
		Backend: BackendConfig{
			Upstream:           v.GetString("backend.upstream"),
			Model:              v.GetString("backend.model"),
			SystemPrompt:       v.GetString("backend.system_prompt"),
			TimeoutSeconds:     v.GetInt("backend.timeout_seconds"),
			IdleTimeoutSeconds: v.GetInt("backend.idle_timeout_seconds"),
		},
		Tor: TorConfig{
			Enabled:             v.GetBool("tor.enabled"),
			Path:                v.GetString("tor.path"),
			SocksHost:           v.GetString("tor.socks_host"),
			SocksPort:           v.GetInt("tor.socks_port"),
			StartTimeoutSeconds: v.GetInt("tor.start_timeout_seconds"),
		},
		Search: SearchConfig{
			Enabled:        v.GetBool("search.enabled"),
			TimeoutSeconds: v.GetInt("search.timeout_seconds"),
			MaxSnippetLen:  v.GetInt("search.max_snippet_len"),
			CacheSize:      v.GetInt("search.cache_size"),
			CacheTTLHours:  v.GetInt("search.cache_ttl_hours"),
		},
		Memory: MemoryConfig{
			Driver:      v.GetString("memory.driver"),
			Path:        v.GetString("memory.path"),
			MaxTurns:    v.GetInt("memory.max_turns"),
			PromptTurns: v.GetInt("memory.prompt_turns"),
		},
		Events: EventsConfig{
			Driver:  v.GetString("events.driver"),
			Brokers: v.GetStringSlice("events.brokers"),
			Topic:   v.GetString("events.topic"),
		},
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Server
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.overlap", d.Server.Overlap)
	v.SetDefault("server.max_message_len", d.Server.MaxMessageLen)

	// Backend
	v.SetDefault("backend.upstream", d.Backend.Upstream)
	v.SetDefault("backend.model", d.Backend.Model)
	v.SetDefault("backend.system_prompt", d.Backend.SystemPrompt)
	v.SetDefault("backend.timeout_seconds", d.Backend.TimeoutSeconds)
	v.SetDefault("backend.idle_timeout_seconds", d.Backend.IdleTimeoutSeconds)

	// Tor
	v.SetDefault("tor.enabled", d.Tor.Enabled)
	v.SetDefault("tor.path", d.Tor.Path)
	v.SetDefault("tor.socks_host", d.Tor.SocksHost)
	v.SetDefault("tor.socks_port", d.Tor.SocksPort)
	v.SetDefault("tor.start_timeout_seconds", d.Tor.StartTimeoutSeconds)

	// Search
	v.SetDefault("search.enabled", d.Search.Enabled)
	v.SetDefault("search.timeout_seconds", d.Search.TimeoutSeconds)
	v.SetDefault("search.max_snippet_len", d.Search.MaxSnippetLen)
	v.SetDefault("search.cache_size", d.Search.CacheSize)
	v.SetDefault("search.cache_ttl_hours", d.Search.CacheTTLHours)

	// Memory
	v.SetDefault("memory.driver", d.Memory.Driver)
	v.SetDefault("memory.path", d.Memory.Path)
	v.SetDefault("memory.max_turns", d.Memory.MaxTurns)
	v.SetDefault("memory.prompt_turns", d.Memory.PromptTurns)

	// Events
	v.SetDefault("events.driver", d.Events.Driver)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
