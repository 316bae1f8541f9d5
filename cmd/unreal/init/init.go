// Package initcmder provides the init command for initializing a local .unreal
// directory in the current working directory.
package initcmder

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/chatunreal/unreal/pkg/config"
)

const (
	dirName        = ".unreal"
	configFileName = "config.toml"

	presetFetchTimeout = 10 * time.Second
)

const initLongDesc string = `Initialize a new .unreal/ directory in the current working directory.

Creates a local .unreal/ directory that takes precedence over the default
~/.unreal/ directory for conversation memory, configuration, and other
unreal state.

This is useful for maintaining separate chat state per project or directory.

The optional --preset flag seeds config.toml for a known local model runner,
or fetches a config.toml from a URL:
  gpt4all    GPT4All API server on http://localhost:4891/v1
  ollama     Ollama on http://localhost:11434/v1
  lmstudio   LM Studio on http://localhost:1234/v1

Examples:
  unreal init
  unreal init --preset gpt4all
  unreal init --preset https://example.com/team-config.toml`

const initShortDesc string = "Initialize a local .unreal/ directory"

// presetConfigs maps preset names to config mutations applied on top of the
// defaults.
var presetConfigs = map[string]func(*config.Config){
	"gpt4all": func(c *config.Config) {
		c.Backend.Upstream = "http://localhost:4891/v1"
	},
	"ollama": func(c *config.Config) {
		c.Backend.Upstream = "http://localhost:11434/v1"
	},
	"lmstudio": func(c *config.Config) {
		c.Backend.Upstream = "http://localhost:1234/v1"
	},
}

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit(preset)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "seed config.toml from a named preset or URL")

	return cmd
}

func runInit(preset string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, statErr := os.Stat(dir)
	alreadyInitialized := statErr == nil && info.IsDir()

	// Re-running without a preset leaves existing state untouched.
	if alreadyInitialized && preset == "" {
		fmt.Printf("Already initialized: %s\n", dir)
		return nil
	}

	cfg, err := resolvePreset(preset)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .unreal directory: %w", err)
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("writing config.toml: %w", err)
	}

	if alreadyInitialized {
		fmt.Printf("Updated config in %s\n", dir)
	} else {
		fmt.Printf("Initialized .unreal directory: %s\n", dir)
	}
	return nil
}

// resolvePreset returns the config to seed config.toml with. An empty preset
// yields the defaults, a known name applies its mutation on top of the
// defaults, and anything starting with http:// or https:// is fetched and
// parsed as TOML.
func resolvePreset(preset string) (*config.Config, error) {
	if preset == "" {
		return config.NewDefaultConfig(), nil
	}

	if strings.HasPrefix(preset, "http://") || strings.HasPrefix(preset, "https://") {
		return fetchRemoteConfig(preset)
	}

	apply, ok := presetConfigs[preset]
	if !ok {
		names := make([]string, 0, len(presetConfigs))
		for name := range presetConfigs {
			names = append(names, name)
		}
		return nil, fmt.Errorf("unknown preset %q (valid presets: %s, or a config URL)",
			preset, strings.Join(names, ", "))
	}

	cfg := config.NewDefaultConfig()
	apply(cfg)
	return cfg, nil
}

func fetchRemoteConfig(url string) (*config.Config, error) {
	client := &http.Client{Timeout: presetFetchTimeout}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading remote config: %w", err)
	}

	return config.ParseConfigTOML(data)
}
