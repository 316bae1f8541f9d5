// Package configcmder provides the config command for managing persistent
// unreal configuration stored in the .unreal/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent unreal configuration.

Configuration is stored as config.toml in the .unreal/ directory and provides
default values for the relay. UNREAL_* environment variables always take
precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  server.listen, server.overlap, server.max_message_len,
  backend.upstream, backend.model, backend.system_prompt,
  backend.timeout_seconds, backend.idle_timeout_seconds,
  tor.enabled, tor.path, tor.socks_host, tor.socks_port,
  tor.start_timeout_seconds,
  search.enabled, search.timeout_seconds, search.max_snippet_len,
  search.cache_size, search.cache_ttl_hours,
  memory.driver, memory.path, memory.max_turns, memory.prompt_turns,
  events.driver, events.topic

Use subcommands to get, set, or list configuration values:
  unreal config set <key> <value>    Set a configuration value
  unreal config get <key>            Get a configuration value
  unreal config list                 List all configuration values

Examples:
  unreal config set backend.model llama3.2
  unreal config set tor.enabled true
  unreal config get backend.upstream
  unreal config list`

const configShortDesc string = "Manage persistent unreal configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
