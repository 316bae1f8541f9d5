// Package unrealcmder
package unrealcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/chatunreal/unreal/cmd/unreal/config"
	initcmder "github.com/chatunreal/unreal/cmd/unreal/init"
	servecmder "github.com/chatunreal/unreal/cmd/unreal/serve"
	versioncmder "github.com/chatunreal/unreal/cmd/unreal/version"
)

const unrealLongDesc string = `Unreal is a local chat relay: a browser-facing chat API backed by a
locally hosted model endpoint, with bounded conversation memory and
optional Tor-routed web-search augmentation.

Run the relay using:
  unreal serve         Run the chat relay server`

const unrealShortDesc string = "Unreal - Local Chat Relay"

func NewUnrealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unreal",
		Short: unrealShortDesc,
		Long:  unrealLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .unreal/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
