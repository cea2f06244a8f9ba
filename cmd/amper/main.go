package main

import (
	"os"

	"github.com/layer-3/amper/config"
	"github.com/spf13/cobra"
)

// version can be set during build with -ldflags
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the amper command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "amper",
		Short: "Pay L402 challenges and cache the resulting credentials",
		Long: `amper answers HTTP 402 Payment Required challenges: it parses the
L402 challenge, pays the Lightning invoice once, and caches the resulting
credential so later requests to the same resource are authorized without
paying again.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "amper version %s\n" .Version}}`)

	root.AddCommand(
		newServeCmd(),
		newBridgeTokenCmd(),
		newTokensCmd(),
		newParseCmd(),
	)
	return root
}

// loadApp reads the environment and opens the configured backends. Logs go
// to the command's error stream.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())
	return newApp(cmd.Context(), cfg, logger)
}
