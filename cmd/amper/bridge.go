package main

import (
	"fmt"

	"github.com/layer-3/amper/adapters/tokenizer"
	"github.com/layer-3/amper/config"
	"github.com/layer-3/amper/core"
	"github.com/spf13/cobra"
)

func newBridgeTokenCmd() *cobra.Command {
	var (
		clientID string
		origin   string
	)

	cmd := &cobra.Command{
		Use:   "bridge-token",
		Short: "Issue a token for a bridge client",
		Long: `Issue a bearer token that lets a host context call the local bridge.
With --origin the token is only accepted on requests carrying that Origin
header.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			key, err := tokenizer.LoadOrCreateKey(cfg.BridgeKeyPath)
			if err != nil {
				return err
			}
			client, err := core.NewBridgeClient(clientID, origin, cfg.BridgeTokenTTL)
			if err != nil {
				return err
			}
			token, err := tokenizer.NewJWTTokenizer(key).IssueBridgeToken(client)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "Identifier of the bridge client")
	cmd.Flags().StringVar(&origin, "origin", "", "Origin the token is bound to")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}
