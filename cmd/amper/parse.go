package main

import (
	"encoding/json"
	"strings"

	"github.com/layer-3/amper/core"
	"github.com/spf13/cobra"
)

type parseOutput struct {
	Challenge   core.Challenge `json:"challenge"`
	AmountSats  *int64         `json:"amount_sats,omitempty"`
	Network     string         `json:"network,omitempty"`
	Retry       string         `json:"retry_header_format"`
	InvoiceNote string         `json:"invoice_note,omitempty"`
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "parse <header>",
		Short:   "Parse an L402 WWW-Authenticate header",
		Example: `  amper parse 'L402 macaroon="AGIAJEemVQUTEyNCR0exk7ek90Cg==", invoice="lnbc1..."'`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			challenge, err := core.ParseChallenge(strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := parseOutput{
				Challenge: challenge,
				Retry:     "Authorization: " + challenge.Scheme + " <macaroon>:<preimage>",
			}
			if amount, err := core.ParseInvoiceAmount(challenge.Invoice); err != nil {
				out.InvoiceNote = err.Error()
			} else {
				out.Network = amount.Network
				if amount.HasAmount {
					sats := amount.Sats()
					out.AmountSats = &sats
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
