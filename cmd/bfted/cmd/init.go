package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const configTemplate = `chain_id: changeme
signing_key: "" # fill in with the output of 'bfted keygen'
store_dir: ./data/store
round_timeout_base: 2s
schedule_delay: 100
listen_address: :26700
rejoin_policy: halt

peers:
  - id: "" # hex peer_id from 'bfted keygen', one entry per federation member
    address: http://127.0.0.1:26700
`

func newInitCmd() *cobra.Command {
	var out string
	c := &cobra.Command{
		Use:   "init",
		Short: "write a template config.yaml for a new peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(out); err == nil {
				return fmt.Errorf("bfted: %s already exists", out)
			}
			return os.WriteFile(out, []byte(configTemplate), 0o600)
		},
	}
	c.Flags().StringVar(&out, "out", "config.yaml", "path to write the template config to")
	return c
}
