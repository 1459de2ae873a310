package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bfte-project/bfte/crypto"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a fresh Ed25519 signing key and print it, with its peer id",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, id, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Printf("peer_id:     %s\n", hex.EncodeToString(id[:]))
			fmt.Printf("signing_key: %s\n", hex.EncodeToString(key.Bytes()))
			return nil
		},
	}
}
