package command

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/signer"
)

// NewKeygenCmd creates the keygen command.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := signer.NewEphemeralSigner()
			out := cmd.OutOrStdout()

			if dir, _ := cmd.Flags().GetString("out"); dir != "" {
				path := filepath.Join(dir, key.KeyFileName())
				if err := saveKeyFile(path, key); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\nkey saved to %s\n", key.Npub(), path)
				return nil
			}

			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				return key.WriteKeyFile(out)
			}

			kf := key.KeyFile()
			fmt.Fprintf(out, "npub:   %s\n", kf.Npub)
			fmt.Fprintf(out, "pubkey: %s\n", kf.Pubkey)
			fmt.Fprintf(out, "nsec:   %s\n", kf.Nsec)
			return nil
		},
	}

	cmd.Flags().String("out", "", "write the key backup file to this directory instead of printing it")

	return cmd
}
