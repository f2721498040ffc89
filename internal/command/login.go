package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/signer"
	"github.com/CodyTseng/nostr-comments/internal/widget"
)

var errNoIdentity = errors.New("no identity: pass --nsec, --bunker or --ephemeral (or set NOSTR_COMMENTS_NSEC / NOSTR_COMMENTS_BUNKER)")

func addLoginFlags(cmd *cobra.Command) {
	cmd.Flags().String("nsec", "", "sign with this secret key")
	cmd.Flags().String("bunker", "", "sign through a remote signer (bunker:// url or name@domain)")
	cmd.Flags().Bool("ephemeral", false, "sign with a throwaway key")
	cmd.Flags().String("save-key", "", "with --ephemeral, write the key backup to this directory")
}

// login opens a signer session on w from flags or the environment
func login(ctx context.Context, cmd *cobra.Command, app *CommandContext, w *widget.Widget) (*signer.Session, error) {
	session := w.Session()
	errOut := cmd.ErrOrStderr()

	nsec, _ := cmd.Flags().GetString("nsec")
	if nsec == "" {
		nsec = app.Config.Identity.Nsec
	}
	bunker, _ := cmd.Flags().GetString("bunker")
	if bunker == "" {
		bunker = app.Config.Identity.Bunker
	}
	ephemeral, _ := cmd.Flags().GetBool("ephemeral")

	switch {
	case nsec != "":
		return session.LoginNsec(ctx, nsec)

	case bunker != "":
		fmt.Fprintln(errOut, "connecting to remote signer...")
		return session.LoginBunker(ctx, bunker, signer.BunkerOptions{
			OnAuth: func(url string) {
				fmt.Fprintf(errOut, "approve this session at: %s\n", url)
			},
		})

	case ephemeral:
		s, err := session.LoginEphemeral(ctx)
		if err != nil {
			return nil, err
		}
		key, ok := s.Signer.(*signer.EphemeralSigner)
		if !ok {
			return s, nil
		}
		fmt.Fprintf(errOut, "using ephemeral key %s\n", key.Npub())

		if dir, _ := cmd.Flags().GetString("save-key"); dir != "" {
			path := filepath.Join(dir, key.KeyFileName())
			if err := saveKeyFile(path, key); err != nil {
				return nil, err
			}
			fmt.Fprintf(errOut, "key saved to %s\n", path)
		}
		return s, nil

	default:
		return nil, errNoIdentity
	}
}

func saveKeyFile(path string, key *signer.EphemeralSigner) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer f.Close()
	return key.WriteKeyFile(f)
}

// findEvent looks up id among the loaded comments and falls back to a
// relay query
func findEvent(ctx context.Context, app *CommandContext, w *widget.Widget, id string) (*nostr.Event, error) {
	for _, evt := range w.Engine().Events() {
		if evt.ID == id {
			return evt, nil
		}
	}

	events, err := app.Client.FetchEvents(ctx, w.Engine().Relays(), nostr.Filter{IDs: []string{id}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event %s not found", id)
	}
	return events[0], nil
}
