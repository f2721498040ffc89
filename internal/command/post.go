package command

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/widget"
)

type postResult struct {
	ID      string   `json:"id"`
	Pubkey  string   `json:"pubkey"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Relays  []string `json:"relays"`
	Pow     int      `json:"pow"`
}

// NewPostCmd creates the post command.
func NewPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <content>",
		Short: "Publish a comment or a reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			w, err := app.NewWidget(ctx, widget.Options{})
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Load(ctx); err != nil {
				return err
			}

			var parent *nostr.Event
			if replyTo, _ := cmd.Flags().GetString("reply-to"); replyTo != "" {
				parent, err = findEvent(ctx, app, w, replyTo)
				if err != nil {
					return err
				}
			}

			if _, err := login(ctx, cmd, app, w); err != nil {
				return err
			}
			defer w.Session().Logout()

			if app.Config.Widget.Pow > 0 && !app.JSONMode {
				fmt.Fprintf(cmd.ErrOrStderr(), "mining proof of work (difficulty %d)...\n", app.Config.Widget.Pow)
			}

			evt, err := w.Post(ctx, strings.Join(args, " "), parent)
			if err != nil {
				return fmt.Errorf("%s error: %w", widget.Classify(err), err)
			}

			result := postResult{
				ID:     evt.ID,
				Pubkey: evt.PubKey,
				Relays: w.Engine().Relays(),
				Pow:    app.Config.Widget.Pow,
			}
			if parent != nil {
				result.ReplyTo = parent.ID
			}

			out := cmd.OutOrStdout()
			if app.JSONMode {
				return writeJSON(out, result)
			}
			fmt.Fprintf(out, "published %s\n", evt.ID)
			return nil
		},
	}

	cmd.Flags().String("reply-to", "", "id of the comment to reply to")
	addLoginFlags(cmd)

	return cmd
}
