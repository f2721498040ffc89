package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/widget"
)

// NewLikeCmd creates the like command.
func NewLikeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "like <event-id>",
		Short: "Like a comment",
		Args:  cobra.ExactArgs(1),
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

			target, err := findEvent(ctx, app, w, args[0])
			if err != nil {
				return err
			}

			if _, err := login(ctx, cmd, app, w); err != nil {
				return err
			}
			defer w.Session().Logout()

			reaction, err := w.Like(ctx, target)
			if err != nil {
				return fmt.Errorf("%s error: %w", widget.Classify(err), err)
			}

			out := cmd.OutOrStdout()
			if app.JSONMode {
				return writeJSON(out, map[string]string{"id": reaction.ID, "target": target.ID})
			}
			fmt.Fprintf(out, "liked %s (%s)\n", target.ID, reaction.ID)
			return nil
		},
	}

	addLoginFlags(cmd)

	return cmd
}
