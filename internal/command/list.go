package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/widget"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the comment tree of a page",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			more, _ := cmd.Flags().GetInt("more")
			withReactions, _ := cmd.Flags().GetBool("reactions")

			ctx := cmd.Context()
			w, err := app.NewWidget(ctx, widget.Options{})
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.Load(ctx); err != nil {
				return err
			}
			for i := 0; i < more && w.Snapshot().HasMore; i++ {
				if err := w.LoadMore(ctx); err != nil {
					return err
				}
			}

			var likes map[string]int
			if withReactions {
				if err := w.LoadReactions(ctx); err != nil {
					return err
				}
				likes = w.LikeCounts()
			}

			snapshot := w.Snapshot()
			out := cmd.OutOrStdout()

			if app.JSONMode {
				result := listResult{
					URL:      app.Config.Widget.URL,
					Count:    snapshot.Count,
					HasMore:  snapshot.HasMore,
					Orphans:  snapshot.Orphans,
					Comments: make([]*commentJSON, 0, len(snapshot.Comments)),
				}
				for _, c := range snapshot.Comments {
					result.Comments = append(result.Comments, toCommentJSON(c, likes))
				}
				return writeJSON(out, result)
			}

			fmt.Fprintf(out, "%d comments on %s\n", snapshot.Count, app.Config.Widget.URL)
			if hidden := snapshot.Total - snapshot.Count - snapshot.Orphans; hidden > 0 {
				fmt.Fprintf(out, "(%d hidden below pow %d)\n", hidden, app.Config.Widget.Pow)
			}
			if snapshot.Orphans > 0 {
				fmt.Fprintf(out, "(%d replies to comments not loaded yet)\n", snapshot.Orphans)
			}
			fmt.Fprintln(out)
			printTree(out, snapshot.Comments, likes)
			if snapshot.HasMore {
				fmt.Fprintln(out, "\n(more available, use --more N)")
			}
			return nil
		},
	}

	cmd.Flags().Int("more", 0, "load N additional pages")
	cmd.Flags().Bool("reactions", false, "fetch and show like counts")

	return cmd
}
