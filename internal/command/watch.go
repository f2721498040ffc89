package command

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	commentsync "github.com/CodyTseng/nostr-comments/internal/sync"
	"github.com/CodyTseng/nostr-comments/internal/widget"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream new comments in real-time",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var (
				mu      sync.Mutex
				printed = make(map[string]struct{})
			)
			emit := func(snapshot commentsync.Snapshot) {
				mu.Lock()
				defer mu.Unlock()

				events := comments.Flatten(snapshot.Comments)
				for i := len(events) - 1; i >= 0; i-- {
					evt := events[i]
					if _, ok := printed[evt.ID]; ok {
						continue
					}
					printed[evt.ID] = struct{}{}
					if app.JSONMode {
						data, _ := json.Marshal(evt)
						fmt.Fprintln(out, string(data))
					} else {
						fmt.Fprintln(out, formatEvent(evt, 0))
					}
				}
			}

			w, err := app.NewWidget(ctx, widget.Options{})
			if err != nil {
				return err
			}
			defer w.Close()

			if !app.JSONMode {
				fmt.Fprintf(out, "--- watching %s (Ctrl+C to stop) ---\n", app.Config.Widget.URL)
			}

			unsubscribe := w.Subscribe(func(s commentsync.Snapshot) {
				if s.State == commentsync.StateReady {
					emit(s)
				}
			})
			defer unsubscribe()

			if err := w.Load(ctx); err != nil {
				return err
			}
			emit(w.Snapshot())

			<-ctx.Done()
			app.Logger.LogShutdown("watch interrupted")
			return nil
		},
	}

	return cmd
}
