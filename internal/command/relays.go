package command

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	internalnostr "github.com/CodyTseng/nostr-comments/internal/nostr"
	"github.com/CodyTseng/nostr-comments/internal/widget"
)

type relayStatus struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Software string `json:"software,omitempty"`
	NIP22    bool   `json:"nip22"`
	Error    string `json:"error,omitempty"`
}

type mentionRelay struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

type relaysResult struct {
	Relays    []relayStatus  `json:"relays"`
	Mention   []mentionRelay `json:"mention,omitempty"`
	Published string         `json:"published,omitempty"`
}

// NewRelaysCmd creates the relays command.
func NewRelaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relays",
		Short: "Show the relays a page reads from and whether they advertise NIP-22",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := GetContext(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			relays := app.Resolver.ResolveRelays(ctx, app.Config.Widget.Relays, app.Config.Widget.Mention)
			infos, errs := app.Client.FetchRelayInfos(ctx, relays)

			statuses := make([]relayStatus, 0, len(relays))
			for _, url := range relays {
				status := relayStatus{URL: url}
				if info, ok := infos[url]; ok {
					status.Name = info.Name
					status.Software = info.Software
					status.NIP22 = info.Supports(internalnostr.NIP22)
				}
				if err, ok := errs[url]; ok {
					status.Error = err.Error()
				}
				statuses = append(statuses, status)
			}
			sort.Slice(statuses, func(i, j int) bool { return statuses[i].URL < statuses[j].URL })
			result := relaysResult{Relays: statuses}

			if mention := app.Config.Widget.Mention; mention != "" {
				hints, err := app.Resolver.FetchRelayList(ctx, mention)
				if err != nil {
					app.Logger.Warn("failed to fetch mention relay list", "pubkey", mention, "error", err)
				}
				for _, hint := range hints {
					result.Mention = append(result.Mention, mentionRelay{URL: hint.Relay, Read: hint.CanRead, Write: hint.CanWrite})
				}
			}

			if publish, _ := cmd.Flags().GetBool("publish"); publish {
				id, err := publishRelayList(cmd, app, relays)
				if err != nil {
					return err
				}
				result.Published = id
			}

			out := cmd.OutOrStdout()
			if app.JSONMode {
				return writeJSON(out, result)
			}

			for _, s := range statuses {
				switch {
				case s.Error != "":
					fmt.Fprintf(out, "%-40s  unreachable (%s)\n", s.URL, s.Error)
				case s.NIP22:
					fmt.Fprintf(out, "%-40s  %s  NIP-22\n", s.URL, s.Name)
				default:
					fmt.Fprintf(out, "%-40s  %s\n", s.URL, s.Name)
				}
			}
			if len(result.Mention) > 0 {
				fmt.Fprintln(out, "\nmention relay list:")
				for _, m := range result.Mention {
					fmt.Fprintf(out, "%-40s  %s\n", m.URL, relayMarker(m.Read, m.Write))
				}
			}
			if result.Published != "" {
				fmt.Fprintf(out, "\npublished relay list %s\n", result.Published)
			}
			return nil
		},
	}

	cmd.Flags().Bool("publish", false, "sign and publish these relays as your NIP-65 relay list")
	addLoginFlags(cmd)

	return cmd
}

func publishRelayList(cmd *cobra.Command, app *CommandContext, relays []string) (string, error) {
	ctx := cmd.Context()
	w, err := app.NewWidget(ctx, widget.Options{})
	if err != nil {
		return "", err
	}
	defer w.Close()

	if _, err := login(ctx, cmd, app, w); err != nil {
		return "", err
	}
	defer w.Session().Logout()

	evt, err := w.PublishRelayList(ctx, relays)
	if err != nil {
		return "", err
	}
	return evt.ID, nil
}

func relayMarker(read, write bool) string {
	switch {
	case read && write:
		return "read+write"
	case read:
		return "read"
	case write:
		return "write"
	default:
		return ""
	}
}
