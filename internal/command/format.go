package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/CodyTseng/nostr-comments/internal/comments"
)

type commentJSON struct {
	ID        string         `json:"id"`
	Pubkey    string         `json:"pubkey"`
	CreatedAt int64          `json:"created_at"`
	Content   string         `json:"content"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	Likes     int            `json:"likes,omitempty"`
	Replies   []*commentJSON `json:"replies,omitempty"`
}

type listResult struct {
	URL      string         `json:"url"`
	Count    int            `json:"count"`
	HasMore  bool           `json:"has_more"`
	Orphans  int            `json:"orphans,omitempty"`
	Comments []*commentJSON `json:"comments"`
}

func toCommentJSON(c *comments.Comment, likes map[string]int) *commentJSON {
	out := &commentJSON{
		ID:        c.Event.ID,
		Pubkey:    c.Event.PubKey,
		CreatedAt: int64(c.Event.CreatedAt),
		Content:   c.Event.Content,
		Likes:     likes[c.Event.ID],
	}
	if c.ReplyTo != nil {
		out.ReplyTo = c.ReplyTo.ID
	}
	for _, child := range c.Children {
		out.Replies = append(out.Replies, toCommentJSON(child, likes))
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortNpub renders a pubkey as a truncated npub
func shortNpub(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil || len(npub) < 16 {
		if len(pubkey) > 8 {
			return pubkey[:8]
		}
		return pubkey
	}
	return npub[:10] + "…" + npub[len(npub)-4:]
}

func formatTime(ts nostr.Timestamp) string {
	return time.Unix(int64(ts), 0).Local().Format("2006-01-02 15:04")
}

func formatEvent(evt *nostr.Event, likes int) string {
	content := strings.ReplaceAll(strings.TrimSpace(evt.Content), "\n", " ")
	line := fmt.Sprintf("[%s] %s: %s", formatTime(evt.CreatedAt), shortNpub(evt.PubKey), content)
	if likes > 0 {
		line += fmt.Sprintf(" (+%d)", likes)
	}
	return line + "  #" + evt.ID[:min(8, len(evt.ID))]
}

// printTree writes roots newest first with their replies indented below
func printTree(w io.Writer, tree []*comments.Comment, likes map[string]int) {
	for _, root := range tree {
		fmt.Fprintln(w, formatEvent(root.Event, likes[root.Event.ID]))
		for _, child := range root.Children {
			prefix := "  ↳ "
			if child.ReplyTo != nil {
				prefix = fmt.Sprintf("  ↳ @%s ", shortNpub(child.ReplyTo.PubKey))
			}
			fmt.Fprintln(w, prefix+formatEvent(child.Event, likes[child.Event.ID]))
		}
	}
}
