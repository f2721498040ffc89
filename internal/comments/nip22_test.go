package comments

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

var (
	testMention = strings.Repeat("ab", 32)
	testAuthor  = strings.Repeat("cd", 32)
)

func tagValues(evt nostr.Event, name string) [][]string {
	values := make([][]string, 0)
	for _, tag := range evt.Tags {
		if len(tag) > 0 && tag[0] == name {
			values = append(values, tag[1:])
		}
	}
	return values
}

func TestBuildRootComment(t *testing.T) {
	evt := BuildRootComment("https://example.com/a", "hello", testMention)

	if evt.Kind != KindComment {
		t.Errorf("Expected kind %d, got %d", KindComment, evt.Kind)
	}
	if evt.Content != "hello" {
		t.Errorf("Expected content 'hello', got %q", evt.Content)
	}
	if evt.CreatedAt == 0 {
		t.Error("Expected created_at to be set")
	}

	expected := []nostr.Tag{
		{"I", "https://example.com/a"},
		{"K", "web"},
		{"i", "https://example.com/a"},
		{"k", "web"},
		{"P", testMention},
		{"p", testMention},
	}
	if len(evt.Tags) != len(expected) {
		t.Fatalf("Expected %d tags, got %d: %v", len(expected), len(evt.Tags), evt.Tags)
	}
	for i, tag := range expected {
		if strings.Join(evt.Tags[i], ",") != strings.Join(tag, ",") {
			t.Errorf("Tag %d: expected %v, got %v", i, tag, evt.Tags[i])
		}
	}

	if IsReply(&evt) {
		t.Error("Root comment must not be a reply")
	}
}

func TestBuildRootCommentDropsInvalidMention(t *testing.T) {
	tests := []struct {
		name    string
		mention string
	}{
		{"empty", ""},
		{"npub", "npub1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"},
		{"short hex", "abcd"},
		{"non hex", strings.Repeat("zz", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := BuildRootComment("https://example.com", "x", tt.mention)
			if len(tagValues(evt, "P")) != 0 || len(tagValues(evt, "p")) != 0 {
				t.Errorf("Expected mention %q to be dropped, got tags %v", tt.mention, evt.Tags)
			}
			if len(evt.Tags) != 4 {
				t.Errorf("Expected 4 tags, got %d", len(evt.Tags))
			}
		})
	}
}

func TestBuildReply(t *testing.T) {
	parent := &nostr.Event{ID: strings.Repeat("01", 32), PubKey: testAuthor}

	evt := BuildReply("https://example.com/a", "reply", parent, "wss://relay.test", testMention)

	expected := []nostr.Tag{
		{"I", "https://example.com/a"},
		{"K", "web"},
		{"P", testMention},
		{"e", parent.ID, "wss://relay.test", testAuthor},
		{"k", "1111"},
		{"p", testAuthor},
	}
	if len(evt.Tags) != len(expected) {
		t.Fatalf("Expected %d tags, got %d: %v", len(expected), len(evt.Tags), evt.Tags)
	}
	for i, tag := range expected {
		if strings.Join(evt.Tags[i], ",") != strings.Join(tag, ",") {
			t.Errorf("Tag %d: expected %v, got %v", i, tag, evt.Tags[i])
		}
	}

	id, ok := ParentID(&evt)
	if !ok || id != parent.ID {
		t.Errorf("Expected parent %s, got %s (%v)", parent.ID, id, ok)
	}
}

func TestBuildReplyWithoutHint(t *testing.T) {
	parent := &nostr.Event{ID: strings.Repeat("02", 32), PubKey: testAuthor}

	evt := BuildReply("https://example.com/a", "reply", parent, "", "")

	e := tagValues(evt, "e")
	if len(e) != 1 {
		t.Fatalf("Expected one e tag, got %v", e)
	}
	if e[0][1] != "" {
		t.Errorf("Expected empty relay hint, got %q", e[0][1])
	}
	if len(tagValues(evt, "P")) != 0 {
		t.Error("Expected no P tag without mention")
	}
}

func TestParentIDAndRootURL(t *testing.T) {
	tests := []struct {
		name       string
		event      *nostr.Event
		wantParent string
		wantURL    string
	}{
		{
			name:  "nil event",
			event: nil,
		},
		{
			name:  "no tags",
			event: &nostr.Event{},
		},
		{
			name: "short tags are skipped",
			event: &nostr.Event{Tags: nostr.Tags{
				{"e"},
				{"I"},
				{"e", "second"},
				{"I", "https://example.com"},
			}},
			wantParent: "second",
			wantURL:    "https://example.com",
		},
		{
			name: "first tag wins",
			event: &nostr.Event{Tags: nostr.Tags{
				{"e", "first"},
				{"e", "other"},
			}},
			wantParent: "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent, _ := ParentID(tt.event)
			if parent != tt.wantParent {
				t.Errorf("Expected parent %q, got %q", tt.wantParent, parent)
			}
			url, _ := RootURL(tt.event)
			if url != tt.wantURL {
				t.Errorf("Expected url %q, got %q", tt.wantURL, url)
			}
		})
	}
}

func TestDifficulty(t *testing.T) {
	tests := []struct {
		id   string
		want int
	}{
		{strings.Repeat("f", 64), 0},
		{"0" + strings.Repeat("f", 63), 4},
		{"00" + strings.Repeat("f", 62), 8},
		{"007" + strings.Repeat("f", 61), 9},
		{"", 0},
		{"00", 0},
	}

	for _, tt := range tests {
		if got := Difficulty(tt.id); got != tt.want {
			t.Errorf("Difficulty(%q) = %d, want %d", tt.id, got, tt.want)
		}
	}
}

func TestFilterByPow(t *testing.T) {
	strong := &nostr.Event{ID: "0000" + strings.Repeat("f", 60)}
	weak := &nostr.Event{ID: strings.Repeat("f", 64)}
	events := []*nostr.Event{strong, weak}

	if got := FilterByPow(events, 0); len(got) != 2 {
		t.Errorf("Expected no filtering at 0, got %d events", len(got))
	}

	got := FilterByPow(events, 16)
	if len(got) != 1 || got[0] != strong {
		t.Errorf("Expected only the strong event, got %v", got)
	}
	if len(events) != 2 {
		t.Error("Input slice must not be modified")
	}
}
