package sync

import (
	"sort"

	"github.com/nbd-wtf/go-nostr"
)

// Cursor tracks how far back a comment page has been loaded. A cursor
// without an until boundary has nothing more to fetch.
type Cursor struct {
	until *nostr.Timestamp
}

// NewCursor returns a cursor pointing just before ts
func NewCursor(ts nostr.Timestamp) Cursor {
	until := ts - 1
	return Cursor{until: &until}
}

// HasMore reports whether older comments may exist
func (c Cursor) HasMore() bool {
	return c.until != nil
}

// Until returns the boundary for the next query
func (c Cursor) Until() (nostr.Timestamp, bool) {
	if c.until == nil {
		return 0, false
	}
	return *c.until, true
}

// CursorAfterLoad derives the cursor for a first page. page must be sorted
// newest first and already truncated to pageSize. A short page means the
// relays have nothing older.
func CursorAfterLoad(page []*nostr.Event, pageSize int) Cursor {
	if len(page) == 0 || len(page) < pageSize {
		return Cursor{}
	}
	return NewCursor(page[len(page)-1].CreatedAt)
}

// Advance moves the cursor past batch. An empty batch exhausts it.
func (c Cursor) Advance(batch []*nostr.Event) Cursor {
	if len(batch) == 0 {
		return Cursor{}
	}

	oldest := batch[0].CreatedAt
	for _, evt := range batch[1:] {
		if evt.CreatedAt < oldest {
			oldest = evt.CreatedAt
		}
	}
	return NewCursor(oldest)
}

// SortNewestFirst orders events by created_at descending. Ties keep their
// arrival order.
func SortNewestFirst(events []*nostr.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt > events[j].CreatedAt
	})
}
