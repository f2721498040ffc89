package comments

import (
	"cmp"
	"slices"

	"github.com/nbd-wtf/go-nostr"
)

// Comment is one node of the rendered thread. Trees are exactly two levels
// deep: every reply, however deep its real ancestry, hangs off its root.
type Comment struct {
	Event    *nostr.Event
	Children []*Comment
	// ReplyTo is the direct parent when it is not the root itself
	ReplyTo *nostr.Event
}

// threadIndex resolves parent chains over a fixed event set.
// The first occurrence of an id wins; order keeps input order.
type threadIndex struct {
	byID  map[string]*nostr.Event
	order []*nostr.Event
}

func newThreadIndex(events []*nostr.Event) *threadIndex {
	idx := &threadIndex{byID: make(map[string]*nostr.Event, len(events))}
	for _, evt := range events {
		if evt == nil {
			continue
		}
		if _, dup := idx.byID[evt.ID]; dup {
			continue
		}
		idx.byID[evt.ID] = evt
		idx.order = append(idx.order, evt)
	}
	return idx
}

// effectiveRoot walks the e tag chain upward and returns the id the reply is
// grouped under. A parent missing from the index becomes the group id.
// A cycle stops the walk and groups under the id that closed it.
func (idx *threadIndex) effectiveRoot(evt *nostr.Event) (string, bool) {
	parentID, ok := ParentID(evt)
	if !ok {
		return "", false
	}

	visited := map[string]bool{evt.ID: true}
	for {
		parent, found := idx.byID[parentID]
		if !found {
			return parentID, true
		}

		grandParentID, isReply := ParentID(parent)
		if !isReply {
			return parentID, true
		}

		if visited[grandParentID] {
			return grandParentID, true
		}
		visited[parentID] = true
		parentID = grandParentID
	}
}

func compareAsc(a, b *nostr.Event) int {
	return cmp.Compare(a.CreatedAt, b.CreatedAt)
}

// GroupReplies groups every reply by the id of its effective root. Groups for
// roots outside the event set are kept so callers can tell orphans apart from
// dropped events. Each group is ordered oldest first.
func GroupReplies(events []*nostr.Event) map[string][]*Comment {
	return newThreadIndex(events).groupReplies()
}

func (idx *threadIndex) groupReplies() map[string][]*Comment {
	groups := make(map[string][]*Comment)

	for _, evt := range idx.order {
		rootID, isReply := idx.effectiveRoot(evt)
		if !isReply {
			continue
		}

		node := &Comment{Event: evt}
		parentID, _ := ParentID(evt)
		if direct, ok := idx.byID[parentID]; ok && IsReply(direct) {
			node.ReplyTo = direct
		}
		groups[rootID] = append(groups[rootID], node)
	}

	for _, group := range groups {
		slices.SortStableFunc(group, func(a, b *Comment) int {
			return compareAsc(a.Event, b.Event)
		})
	}

	return groups
}

// BuildTree turns an unordered event set into root comments, newest first,
// each carrying its replies oldest first. Duplicate ids collapse to one node.
func BuildTree(events []*nostr.Event) []*Comment {
	idx := newThreadIndex(events)
	groups := idx.groupReplies()

	roots := make([]*Comment, 0)
	for _, evt := range idx.order {
		if IsReply(evt) {
			continue
		}
		roots = append(roots, &Comment{
			Event:    evt,
			Children: groups[evt.ID],
		})
	}

	slices.SortStableFunc(roots, func(a, b *Comment) int {
		return compareAsc(b.Event, a.Event)
	})

	for _, root := range roots {
		if root.Children == nil {
			root.Children = []*Comment{}
		}
	}

	return roots
}

// CountComments returns the number of nodes in a tree
func CountComments(tree []*Comment) int {
	count := 0
	for _, root := range tree {
		count += 1 + len(root.Children)
	}
	return count
}

// Flatten returns every event in the tree in display order
func Flatten(tree []*Comment) []*nostr.Event {
	events := make([]*nostr.Event, 0, CountComments(tree))
	for _, root := range tree {
		events = append(events, root.Event)
		for _, child := range root.Children {
			events = append(events, child.Event)
		}
	}
	return events
}
