package comments

import (
	"github.com/nbd-wtf/go-nostr"
)

// LikeContent is the reaction content counted as a like
const LikeContent = "+"

// BuildReaction creates an unsigned reaction to target.
// An empty content defaults to a like.
func BuildReaction(target *nostr.Event, content string) nostr.Event {
	if content == "" {
		content = LikeContent
	}

	return nostr.Event{
		Kind:    KindReaction,
		Content: content,
		Tags: nostr.Tags{
			{"e", target.ID},
			{"p", target.PubKey},
		},
		CreatedAt: nostr.Now(),
	}
}

// ReactionFilter matches reactions to any of the given events.
// It returns false when there is nothing to ask for.
func ReactionFilter(eventIDs []string) (nostr.Filter, bool) {
	if len(eventIDs) == 0 {
		return nostr.Filter{}, false
	}

	return nostr.Filter{
		Kinds: []int{KindReaction},
		Tags:  nostr.TagMap{"e": eventIDs},
	}, true
}

// reactionTarget returns the event id a reaction points at
func reactionTarget(reaction *nostr.Event) (string, bool) {
	if reaction.Kind != KindReaction {
		return "", false
	}
	return firstTagValue(reaction, "e")
}

func isLike(reaction *nostr.Event) bool {
	return reaction.Content == LikeContent || reaction.Content == ""
}

// CountLikes counts the likes that target eventID
func CountLikes(reactions []*nostr.Event, eventID string) int {
	count := 0
	for _, r := range reactions {
		if target, ok := reactionTarget(r); ok && target == eventID && isLike(r) {
			count++
		}
	}
	return count
}

// HasLiked reports whether pubkey already liked eventID
func HasLiked(reactions []*nostr.Event, eventID, pubkey string) bool {
	for _, r := range reactions {
		if target, ok := reactionTarget(r); ok && target == eventID && r.PubKey == pubkey && isLike(r) {
			return true
		}
	}
	return false
}

// LikeCounts tallies likes per target event
func LikeCounts(reactions []*nostr.Event) map[string]int {
	counts := make(map[string]int)
	for _, r := range reactions {
		if target, ok := reactionTarget(r); ok && isLike(r) {
			counts[target]++
		}
	}
	return counts
}
