// Package merge implements pure reconciliation of conversation state
// between the local store and a remote backup snapshot.
//
// The merge rule is deliberately asymmetric: timestamp comparison decides
// metadata precedence (title, lastUpdated, synced), but message content is
// always unioned regardless of which side looks newer. A device must never
// drop a message because of clock disagreement.
package merge

import (
	"sort"

	"github.com/convosync/convosync/internal/model"
)

// Outcome classifies the effect of merging one remote conversation.
type Outcome int

const (
	// OutcomeAdded means the conversation did not exist locally and was
	// adopted verbatim from the remote.
	OutcomeAdded Outcome = iota
	// OutcomeUpdated means the local conversation changed (new messages,
	// new anchors, or metadata taken from the remote).
	OutcomeUpdated
	// OutcomeUnchanged means the remote contributed nothing new.
	OutcomeUnchanged
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAdded:
		return "added"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Report aggregates per-conversation outcomes across a snapshot merge.
type Report struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`

	// Failed counts conversations whose merge was aborted by a storage
	// error. Failures are isolated per conversation; one bad record never
	// stops the rest of the snapshot from merging.
	Failed int `json:"failed"`
}

// Total returns the number of remote conversations examined.
func (r Report) Total() int {
	return r.Added + r.Updated + r.Unchanged + r.Failed
}

// Conversation reconciles a remote conversation against the local copy
// and returns the merged result. local may be nil, meaning the
// conversation does not exist locally. Neither input is mutated.
//
// Rules:
//   - local absent: adopt remote verbatim, marked synced.
//   - remote.LastUpdated > local.LastUpdated: remote wins at the metadata
//     level (remote title preferred when non-empty, lastUpdated and synced
//     taken from the comparison), but messages and anchors are unioned,
//     never replaced.
//   - otherwise: keep local metadata; still union messages and anchors
//     from the remote. The union is idempotent and cheap, and protects
//     against a missed earlier sync.
func Conversation(local *model.Conversation, remote *model.Conversation) (*model.Conversation, Outcome) {
	if local == nil {
		adopted := remote.Clone()
		adopted.Synced = true
		if adopted.Anchors == nil {
			adopted.Anchors = map[string]model.Anchor{}
		}
		sortMessages(adopted.Messages)
		return adopted, OutcomeAdded
	}

	merged := local.Clone()
	if merged.Anchors == nil {
		merged.Anchors = map[string]model.Anchor{}
	}

	changed := false

	messages, grew := unionMessages(merged.Messages, remote.Messages)
	merged.Messages = messages
	changed = changed || grew

	if unionAnchors(merged.Anchors, remote.Anchors, merged.MessageIDs()) {
		changed = true
	}

	if remote.LastUpdated > local.LastUpdated {
		if remote.Title != "" && remote.Title != merged.Title {
			merged.Title = remote.Title
		}
		merged.LastUpdated = remote.LastUpdated
		merged.Synced = true
		changed = true
	}

	if !changed {
		return merged, OutcomeUnchanged
	}
	return merged, OutcomeUpdated
}

// unionMessages merges remote messages into local ones keyed by message
// ID, local first so an ID collision keeps the local copy
// (first-writer-wins; IDs are globally unique at creation, so collisions
// mean the message is already present). The result is sorted ascending by
// createdAt. Reports whether any remote message was new.
func unionMessages(local, remote []model.Message) ([]model.Message, bool) {
	seen := make(map[string]bool, len(local))
	out := make([]model.Message, 0, len(local)+len(remote))
	for _, m := range local {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	grew := false
	for _, m := range remote {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
		grew = true
	}
	sortMessages(out)
	return out, grew
}

// unionAnchors fills gaps in dst from src. A local anchor is never
// overwritten by a remote one: the local side is presumed freshest for
// anchors produced on this device. Anchors for message IDs not present in
// the merged conversation are skipped. Reports whether dst changed.
func unionAnchors(dst map[string]model.Anchor, src map[string]model.Anchor, messageIDs map[string]bool) bool {
	changed := false
	for id, a := range src {
		if _, exists := dst[id]; exists {
			continue
		}
		if !messageIDs[id] {
			continue
		}
		dst[id] = a
		changed = true
	}
	return changed
}

func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt < msgs[j].CreatedAt
	})
}
