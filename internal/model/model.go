// Package model provides the data structures synchronized by convosync.
//
// A Conversation aggregates the Messages captured on this device together
// with their rendering Anchors. Conversations round-trip through the remote
// backup as a single Snapshot document, so every type here carries exact
// JSON field names matching the wire contract.
package model

import (
	"fmt"
	"time"
)

// SnippetMaxLen bounds Anchor.Snippet. Longer snippets are rejected by
// Validate rather than silently truncated; truncation is the producer's job.
const SnippetMaxLen = 200

// Message is one immutable externally-sourced response record.
// Messages are never edited in place; a correction is a new Message
// with a new ID.
type Message struct {
	// ID is globally unique at creation (UUID) and immutable.
	ID string `json:"id"`

	// ModelID and ModelName record provenance of the response.
	ModelID   string `json:"modelId"`
	ModelName string `json:"modelName"`

	// UserPrompt is the prompt that produced this response.
	UserPrompt string `json:"userPrompt"`

	// Content is the response body.
	Content string `json:"content"`

	// CreatedAt is wall-clock milliseconds since the epoch.
	CreatedAt int64 `json:"createdAt"`

	// ContextAttached reports whether extra context was attached
	// to the prompt.
	ContextAttached bool `json:"contextAttached,omitempty"`
}

// Validate checks the fields required for a Message to be stored.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.CreatedAt <= 0 {
		return fmt.Errorf("message createdAt is required (got %d)", m.CreatedAt)
	}
	return nil
}

// Anchor is positioning metadata tying a Message to a location in an
// external document. The sync core never interprets these fields; they
// are stored and merged as opaque payload for the rendering layer.
type Anchor struct {
	// Hash is a fingerprint of the normalized preceding content.
	Hash string `json:"precedingMessageHash"`

	// PositionIndex is the ordinal fallback position.
	PositionIndex int `json:"positionIndex"`

	// Snippet is a bounded-length prefix of the preceding content,
	// at most SnippetMaxLen characters.
	Snippet string `json:"precedingMessageSnippet"`

	// StableID is a best-effort reference into the external structure.
	StableID string `json:"geminiMessageId,omitempty"`
}

// Validate checks Anchor invariants that matter for storage.
func (a *Anchor) Validate() error {
	if len(a.Snippet) > SnippetMaxLen {
		return fmt.Errorf("anchor snippet must be %d characters or less (got %d)", SnippetMaxLen, len(a.Snippet))
	}
	return nil
}

// Conversation is the aggregate unit of sync, keyed by an externally
// assigned identifier.
//
// Messages are append-only in practice, but merge treats them as a set
// keyed by Message.ID. Anchors may cover a strict subset of message IDs;
// not every message gets an anchor.
type Conversation struct {
	ID       string            `json:"id"`
	Title    string            `json:"title,omitempty"`
	Messages []Message         `json:"messages"`
	Anchors  map[string]Anchor `json:"anchors"`

	// LastUpdated is the max mutation time in epoch milliseconds.
	LastUpdated int64 `json:"lastUpdated"`

	// Synced is true when no local change is pending push.
	Synced bool `json:"synced,omitempty"`
}

// Clone returns a deep copy. Merge functions operate on clones so callers
// never observe partial mutation.
func (c *Conversation) Clone() *Conversation {
	out := &Conversation{
		ID:          c.ID,
		Title:       c.Title,
		LastUpdated: c.LastUpdated,
		Synced:      c.Synced,
	}
	if c.Messages != nil {
		out.Messages = make([]Message, len(c.Messages))
		copy(out.Messages, c.Messages)
	}
	if c.Anchors != nil {
		out.Anchors = make(map[string]Anchor, len(c.Anchors))
		for id, a := range c.Anchors {
			out.Anchors[id] = a
		}
	}
	return out
}

// MessageIDs returns the set of message IDs present in the conversation.
func (c *Conversation) MessageIDs() map[string]bool {
	ids := make(map[string]bool, len(c.Messages))
	for _, m := range c.Messages {
		ids[m.ID] = true
	}
	return ids
}

// NowMillis returns the current wall clock in epoch milliseconds, the
// timestamp unit used throughout the wire format.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
