package model

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	snap := &Snapshot{
		Version:      FormatVersion,
		OwnerTag:     DefaultOwnerTag,
		LastBackupAt: 5000,
		Conversations: []Conversation{{
			ID: "c1",
			Messages: []Message{{
				ID:         "m1",
				ModelID:    "gemini-pro",
				ModelName:  "Gemini Pro",
				UserPrompt: "hello",
				Content:    "hi there",
				CreatedAt:  1000,
			}},
			Anchors:     map[string]Anchor{},
			LastUpdated: 1000,
			Synced:      true,
		}},
		Metadata: SnapshotMetadata{TotalMessages: 1, DeviceID: "dev-1"},
	}

	data, err := snap.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	parsed, err := ParseSnapshot(data, DefaultOwnerTag)
	if err != nil {
		t.Fatalf("ParseSnapshot() failed: %v", err)
	}
	if diff := cmp.Diff(snap, parsed); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_WireFieldNames(t *testing.T) {
	snap := NewSnapshot(DefaultOwnerTag, "dev-1", []Conversation{{
		ID:       "c1",
		Messages: []Message{{ID: "m1", CreatedAt: 1, ContextAttached: true}},
		Anchors: map[string]Anchor{
			"m1": {Hash: "h", PositionIndex: 2, Snippet: "s", StableID: "g"},
		},
		LastUpdated: 1,
	}})

	data, err := snap.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	for _, field := range []string{
		`"version"`, `"extensionId"`, `"lastBackupAt"`, `"conversations"`,
		`"modelId"`, `"modelName"`, `"userPrompt"`, `"content"`, `"createdAt"`,
		`"contextAttached"`, `"precedingMessageHash"`, `"positionIndex"`,
		`"precedingMessageSnippet"`, `"geminiMessageId"`, `"lastUpdated"`,
		`"totalMessages"`, `"deviceId"`,
	} {
		if !strings.Contains(string(data), field) {
			t.Errorf("wire format missing field %s", field)
		}
	}
}

func TestParseSnapshot_VersionMismatch(t *testing.T) {
	data := []byte(`{"version": 2, "extensionId": "convosync", "conversations": []}`)
	if _, err := ParseSnapshot(data, DefaultOwnerTag); err == nil {
		t.Fatal("expected error for version mismatch")
	}
}

func TestParseSnapshot_OwnerTagMismatch(t *testing.T) {
	data := []byte(`{"version": 1, "extensionId": "someone-else", "conversations": []}`)
	if _, err := ParseSnapshot(data, DefaultOwnerTag); err == nil {
		t.Fatal("expected error for owner tag mismatch")
	}
}

func TestParseSnapshot_Malformed(t *testing.T) {
	if _, err := ParseSnapshot([]byte(`{not json`), DefaultOwnerTag); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseSnapshot_NilConversations(t *testing.T) {
	data := []byte(`{"version": 1, "extensionId": "convosync"}`)
	snap, err := ParseSnapshot(data, DefaultOwnerTag)
	if err != nil {
		t.Fatalf("ParseSnapshot() failed: %v", err)
	}
	if snap.Conversations == nil {
		t.Error("conversations should be normalized to an empty slice")
	}
}

func TestNewSnapshot_RecomputesTotals(t *testing.T) {
	convs := []Conversation{
		{ID: "a", Messages: []Message{{ID: "1", CreatedAt: 1}, {ID: "2", CreatedAt: 2}}},
		{ID: "b", Messages: []Message{{ID: "3", CreatedAt: 3}}},
	}
	snap := NewSnapshot(DefaultOwnerTag, "", convs)
	if snap.Metadata.TotalMessages != 3 {
		t.Errorf("totalMessages = %d, want 3", snap.Metadata.TotalMessages)
	}
	if snap.Version != FormatVersion {
		t.Errorf("version = %d, want %d", snap.Version, FormatVersion)
	}
	if snap.LastBackupAt <= 0 {
		t.Error("lastBackupAt should be stamped")
	}
}

func TestAnchor_SnippetBound(t *testing.T) {
	a := Anchor{Snippet: strings.Repeat("x", SnippetMaxLen+1)}
	if err := a.Validate(); err == nil {
		t.Error("expected error for over-long snippet")
	}
	a.Snippet = strings.Repeat("x", SnippetMaxLen)
	if err := a.Validate(); err != nil {
		t.Errorf("snippet at bound should validate: %v", err)
	}
}
