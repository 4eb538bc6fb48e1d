package model

import (
	"encoding/json"
	"fmt"
)

// FormatVersion is the backup snapshot format version. Readers require an
// exact match; any other value is rejected as malformed rather than
// partially recovered.
const FormatVersion = 1

// DefaultOwnerTag identifies this application's backups among other data
// in the same remote account. Configurable, but both sides of a sync must
// agree on the value.
const DefaultOwnerTag = "convosync"

// SnapshotMetadata carries aggregate information about a snapshot.
type SnapshotMetadata struct {
	TotalMessages int    `json:"totalMessages"`
	DeviceID      string `json:"deviceId,omitempty"`
}

// Snapshot is the complete serialized export of all Conversations,
// exchanged wholesale with the remote blob store. There is no partial or
// incremental form; each push replaces the prior snapshot entirely.
type Snapshot struct {
	Version       int              `json:"version"`
	OwnerTag      string           `json:"extensionId"`
	LastBackupAt  int64            `json:"lastBackupAt"`
	Conversations []Conversation   `json:"conversations"`
	Metadata      SnapshotMetadata `json:"metadata"`
}

// EmptySnapshot returns a fresh snapshot with no conversations. Pull
// returns this when no remote object exists yet; it is not an error.
func EmptySnapshot(ownerTag string) *Snapshot {
	return &Snapshot{
		Version:       FormatVersion,
		OwnerTag:      ownerTag,
		Conversations: []Conversation{},
		Metadata:      SnapshotMetadata{},
	}
}

// NewSnapshot builds a snapshot from exported conversations, stamping
// lastBackupAt and recomputing the aggregate message count.
func NewSnapshot(ownerTag, deviceID string, conversations []Conversation) *Snapshot {
	if conversations == nil {
		conversations = []Conversation{}
	}
	total := 0
	for i := range conversations {
		total += len(conversations[i].Messages)
	}
	return &Snapshot{
		Version:       FormatVersion,
		OwnerTag:      ownerTag,
		LastBackupAt:  NowMillis(),
		Conversations: conversations,
		Metadata: SnapshotMetadata{
			TotalMessages: total,
			DeviceID:      deviceID,
		},
	}
}

// TotalMessages recounts messages across all conversations.
func (s *Snapshot) TotalMessages() int {
	total := 0
	for i := range s.Conversations {
		total += len(s.Conversations[i].Messages)
	}
	return total
}

// Marshal serializes the snapshot to the wire format.
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// ParseSnapshot deserializes and validates a snapshot read from the
// remote object. The version and owner tag must match exactly; a
// mismatch means the object belongs to a different application or an
// incompatible release and must not be merged.
func ParseSnapshot(data []byte, ownerTag string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d (want %d)", snap.Version, FormatVersion)
	}
	if snap.OwnerTag != ownerTag {
		return nil, fmt.Errorf("snapshot owner tag %q does not match %q", snap.OwnerTag, ownerTag)
	}
	if snap.Conversations == nil {
		snap.Conversations = []Conversation{}
	}
	return &snap, nil
}
