// Package store provides the durable local conversation store backed by
// embedded SQLite.
//
// The store is the single source of truth on a device: every captured
// message is written here before any sync activity, and sync trouble must
// never make a local write fail. Conversations are stored one row each
// with messages and anchors embedded as JSON, plus indexes for the two
// secondary access patterns sync needs: filter by synced flag and range
// by last_updated.
//
// The database runs in embedded mode with WAL enabled so status queries
// can proceed concurrently with writes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/convosync/convosync/internal/merge"
	"github.com/convosync/convosync/internal/model"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrUnavailable marks storage-layer I/O failures. Callers must not
// swallow these: local durability is the core promise, so the producing
// layer decides whether to warn the user. Test with errors.Is.
var ErrUnavailable = errors.New("storage unavailable")

// metaLastSyncAt is the sync_meta key holding the persisted last sync time.
const metaLastSyncAt = "last_sync_at"

// Store wraps the SQLite connection with conversation-level operations.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates or opens the conversation database at path.
//
// The parent directory is created if needed. The caller must Close the
// store when done. If logger is nil, a default stderr logger is used.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, unavailable("create database directory", err)
	}

	// _txlock=immediate takes the write lock at BEGIN, so concurrent
	// appends serialize under busy_timeout rather than failing on lock
	// upgrade. Pragmas ride the DSN so every pooled connection gets them.
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(on)"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, unavailable("open database", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, unavailable("ping database", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Store{conn: conn, path: path, logger: logger}, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return unavailable("close database", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates tables and indexes if they don't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL DEFAULT '',
		messages     TEXT NOT NULL DEFAULT '[]',
		anchors      TEXT NOT NULL DEFAULT '{}',
		last_updated INTEGER NOT NULL,
		synced       INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_synced
		ON conversations(synced);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_updated
		ON conversations(last_updated);

	CREATE TABLE IF NOT EXISTS sync_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return unavailable("create schema", err)
	}
	return nil
}

// Get returns the conversation with the given id, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, title, messages, anchors, last_updated, synced
		 FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get conversation", err)
	}
	return conv, nil
}

// GetOrCreate returns the conversation with the given id, creating an
// empty unsynced one if absent. title is only applied on creation.
func (s *Store) GetOrCreate(ctx context.Context, id, title string) (*model.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv = &model.Conversation{
		ID:          id,
		Title:       title,
		Messages:    []model.Message{},
		Anchors:     map[string]model.Anchor{},
		LastUpdated: model.NowMillis(),
		Synced:      false,
	}
	if err := s.upsert(ctx, s.conn, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessage atomically appends a message and its anchor to the
// conversation, creating the conversation if needed. The whole
// read-modify-write runs in one immediate transaction, so concurrent
// appends to the same conversation cannot lose updates.
//
// Sets lastUpdated to now and synced to false. title is applied only if
// the conversation has no title yet. anchor may be nil for messages the
// producer could not anchor.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg model.Message, anchor *model.Anchor, title string) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if anchor != nil {
		if err := anchor.Validate(); err != nil {
			return fmt.Errorf("invalid anchor: %w", err)
		}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin append transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, title, messages, anchors, last_updated, synced
		 FROM conversations WHERE id = ?`, conversationID)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		conv = &model.Conversation{
			ID:       conversationID,
			Title:    title,
			Messages: []model.Message{},
			Anchors:  map[string]model.Anchor{},
		}
	} else if err != nil {
		return unavailable("read conversation", err)
	}

	conv.Messages = append(conv.Messages, msg)
	if anchor != nil {
		conv.Anchors[msg.ID] = *anchor
	}
	if conv.Title == "" && title != "" {
		conv.Title = title
	}
	conv.LastUpdated = model.NowMillis()
	conv.Synced = false

	if err := s.upsert(ctx, tx, conv); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit append", err)
	}
	return nil
}

// ListUnsynced returns all conversations with local changes pending push.
func (s *Store) ListUnsynced(ctx context.Context) ([]model.Conversation, error) {
	return s.list(ctx,
		`SELECT id, title, messages, anchors, last_updated, synced
		 FROM conversations WHERE synced = 0 ORDER BY last_updated`)
}

// ListUpdatedSince returns conversations mutated at or after the given
// epoch-millisecond timestamp, newest last.
func (s *Store) ListUpdatedSince(ctx context.Context, since int64) ([]model.Conversation, error) {
	return s.list(ctx,
		`SELECT id, title, messages, anchors, last_updated, synced
		 FROM conversations WHERE last_updated >= ? ORDER BY last_updated`, since)
}

// ExportAll returns every conversation in the store, ordered by id for a
// stable snapshot layout.
func (s *Store) ExportAll(ctx context.Context) ([]model.Conversation, error) {
	return s.list(ctx,
		`SELECT id, title, messages, anchors, last_updated, synced
		 FROM conversations ORDER BY id`)
}

// MarkSynced sets synced=true for each id, leaving content untouched.
func (s *Store) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin mark-synced transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE conversations SET synced = 1 WHERE id = ?`)
	if err != nil {
		return unavailable("prepare mark-synced", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return unavailable("mark conversation synced", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit mark-synced", err)
	}
	return nil
}

// MergeSnapshot reconciles every conversation in the remote snapshot
// against the store using the merge engine. Conversations that exist only
// locally are left untouched; they ride out on the next push.
//
// A failure merging one conversation is logged and counted but does not
// abort the rest of the snapshot.
func (s *Store) MergeSnapshot(ctx context.Context, remote []model.Conversation) merge.Report {
	var report merge.Report
	for i := range remote {
		rc := &remote[i]
		if rc.ID == "" {
			s.logger.Printf("WARNING: skipping remote conversation with empty id")
			report.Failed++
			continue
		}
		outcome, err := s.mergeOne(ctx, rc)
		if err != nil {
			s.logger.Printf("WARNING: failed to merge conversation %s: %v", rc.ID, err)
			report.Failed++
			continue
		}
		switch outcome {
		case merge.OutcomeAdded:
			report.Added++
		case merge.OutcomeUpdated:
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	return report
}

// mergeOne applies the per-conversation merge rule inside one transaction.
func (s *Store) mergeOne(ctx context.Context, remote *model.Conversation) (merge.Outcome, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin merge transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id, title, messages, anchors, last_updated, synced
		 FROM conversations WHERE id = ?`, remote.ID)
	local, err := scanConversation(row)
	if err == sql.ErrNoRows {
		local = nil
	} else if err != nil {
		return 0, unavailable("read conversation", err)
	}

	merged, outcome := merge.Conversation(local, remote)
	if outcome == merge.OutcomeUnchanged {
		return outcome, nil
	}
	if err := s.upsert(ctx, tx, merged); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit merge", err)
	}
	return outcome, nil
}

// Delete removes a conversation. Administrative operation; the sync core
// never deletes conversations on its own.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return unavailable("delete conversation", err)
	}
	return nil
}

// Count returns the number of stored conversations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, unavailable("count conversations", err)
	}
	return n, nil
}

// LoadLastSyncAt returns the persisted last sync time in epoch
// milliseconds, or 0 when no sync has ever completed.
func (s *Store) LoadLastSyncAt(ctx context.Context) (int64, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM sync_meta WHERE key = ?`, metaLastSyncAt).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("load last sync time", err)
	}
	var at int64
	if _, err := fmt.Sscanf(value, "%d", &at); err != nil {
		s.logger.Printf("WARNING: malformed last_sync_at %q, resetting", value)
		return 0, nil
	}
	return at, nil
}

// SaveLastSyncAt persists the last sync time.
func (s *Store) SaveLastSyncAt(ctx context.Context, at int64) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sync_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastSyncAt, fmt.Sprintf("%d", at))
	if err != nil {
		return unavailable("save last sync time", err)
	}
	return nil
}

// upsert writes a conversation row through conn, which may be the pooled
// connection or an open transaction.
func (s *Store) upsert(ctx context.Context, conn execer, conv *model.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	anchors := conv.Anchors
	if anchors == nil {
		anchors = map[string]model.Anchor{}
	}
	anchorsJSON, err := json.Marshal(anchors)
	if err != nil {
		return fmt.Errorf("failed to marshal anchors: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO conversations (id, title, messages, anchors, last_updated, synced)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title        = excluded.title,
			messages     = excluded.messages,
			anchors      = excluded.anchors,
			last_updated = excluded.last_updated,
			synced       = excluded.synced`,
		conv.ID, conv.Title, string(messages), string(anchorsJSON),
		conv.LastUpdated, boolToInt(conv.Synced))
	if err != nil {
		return unavailable("write conversation", err)
	}
	return nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]model.Conversation, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query conversations", err)
	}
	defer rows.Close()

	var out []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, unavailable("scan conversation", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate conversations", err)
	}
	return out, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*model.Conversation, error) {
	var (
		conv         model.Conversation
		messagesJSON string
		anchorsJSON  string
		synced       int
	)
	if err := row.Scan(&conv.ID, &conv.Title, &messagesJSON, &anchorsJSON, &conv.LastUpdated, &synced); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, fmt.Errorf("corrupt messages column for %s: %w", conv.ID, err)
	}
	if err := json.Unmarshal([]byte(anchorsJSON), &conv.Anchors); err != nil {
		return nil, fmt.Errorf("corrupt anchors column for %s: %w", conv.ID, err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	if conv.Anchors == nil {
		conv.Anchors = map[string]model.Anchor{}
	}
	conv.Synced = synced != 0
	return &conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
