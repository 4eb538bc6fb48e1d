// Package inbox ingests captured records from the producing layer.
//
// The capture layer (a browser extension's content script) runs outside
// this process; its adapter here is a drop directory. The producer writes
// one JSON file per captured message, the watcher picks it up, appends it
// to the local store, notifies the orchestrator and consumes the file.
//
// File events are debounced through a change-queue map so a producer that
// writes in bursts doesn't trigger a store round-trip per write event.
package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/convosync/convosync/internal/model"
	"github.com/convosync/convosync/internal/store"
)

// Record is the drop-file format written by the producing layer.
type Record struct {
	ConversationID string        `json:"conversationId"`
	Title          string        `json:"title,omitempty"`
	Message        model.Message `json:"message"`
	Anchor         *model.Anchor `json:"anchor,omitempty"`
}

// Validate checks the fields required to apply a record.
func (r *Record) Validate() error {
	if r.ConversationID == "" {
		return fmt.Errorf("conversationId is required")
	}
	if err := r.Message.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if r.Anchor != nil {
		if err := r.Anchor.Validate(); err != nil {
			return fmt.Errorf("invalid anchor: %w", err)
		}
	}
	return nil
}

// Notifier is the slice of the orchestrator the watcher needs.
type Notifier interface {
	RecordChange(conversationID string)
}

// Config holds watcher configuration.
type Config struct {
	// DebounceInterval is how long a file must sit quiet in the queue
	// before it is processed.
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Watcher consumes record drop files from a directory.
type Watcher struct {
	dir      string
	store    *store.Store
	notifier Notifier
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for the given drop directory, creating it if
// needed.
func New(dir string, st *store.Store, notifier Notifier, config *Config) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[inbox] ", log.LstdFlags)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:         dir,
		store:       st,
		notifier:    notifier,
		config:      config,
		watcher:     fsw,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start drains any records already sitting in the directory, then begins
// watching for new ones. Non-blocking; use Stop to shut down.
func (w *Watcher) Start() error {
	if err := w.drainExisting(); err != nil {
		return err
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}
	w.config.Logger.Printf("Watching %s", w.dir)

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processChangeQueue()
	return nil
}

// Stop shuts the watcher down and waits for in-flight processing.
func (w *Watcher) Stop() error {
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	return nil
}

// drainExisting processes records dropped while the daemon was down.
func (w *Watcher) drainExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if err := w.consume(path); err != nil {
			w.config.Logger.Printf("WARNING: failed to consume %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	w.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued files on a debounce tick.
func (w *Watcher) processChangeQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processPendingChanges()
		}
	}
}

// processPendingChanges consumes files that have sat quiet long enough.
func (w *Watcher) processPendingChanges() {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()

	now := time.Now()
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		delete(w.changeQueue, path)

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := w.consume(path); err != nil {
			w.config.Logger.Printf("WARNING: failed to consume %s: %v", filepath.Base(path), err)
		}
	}
}

// consume applies one record file to the store and removes it. A
// malformed file is moved aside rather than retried forever.
func (w *Watcher) consume(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		w.quarantine(path)
		return fmt.Errorf("malformed record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		w.quarantine(path)
		return fmt.Errorf("invalid record: %w", err)
	}

	if err := w.store.AppendMessage(w.ctx, rec.ConversationID, rec.Message, rec.Anchor, rec.Title); err != nil {
		// Storage failures must stay visible; keep the file so the
		// record is retried once storage recovers.
		return fmt.Errorf("failed to append message: %w", err)
	}

	if w.notifier != nil {
		w.notifier.RecordChange(rec.ConversationID)
	}

	if err := os.Remove(path); err != nil {
		w.config.Logger.Printf("WARNING: failed to remove consumed record %s: %v", filepath.Base(path), err)
	}
	w.config.Logger.Printf("Ingested message %s into conversation %s", rec.Message.ID, rec.ConversationID)
	return nil
}

// quarantine renames a bad record so it stops matching *.json.
func (w *Watcher) quarantine(path string) {
	bad := path + ".bad"
	if err := os.Rename(path, bad); err != nil {
		w.config.Logger.Printf("WARNING: failed to quarantine %s: %v", filepath.Base(path), err)
	}
}
