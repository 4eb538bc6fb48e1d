// Package blob abstracts the remote backup object: one authenticated JSON
// document, identified by a stable lookup key, supporting find, create,
// read-full and overwrite-full.
//
// The sync orchestrator only depends on this interface; the concrete
// transport (GitHub Gist here, any blob store in principle) lives in a
// subpackage.
package blob

import (
	"context"

	"github.com/convosync/convosync/internal/model"
)

// Client is the remote side of a sync cycle.
type Client interface {
	// Pull locates the backup object and returns its parsed snapshot.
	// When no object exists yet (first use on a new account) Pull
	// returns a fresh empty snapshot; that case is never an error.
	// A schema mismatch in an existing object is a KindParse error.
	Pull(ctx context.Context) (*model.Snapshot, error)

	// Push overwrites the backup object with the snapshot, creating it
	// if needed. The snapshot's lastBackupAt and aggregate counts must
	// already be refreshed by the caller (model.NewSnapshot does both).
	Push(ctx context.Context, snap *model.Snapshot) error

	// IsAuthenticated reports whether a credential is loaded.
	IsAuthenticated() bool

	// Login validates the credential against the remote service before
	// persisting it. An invalid credential is a KindAuth error and
	// nothing is stored.
	Login(ctx context.Context, credential string) error

	// Logout discards the stored credential and any cached object
	// identifier.
	Logout() error
}
