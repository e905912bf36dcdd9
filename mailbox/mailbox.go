// Package mailbox defines the message-store contract shared by the IMAP and
// mbox backends.
package mailbox

import (
	"context"
	"errors"

	"github.com/dhcgn/spam-report/model"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrConnectivity   = errors.New("mail store unreachable")
	ErrFolderNotFound = errors.New("folder not found")
	ErrMessageMissing = errors.New("message not found")
)

// Store is an authenticated session on a message store.
//
// A Store is owned by a single goroutine; concurrent fetching uses one Store
// per worker.
type Store interface {
	// Select makes folder the target of Search and Fetch.
	Select(ctx context.Context, folder string) error
	// Search lists every message id in the selected folder. The order is
	// defined by the store and carries no meaning.
	Search(ctx context.Context) ([]model.MessageID, error)
	// Fetch returns the full raw message for id.
	Fetch(ctx context.Context, id model.MessageID) ([]byte, error)
	Close() error
}

// Dialer opens a new authenticated Store.
type Dialer func(ctx context.Context) (Store, error)

// Open dials a store and selects folder, closing the store when the
// selection fails.
func Open(ctx context.Context, dial Dialer, folder string) (Store, error) {
	store, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.Select(ctx, folder); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
