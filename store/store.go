/*
Package store persists titanic tickets.

A Store is a durable map from ticket id to ticket. Every write is atomic for its ticket
and durable (synced) when the call returns; there are no cross-ticket transactions.
Scan enumerates all tickets and is used by the broker to recover after a restart.

Two backends are provided: PebbleStore (an LSM key-value store, the default) and
SQLiteStore.
*/
package store

import (
	"errors"
	"fmt"

	"github.com/dermesser/titanic/ticket"
)

var (
	ErrNotFound = errors.New("ticket not found")
	ErrExists   = errors.New("ticket already exists")
)

type Store interface {
	// Insert stores a new ticket; ErrExists if the id is taken.
	Insert(t *ticket.Ticket) error
	// Update replaces an existing ticket; ErrNotFound if there is none.
	Update(t *ticket.Ticket) error
	// Get returns a copy of the stored ticket or ErrNotFound.
	Get(id ticket.ID) (*ticket.Ticket, error)
	// Delete removes a ticket. Deleting a missing ticket is not an error.
	Delete(id ticket.ID) error
	// Scan calls fn for every stored ticket, ordered by submission sequence.
	// Iteration stops at the first error returned by fn.
	Scan(fn func(*ticket.Ticket) error) error
	Close() error
}

const (
	BACKEND_PEBBLE = "pebble"
	BACKEND_SQLITE = "sqlite"
)

// Open opens (or creates) a store of the given backend at path. For pebble, path is a
// directory; for sqlite, a database file.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BACKEND_PEBBLE, "":
		return OpenPebble(path)
	case BACKEND_SQLITE:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
