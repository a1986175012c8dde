// Package store persists the relay State document.
//
// Every backend gives the same guarantees: Update runs fn against a private
// copy of the current state while holding exclusive write access, persists the
// copy only if fn returns nil, and publishes it only once persisting succeeded.
// A failed Update never leaves a partial write behind.
package store

import (
	"context"
	"errors"

	"adunlock/models"
)

var (
	ErrClosed       = errors.New("store closed")
	ErrConflict     = errors.New("concurrent update conflict")
	ErrInvalidInput = errors.New("invalid store input")
	ErrUnsupported  = errors.New("unsupported store scheme")
)

type Store interface {
	// Update performs one read-modify-write cycle. fn may be invoked more than
	// once by optimistic backends and must not have side effects outside the state.
	Update(ctx context.Context, fn func(state *models.State) error) error
	// View runs fn against a consistent snapshot. fn must not retain or mutate it.
	View(ctx context.Context, fn func(state *models.State) error) error
	Close() error
}
