// Package sessionmock provides in-memory collaborators for the session
// manager: a token repository, a broadcast hub connecting any number of
// agents in-process, and a scriptable auth API. All of them are safe for
// concurrent use so tests can exercise the manager's coalescing behavior.
package sessionmock

import (
	"context"
	"sync"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/internal/serviceerr"
	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
)

type Repository struct {
	mu     sync.Mutex
	pair   session.TokenPair
	stored bool

	loadErr, storeErr, clearErr error
}

var _ session.TokenRepository = (*Repository)(nil)

func NewInMemRepository(loadErr, storeErr, clearErr error) *Repository {
	return &Repository{
		loadErr:  loadErr,
		storeErr: storeErr,
		clearErr: clearErr,
	}
}

func (r *Repository) LoadTokens(ctx context.Context) (session.TokenPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loadErr != nil {
		return session.TokenPair{}, r.loadErr
	}
	if !r.stored {
		return session.TokenPair{}, serviceerr.ErrNotFound
	}

	return r.pair, nil
}

func (r *Repository) StoreTokens(ctx context.Context, pair session.TokenPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeErr != nil {
		return r.storeErr
	}
	r.pair = pair
	r.stored = true

	return nil
}

func (r *Repository) ClearTokens(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clearErr != nil {
		return r.clearErr
	}
	r.pair = session.TokenPair{}
	r.stored = false

	return nil
}

// Seed places a pair into the repository bypassing error injection.
func (r *Repository) Seed(pair session.TokenPair) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pair = pair
	r.stored = true
}

// Stored reports the currently persisted pair and whether one exists.
func (r *Repository) Stored() (session.TokenPair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pair, r.stored
}
