package session

import (
	"context"
	"sync"
	"time"

	"debugarena/internal/assignment"
	"debugarena/internal/domain"
	"debugarena/internal/errors"
	"debugarena/internal/event"
	"debugarena/internal/verify"
)

// Loader resolves an assignment into a runnable session.
// *assignment.Service satisfies it.
type Loader interface {
	Load(ctx context.Context, req assignment.LoadRequest) (*assignment.LoadedSession, error)
}

type RegistryConfig struct {
	Loader   Loader
	Store    Store
	Verifier *verify.Verifier
	Cheats   CheatLog
	EventBus *event.Bus

	Clock     func() time.Time
	NewTicker func(d time.Duration) Ticker
}

// Registry owns the live engines, one per assignment. A learner reconnecting
// mid-quiz gets their running engine back instead of a reload.
type Registry struct {
	c RegistryConfig

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewRegistry(c RegistryConfig) *Registry {
	return &Registry{
		c:       c,
		engines: make(map[string]*Engine),
	}
}

// Attach returns the running engine for an assignment, loading and starting
// one if needed. Ownership is enforced both here (for cached engines) and by
// the loader (for fresh ones).
func (r *Registry) Attach(ctx context.Context, assignmentID string, id domain.Identity) (*Engine, error) {
	if eng, err := r.cached(assignmentID, id); eng != nil || err != nil {
		if err != nil {
			return nil, err
		}
		// A completion that previously failed to persist gets retried here.
		if eng.PendingCompletion() {
			if err := eng.Start(ctx); err != nil {
				return nil, err
			}
		}
		return eng, nil
	}

	loaded, err := r.c.Loader.Load(ctx, assignment.LoadRequest{
		AssignmentID: assignmentID,
		Identity:     id,
	})
	if err != nil {
		return nil, err
	}

	eng := New(Config{
		Loaded:    loaded,
		Store:     r.c.Store,
		Verifier:  r.c.Verifier,
		Cheats:    r.c.Cheats,
		EventBus:  r.c.EventBus,
		Clock:     r.c.Clock,
		NewTicker: r.c.NewTicker,
	})

	r.mu.Lock()
	if existing, ok := r.engines[assignmentID]; ok {
		// Lost a race against a concurrent attach; the first engine owns the
		// timer, ours never started one.
		r.mu.Unlock()
		return existing, nil
	}
	r.engines[assignmentID] = eng
	r.mu.Unlock()

	if err := eng.Start(ctx); err != nil {
		r.Remove(assignmentID)
		return nil, err
	}

	return eng, nil
}

// Get returns the running engine for an assignment, or NotFound if none is
// attached.
func (r *Registry) Get(assignmentID string, id domain.Identity) (*Engine, error) {
	eng, err := r.cached(assignmentID, id)
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active session for assignment %s", assignmentID))
	}
	return eng, nil
}

func (r *Registry) cached(assignmentID string, id domain.Identity) (*Engine, error) {
	r.mu.Lock()
	eng, ok := r.engines[assignmentID]
	r.mu.Unlock()

	if !ok {
		return nil, nil
	}
	if eng.LearnerID() != id.UserID {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("assignment not found: %s", assignmentID))
	}
	return eng, nil
}

// Remove evicts and disposes an engine.
func (r *Registry) Remove(assignmentID string) {
	r.mu.Lock()
	eng, ok := r.engines[assignmentID]
	delete(r.engines, assignmentID)
	r.mu.Unlock()

	if ok {
		eng.Close()
	}
}
