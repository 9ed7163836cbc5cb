package session

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/search-poller/pkg/logging"
	"github.com/Sternrassler/search-poller/pkg/pagination"
	"github.com/Sternrassler/search-poller/pkg/search"
	"github.com/rs/zerolog"
)

// entry tracks the use of one registered session.
type entry struct {
	session  *Session
	lastUsed time.Time
	running  int
}

// Registry owns one Session per search, keyed by KeyFor.
type Registry struct {
	mu       sync.Mutex
	pager    *pagination.Pager
	store    WatermarkStore
	sessions map[string]*entry
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRegistry creates a registry whose sessions share pager and store.
// store may be nil.
func NewRegistry(pager *pagination.Pager, store WatermarkStore) *Registry {
	return &Registry{
		pager:    pager,
		store:    store,
		sessions: make(map[string]*entry),
		now:      time.Now,
		logger:   logging.NewLogger("session"),
	}
}

// lookup returns the entry for key, creating it on first use. r.mu must be held.
func (r *Registry) lookup(key string) *entry {
	e, ok := r.sessions[key]
	if !ok {
		e = &entry{session: New(r.pager, Options{Key: key, Store: r.store})}
		r.sessions[key] = e
	}
	e.lastUsed = r.now()
	return e
}

// Get returns the session for criteria, creating it on first use.
func (r *Registry) Get(criteria search.Criteria) *Session {
	key := KeyFor(criteria)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(key).session
}

// Run runs the session for criteria. A running session is never pruned.
func (r *Registry) Run(ctx context.Context, criteria search.Criteria, limits pagination.Limits) ([]search.Item, error) {
	key := KeyFor(criteria)

	r.mu.Lock()
	e := r.lookup(key)
	e.running++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		e.running--
		e.lastUsed = r.now()
		r.mu.Unlock()
	}()

	return e.session.Run(ctx, criteria, limits)
}

// Prune drops sessions that are not running and were last used more than idle
// ago, and returns how many were dropped. Their watermarks live on in the
// store and are reloaded on the next run. Without a store nothing is pruned.
func (r *Registry) Prune(idle time.Duration) int {
	if r.store == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	pruned := 0
	for key, e := range r.sessions {
		if e.running == 0 && e.lastUsed.Before(cutoff) {
			delete(r.sessions, key)
			pruned++
		}
	}
	return pruned
}

// PruneEvery calls Prune(idle) every interval until ctx is done.
func (r *Registry) PruneEvery(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Prune(idle); n > 0 {
				r.logger.Debug().Int("pruned", n).Int("sessions", r.Len()).Msg("Pruned idle sessions")
			}
		}
	}
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
