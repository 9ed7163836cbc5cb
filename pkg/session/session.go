// Package session owns the incremental-search watermark: the ID of the newest
// item seen so far for a search. Each run only asks for items newer than the
// watermark and advances it after a successful page loop.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/Sternrassler/search-poller/pkg/logging"
	"github.com/Sternrassler/search-poller/pkg/pagination"
	"github.com/Sternrassler/search-poller/pkg/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for session runs.
var (
	sessionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_session_runs_total",
		Help: "Total session runs by outcome (new_items, no_new_items, error)",
	}, []string{"outcome"})

	watermarkPersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poller_watermark_persist_errors_total",
		Help: "Total failures to persist an advanced watermark",
	})
)

// Options configures a Session.
type Options struct {
	// Key identifies the watermark in Store. An empty key disables persistence.
	Key string

	// Store persists the watermark. Nil keeps it in the session only.
	Store WatermarkStore

	// Watermark seeds the initial watermark (0 means none).
	Watermark int64
}

// Session runs repeated incremental searches and tracks their watermark.
// Run is safe for concurrent use; runs of one session are serialized.
type Session struct {
	mu         sync.Mutex
	pager      *pagination.Pager
	store      WatermarkStore
	key        string
	loaded     bool
	lastSeenID int64
	logger     zerolog.Logger
}

// New creates a session on top of pager.
func New(pager *pagination.Pager, opts Options) *Session {
	s := &Session{
		pager:      pager,
		store:      opts.Store,
		key:        opts.Key,
		lastSeenID: opts.Watermark,
		logger:     logging.NewLogger("session").With().Str("key", opts.Key).Logger(),
	}
	if s.store == nil || s.key == "" {
		s.store = nil
		s.loaded = true
	}
	return s
}

// Key returns the session's store key.
func (s *Session) Key() string {
	return s.key
}

// Watermark returns the current watermark (0 if none).
func (s *Session) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenID
}

// Run fetches the items newer than the watermark, newest first.
//
// A caller-supplied criteria.SinceID is kept when it is above the watermark.
// On error the watermark is unchanged and the partial items fetched before the
// failure are returned together with the error.
func (s *Session) Run(ctx context.Context, criteria search.Criteria, limits pagination.Limits) ([]search.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		stored, err := s.store.Load(ctx, s.key)
		if err != nil {
			sessionRunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("load watermark: %w", err)
		}
		s.lastSeenID = max(s.lastSeenID, stored)
		s.loaded = true

		s.logger.Debug().Int64("watermark", s.lastSeenID).Msg("Loaded watermark")
	}

	if s.lastSeenID != 0 {
		criteria.SinceID = max(criteria.SinceID, s.lastSeenID)
	}

	result, err := s.pager.FetchAll(ctx, criteria, limits)
	if err != nil {
		sessionRunsTotal.WithLabelValues("error").Inc()
		var partial []search.Item
		if result != nil {
			partial = newerThan(result.Items, criteria.SinceID)
		}
		s.logger.Warn().
			Err(err).
			Int("partial_items", len(partial)).
			Int64("watermark", s.lastSeenID).
			Msg("Session run failed - watermark unchanged")
		return partial, err
	}

	items := newerThan(result.Items, criteria.SinceID)
	if len(items) == 0 {
		sessionRunsTotal.WithLabelValues("no_new_items").Inc()
		s.logger.Info().Int64("watermark", s.lastSeenID).Msg("No new items")
		return items, nil
	}

	sessionRunsTotal.WithLabelValues("new_items").Inc()

	newest := items[0].ID
	if newest > s.lastSeenID {
		previous := s.lastSeenID
		s.lastSeenID = newest
		s.persist(ctx)

		s.logger.Info().
			Int("items", len(items)).
			Int64("previous_watermark", previous).
			Int64("watermark", s.lastSeenID).
			Msg("Watermark advanced")
	}

	return items, nil
}

// persist saves the watermark. Failures are logged; the items are already fetched.
func (s *Session) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, s.key, s.lastSeenID); err != nil {
		watermarkPersistErrors.Inc()
		s.logger.Warn().
			Err(err).
			Int64("watermark", s.lastSeenID).
			Msg("Failed to persist watermark")
	}
}

// newerThan returns the items above floor. The remote is asked for since_id
// but may ignore it.
func newerThan(items []search.Item, floor int64) []search.Item {
	kept := make([]search.Item, 0, len(items))
	for _, item := range items {
		if item.ID > floor {
			kept = append(kept, item)
		}
	}
	return kept
}
