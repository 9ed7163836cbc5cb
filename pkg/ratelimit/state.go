// Package ratelimit tracks the request budget reported by the remote search
// endpoint and gates requests once the current window is spent.
// It reads the X-Rate-Limit-Limit, X-Rate-Limit-Remaining and
// X-Rate-Limit-Reset headers and shares the latest snapshot through Redis.
package ratelimit

import (
	"time"

	"github.com/Sternrassler/search-poller/pkg/search"
)

// Redis keys for budget state storage.
const (
	RedisKeyLimit          = "poller:rate_limit:limit"
	RedisKeyRemaining      = "poller:rate_limit:remaining"
	RedisKeyResetTimestamp = "poller:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "poller:rate_limit:last_update"
)

// Defaults used before the remote endpoint has reported a budget.
const (
	// DefaultWindowLimit is the request budget of one search window.
	DefaultWindowLimit = 180

	// DefaultWindow is the length of one rate limit window.
	DefaultWindow = 15 * time.Minute

	// LowBudgetThreshold marks the budget as low; requests are still allowed.
	LowBudgetThreshold = 10
)

// State represents the latest known request budget.
// This state is shared across all client instances via Redis.
type State struct {
	// Limit is the window size reported by X-Rate-Limit-Limit.
	Limit int `json:"limit"`

	// Remaining is the number of requests left, from X-Rate-Limit-Remaining.
	Remaining int `json:"remaining"`

	// ResetAt is the window end, from X-Rate-Limit-Reset (unix seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last recorded.
	LastUpdate time.Time `json:"last_update"`
}

// DefaultState returns the state assumed when nothing has been recorded yet.
func DefaultState(now time.Time) *State {
	return &State{
		Limit:      DefaultWindowLimit,
		Remaining:  DefaultWindowLimit,
		ResetAt:    now.Add(DefaultWindow),
		LastUpdate: now,
	}
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsExhausted returns true if no requests are left and the window has not reset yet.
func (s *State) IsExhausted() bool {
	return s.Remaining <= 0 && s.TimeUntilReset() > 0
}

// IsLow returns true if the remaining budget is at or below threshold.
func (s *State) IsLow(threshold int) bool {
	return s.Remaining <= threshold
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// Budget converts the state into the snapshot attached to a page.
func (s *State) Budget() search.Budget {
	return search.Budget{
		Limit:     s.Limit,
		Remaining: s.Remaining,
		ResetAt:   s.ResetAt,
	}
}
