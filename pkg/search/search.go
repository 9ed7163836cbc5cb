// Package search defines the data model shared by the poller components and the
// Searcher capability that fetches a single page of results from the remote
// search endpoint.
package search

import (
	"context"
	"time"
)

// MaxPageSize is the largest page the remote search endpoint returns.
// A page holding exactly this many items is considered full.
const MaxPageSize = 100

// Criteria are the query parameters sent to the remote search endpoint.
type Criteria struct {
	// Query is the search expression understood by the remote endpoint.
	Query string `json:"query" validate:"required,max=500"`

	// Lang restricts results to a language code (optional).
	Lang string `json:"lang,omitempty" validate:"omitempty,max=8"`

	// ResultType selects "recent", "popular" or "mixed" results (optional).
	ResultType string `json:"resultType,omitempty" validate:"omitempty,oneof=mixed recent popular"`

	// Count is the requested page size. Zero lets the pager pick its page size.
	Count int `json:"count,omitempty" validate:"gte=0"`

	// SinceID is an exclusive lower bound: only items with a greater ID are returned.
	SinceID int64 `json:"sinceId,omitempty" validate:"gte=0"`

	// MaxID is an exclusive upper bound used to page backward through results.
	MaxID int64 `json:"maxId,omitempty" validate:"gte=0"`
}

// Item is a single fetched search result. IDs increase with recency.
type Item struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	User      string `json:"user,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Budget is the rate limit snapshot reported with a page.
type Budget struct {
	// Limit is the number of requests permitted per window (0 if unknown).
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends and Remaining is refilled.
	ResetAt time.Time `json:"reset_at"`
}

// PageResult is the output of one Searcher call.
type PageResult struct {
	// Items are ordered newest first.
	Items  []Item
	Budget Budget
}

// Count returns the number of items in the page.
func (p *PageResult) Count() int {
	return len(p.Items)
}

// Searcher fetches one page of search results.
type Searcher interface {
	Search(ctx context.Context, criteria Criteria) (*PageResult, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, criteria Criteria) (*PageResult, error)

// Search calls f(ctx, criteria).
func (f SearcherFunc) Search(ctx context.Context, criteria Criteria) (*PageResult, error) {
	return f(ctx, criteria)
}
