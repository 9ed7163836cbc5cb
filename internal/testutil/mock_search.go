// Package testutil provides testing utilities for the search poller.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/search-poller/pkg/search"
)

// MockSearch is a configurable mock of the remote search API for testing.
// It serves GET /search over a fixed dataset, honoring count, since_id and
// max_id as exclusive bounds, and reports a request budget in the
// X-Rate-Limit-* headers.
type MockSearch struct {
	server *httptest.Server
	mu     sync.Mutex

	items     []search.Item // newest first
	pageSize  int
	limit     int
	remaining int
	resetAt   time.Time
	decrement bool
	failures  []int

	// Tracking
	RequestCount int
	LastQuery    url.Values
	LastHeader   http.Header
	QueryHistory []url.Values
}

// NewMockSearch creates a mock search server.
func NewMockSearch() *MockSearch {
	mock := &MockSearch{
		pageSize:  search.MaxPageSize,
		limit:     180,
		remaining: 180,
		resetAt:   time.Now().Add(15 * time.Minute),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/search", mock.handleSearch)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the mock server URL.
func (m *MockSearch) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSearch) Close() {
	m.server.Close()
}

// SetItems replaces the dataset. Items must be ordered newest first.
func (m *MockSearch) SetItems(items []search.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
}

// AddItems prepends newer items to the dataset.
func (m *MockSearch) AddItems(items ...search.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(append([]search.Item{}, items...), m.items...)
}

// SetBudget sets the reported budget. With decrement, every request
// consumes one unit of the remaining budget.
func (m *MockSearch) SetBudget(remaining int, decrement bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.decrement = decrement
}

// FailNext makes the next len(statuses) requests answer with the given HTTP statuses.
func (m *MockSearch) FailNext(statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, statuses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSearch) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetLastQuery returns the query parameters of the latest request.
func (m *MockSearch) GetLastQuery() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastQuery
}

// GetLastHeader returns the request headers of the latest request.
func (m *MockSearch) GetLastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastHeader
}

// GetQueryHistory returns the query parameters of every request in order.
func (m *MockSearch) GetQueryHistory() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.QueryHistory...)
}

func (m *MockSearch) handleSearch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RequestCount++
	m.LastQuery = r.URL.Query()
	m.LastHeader = r.Header.Clone()
	m.QueryHistory = append(m.QueryHistory, r.URL.Query())

	if m.decrement && m.remaining > 0 {
		m.remaining--
	}
	w.Header().Set("X-Rate-Limit-Limit", strconv.Itoa(m.limit))
	w.Header().Set("X-Rate-Limit-Remaining", strconv.Itoa(m.remaining))
	w.Header().Set("X-Rate-Limit-Reset", strconv.FormatInt(m.resetAt.Unix(), 10))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if len(m.failures) > 0 {
		status := m.failures[0]
		m.failures = m.failures[1:]
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"errors":[{"message":"%s"}]}`, http.StatusText(status))
		return
	}

	q := r.URL.Query()
	count := m.pageSize
	if c, err := strconv.Atoi(q.Get("count")); err == nil && c > 0 && c < count {
		count = c
	}
	sinceID, _ := strconv.ParseInt(q.Get("since_id"), 10, 64)
	maxID, _ := strconv.ParseInt(q.Get("max_id"), 10, 64)

	type user struct {
		ScreenName string `json:"screen_name"`
	}
	type status struct {
		ID        int64  `json:"id"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at,omitempty"`
		User      user   `json:"user"`
	}

	statuses := make([]status, 0, count)
	for _, item := range m.items {
		if len(statuses) == count {
			break
		}
		if maxID > 0 && item.ID >= maxID {
			continue
		}
		if sinceID > 0 && item.ID <= sinceID {
			break
		}
		statuses = append(statuses, status{
			ID:        item.ID,
			Text:      item.Text,
			CreatedAt: item.CreatedAt,
			User:      user{ScreenName: item.User},
		})
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"statuses": statuses,
		"search_metadata": map[string]interface{}{
			"count":    count,
			"since_id": sinceID,
			"max_id":   maxID,
		},
	})
}

// Items builds a dataset of n items with IDs descending from newest.
func Items(newest int64, n int) []search.Item {
	items := make([]search.Item, 0, n)
	for i := 0; i < n; i++ {
		id := newest - int64(i)
		items = append(items, search.Item{
			ID:   id,
			Text: fmt.Sprintf("item %d", id),
			User: "poller",
		})
	}
	return items
}
