package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/search-poller/pkg/pagination"
	"github.com/Sternrassler/search-poller/pkg/search"
)

func TestRegistry_OneSessionPerSearch(t *testing.T) {
	r := NewRegistry(pagination.NewPager(newFakeRemote(10, 1), pagination.DefaultConfig()), nil)

	a := r.Get(search.Criteria{Query: "golang"})
	b := r.Get(search.Criteria{Query: "golang", Count: 20, SinceID: 3})
	c := r.Get(search.Criteria{Query: "rust"})

	if a != b {
		t.Error("criteria differing only in count and cursors should share a session")
	}
	if a == c {
		t.Error("different queries should get different sessions")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if a.Key() != "poller:watermark:q=golang" {
		t.Errorf("Key() = %q", a.Key())
	}
}

func TestRegistry_IndependentWatermarks(t *testing.T) {
	remote := newFakeRemote(1000, 30)
	store := NewMemoryStore()
	r := NewRegistry(pagination.NewPager(remote, pagination.DefaultConfig()), store)
	ctx := context.Background()

	if _, err := r.Run(ctx, search.Criteria{Query: "golang"}, defaultLimits); err != nil {
		t.Fatalf("Run(golang) error = %v", err)
	}

	// A different search starts without a watermark.
	items, err := r.Run(ctx, search.Criteria{Query: "rust"}, defaultLimits)
	if err != nil {
		t.Fatalf("Run(rust) error = %v", err)
	}
	if len(items) != 30 {
		t.Errorf("rust items = %d, want 30", len(items))
	}

	for _, key := range []string{"poller:watermark:q=golang", "poller:watermark:q=rust"} {
		if got, _ := store.Load(ctx, key); got != 1000 {
			t.Errorf("store[%s] = %d, want 1000", key, got)
		}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedRegistry(searcher search.Searcher, store WatermarkStore) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRegistry(pagination.NewPager(searcher, pagination.DefaultConfig()), store)
	r.now = clock.Now
	return r, clock
}

func TestRegistry_PruneIdleSessions(t *testing.T) {
	store := NewMemoryStore()
	r, clock := newClockedRegistry(newFakeRemote(1000, 30), store)
	ctx := context.Background()

	if _, err := r.Run(ctx, search.Criteria{Query: "golang"}, defaultLimits); err != nil {
		t.Fatalf("Run(golang) error = %v", err)
	}
	clock.Advance(50 * time.Minute)
	r.Get(search.Criteria{Query: "rust"})
	clock.Advance(20 * time.Minute)

	if n := r.Prune(time.Hour); n != 1 {
		t.Errorf("Prune() = %d, want 1 (golang idle for 70m)", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	// The pruned search resumes from the stored watermark.
	items, err := r.Run(ctx, search.Criteria{Query: "golang"}, defaultLimits)
	if err != nil {
		t.Fatalf("Run(golang) after prune error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items after prune = %d, want 0 (watermark reloaded)", len(items))
	}
	if got := r.Get(search.Criteria{Query: "golang"}).Watermark(); got != 1000 {
		t.Errorf("Watermark() = %d, want 1000", got)
	}
}

func TestRegistry_PruneWithoutStore(t *testing.T) {
	r, clock := newClockedRegistry(newFakeRemote(10, 1), nil)

	r.Get(search.Criteria{Query: "golang"})
	clock.Advance(24 * time.Hour)

	if n := r.Prune(time.Minute); n != 0 {
		t.Errorf("Prune() = %d, want 0 without a store", n)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_PruneSkipsRunningSession(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := search.SearcherFunc(func(ctx context.Context, criteria search.Criteria) (*search.PageResult, error) {
		close(entered)
		<-release
		return &search.PageResult{
			Items:  []search.Item{{ID: 5}},
			Budget: search.Budget{Remaining: 100},
		}, nil
	})

	r, clock := newClockedRegistry(blocking, NewMemoryStore())

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), search.Criteria{Query: "golang"}, defaultLimits)
		done <- err
	}()

	<-entered
	clock.Advance(2 * time.Hour)
	if n := r.Prune(time.Hour); n != 0 {
		t.Errorf("Prune() during run = %d, want 0", n)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The finished run counts as the last use.
	if n := r.Prune(time.Hour); n != 0 {
		t.Errorf("Prune() right after run = %d, want 0", n)
	}
	clock.Advance(2 * time.Hour)
	if n := r.Prune(time.Hour); n != 1 {
		t.Errorf("Prune() after idle = %d, want 1", n)
	}
}

func TestRegistry_PruneEveryStopsWithContext(t *testing.T) {
	r := NewRegistry(pagination.NewPager(newFakeRemote(10, 1), pagination.DefaultConfig()), NewMemoryStore())
	r.Get(search.Criteria{Query: "golang"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.PruneEvery(ctx, time.Millisecond, time.Nanosecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("idle session was not pruned")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PruneEvery did not return after cancel")
	}
}
