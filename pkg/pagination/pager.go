package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/search-poller/pkg/logging"
	"github.com/Sternrassler/search-poller/pkg/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the page loop.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poller_pages_fetched_total",
		Help: "Total number of non-empty search pages fetched by the pager",
	})

	itemsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poller_items_fetched_total",
		Help: "Total number of search items aggregated by the pager",
	})

	pagerStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_pager_stops_total",
		Help: "Total number of page loop terminations by reason",
	}, []string{"reason"})
)

// StopReason tells why a page loop ended.
type StopReason string

const (
	// StopExhausted means the endpoint returned an empty page.
	StopExhausted StopReason = "exhausted"

	// StopPartialPage means a page held fewer items than the page size.
	StopPartialPage StopReason = "partial_page"

	// StopBudget means the remaining budget fell to or below the threshold.
	StopBudget StopReason = "budget"

	// StopPageCap means the maximum page count was reached.
	StopPageCap StopReason = "page_cap"

	// StopTransportError means a page fetch failed.
	StopTransportError StopReason = "transport_error"
)

// Config holds pager configuration.
type Config struct {
	// PageSize is the number of items in a full page.
	// Capped at search.MaxPageSize.
	PageSize int
}

// DefaultConfig returns the default pager configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: search.MaxPageSize,
	}
}

// Limits are the caller-supplied stopping thresholds of one run.
type Limits struct {
	// MaxPageCount caps the number of non-empty pages fetched (>= 1).
	MaxPageCount int

	// MinRemainingBudget stops the loop once the reported budget is at or
	// below this value (>= 0).
	MinRemainingBudget int
}

// Validate checks the thresholds. It returns a *search.ConfigError.
func (l Limits) Validate() error {
	if l.MaxPageCount < 1 {
		return &search.ConfigError{
			Field:   "max page count",
			Message: fmt.Sprintf("must be >= 1 (got %d)", l.MaxPageCount),
		}
	}
	if l.MinRemainingBudget < 0 {
		return &search.ConfigError{
			Field:   "min remaining budget",
			Message: fmt.Sprintf("must be >= 0 (got %d)", l.MinRemainingBudget),
		}
	}
	return nil
}

// Result is the outcome of one page loop.
type Result struct {
	// Items are all aggregated items, newest first.
	Items []search.Item

	// Pages is the number of non-empty pages fetched.
	Pages int

	// LastID is the ID of the oldest item of the final page (the paging cursor).
	LastID int64

	// Stop tells why the loop ended.
	Stop StopReason

	// Budget is the last budget snapshot reported by the endpoint.
	Budget search.Budget
}

// NewestID returns the ID of the first (newest) aggregated item, or 0.
func (r *Result) NewestID() int64 {
	if r == nil || len(r.Items) == 0 {
		return 0
	}
	return r.Items[0].ID
}

// Pager drives repeated calls to a search.Searcher.
type Pager struct {
	searcher search.Searcher
	config   Config
	logger   zerolog.Logger
}

// NewPager creates a new pager.
func NewPager(searcher search.Searcher, config Config) *Pager {
	if config.PageSize <= 0 || config.PageSize > search.MaxPageSize {
		config.PageSize = search.MaxPageSize
	}

	return &Pager{
		searcher: searcher,
		config:   config,
		logger:   logging.NewLogger("pager"),
	}
}

// PageSize returns the configured full page size.
func (p *Pager) PageSize() int {
	return p.config.PageSize
}

// FetchAll walks backward through the results for criteria until a stop
// condition holds. criteria is passed by value; only the local copy's MaxID
// moves between pages.
//
// Invalid limits return a *search.ConfigError before any remote call. A failed
// page fetch returns the partial Result and a *search.TransportError.
func (p *Pager) FetchAll(ctx context.Context, criteria search.Criteria, limits Limits) (*Result, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	// A smaller requested count becomes the page size for this run.
	pageSize := p.config.PageSize
	if criteria.Count > 0 && criteria.Count < pageSize {
		pageSize = criteria.Count
	}
	criteria.Count = pageSize

	start := time.Now()
	result := &Result{}

	for {
		page, err := p.searcher.Search(ctx, criteria)
		if err != nil {
			result.Stop = StopTransportError
			pagerStopsTotal.WithLabelValues(string(result.Stop)).Inc()

			p.logger.Warn().
				Err(err).
				Int("page", result.Pages+1).
				Int("items", len(result.Items)).
				Msg("Page fetch failed - returning partial results")

			return result, &search.TransportError{Page: result.Pages + 1, Err: err}
		}

		if page == nil || page.Count() == 0 {
			result.Stop = StopExhausted
			break
		}

		result.Pages++
		result.Budget = page.Budget
		result.Items = append(result.Items, page.Items...)

		pagesFetchedTotal.Inc()
		itemsFetchedTotal.Add(float64(page.Count()))

		result.LastID = page.Items[page.Count()-1].ID
		criteria.MaxID = result.LastID

		p.logger.Debug().
			Int("page", result.Pages).
			Int("count", page.Count()).
			Int64("max_id", criteria.MaxID).
			Int("budget_remaining", page.Budget.Remaining).
			Msg("Fetched page")

		if stop := stopReason(page, pageSize, result.Pages, limits); stop != "" {
			result.Stop = stop
			break
		}
	}

	pagerStopsTotal.WithLabelValues(string(result.Stop)).Inc()

	p.logger.Info().
		Int("pages", result.Pages).
		Int("items", len(result.Items)).
		Str("stop", string(result.Stop)).
		Int("budget_remaining", result.Budget.Remaining).
		Dur("duration", time.Since(start)).
		Msg("Page loop complete")

	return result, nil
}

// stopReason returns the first continuation condition that fails after a
// non-empty page, or "" if the loop may continue.
func stopReason(page *search.PageResult, pageSize, pages int, limits Limits) StopReason {
	switch {
	case page.Count() < pageSize:
		return StopPartialPage
	case page.Budget.Remaining <= limits.MinRemainingBudget:
		return StopBudget
	case pages >= limits.MaxPageCount:
		return StopPageCap
	default:
		return ""
	}
}
