package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	searchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_search_retries_total",
		Help: "Total number of search retry attempts by error class",
	}, []string{"error_class"})

	searchRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poller_search_retry_backoff_seconds",
		Help:    "Backoff duration for search retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	searchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poller_search_retry_exhausted_total",
		Help: "Total number of times search retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// Backoff is the retry policy for one class of failure.
type Backoff struct {
	// Attempts is the total number of requests, the first one included.
	Attempts int

	// Initial is the wait before the first retry.
	Initial time.Duration

	// Max caps the wait between two attempts.
	Max time.Duration

	// Factor grows the wait after every retry.
	Factor float64
}

// DefaultBackoff returns the policy used for classes without a dedicated one.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: time.Second, Max: 30 * time.Second, Factor: 2}
}

// BackoffFor returns the retry policy for failures of class.
func BackoffFor(class ErrorClass) Backoff {
	switch class {
	case ErrorClassServer:
		return Backoff{Attempts: 3, Initial: time.Second, Max: 10 * time.Second, Factor: 2}
	case ErrorClassNetwork:
		return Backoff{Attempts: 3, Initial: 2 * time.Second, Max: 30 * time.Second, Factor: 2}
	default:
		return DefaultBackoff()
	}
}

// Delay returns the wait before retry n (1-based), without jitter.
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < n; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	return min(time.Duration(d), b.Max)
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.8 + rand.Float64()*0.4))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retrier re-runs a search attempt while its failures are retryable. The
// policy is chosen by the class of the first failure.
type retrier struct {
	policy   func(ErrorClass) Backoff
	classify func(error) ErrorClass
	wait     func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger
}

func (r *retrier) do(ctx context.Context, attempt func() error) error {
	var policy Backoff

	for n := 1; ; n++ {
		err := attempt()
		if err == nil {
			if n > 1 {
				r.logger.Info().Int("attempt", n).Msg("Search request succeeded after retry")
			}
			return nil
		}

		class := r.classify(err)
		if !shouldRetry(class) {
			return err
		}
		if n == 1 {
			policy = r.policy(class)
		}

		if n >= policy.Attempts {
			searchRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
			r.logger.Warn().
				Str("error_class", string(class)).
				Int("attempts", n).
				Msg("Search retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, n, err)
		}

		d := jitter(policy.Delay(n))
		searchRetriesTotal.WithLabelValues(string(class)).Inc()
		searchRetryBackoffSeconds.WithLabelValues(string(class)).Observe(d.Seconds())

		r.logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", n).
			Dur("backoff", d).
			Msg("Retrying search request after backoff")

		if werr := r.wait(ctx, d); werr != nil {
			r.logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", n).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, werr)
		}
	}
}
