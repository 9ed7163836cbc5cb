package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/search-poller/pkg/archive"
	"github.com/Sternrassler/search-poller/pkg/metrics"
	"github.com/Sternrassler/search-poller/pkg/pagination"
	"github.com/Sternrassler/search-poller/pkg/search"
	"github.com/Sternrassler/search-poller/pkg/session"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps the size of a criteria request body.
const maxBodyBytes = 1 << 20

// app holds the dependencies of the HTTP front door.
type app struct {
	redis    *redis.Client
	pager    *pagination.Pager
	sessions *session.Registry
	archive  *archive.Writer
	timeout  time.Duration
	logger   zerolog.Logger
}

// routes returns the front door handler with CORS applied to every route.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /test", testHandler)
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(a.redis))
	mux.Handle("GET /metrics", metrics.Handler())

	searchOnce := searchHandler(a.pager, a.timeout)
	mux.HandleFunc("POST /search", searchOnce)
	mux.HandleFunc("POST /searchTweets", searchOnce)

	searchAndSave := searchAndSaveHandler(a.sessions, a.archive, a.timeout)
	mux.HandleFunc("POST /searchAndSave", searchAndSave)
	mux.HandleFunc("POST /searchAndSaveTweets", searchAndSave)

	return withRequestID(a.logger, withCORS(mux))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestID tags every request with an X-Request-ID (generated when the
// caller sends none) and attaches a request-scoped logger to its context.
func withRequestID(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		reqLogger := logger.With().Str("request_id", id).Logger()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(reqLogger.WithContext(r.Context())))

		reqLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// withCORS adds the cross-origin headers to every response and answers
// preflight requests.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		h.Set("Access-Control-Max-Age", "3600")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func testHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "success")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// searchHandler fetches a single page for the posted criteria. The session
// watermark is not consulted or advanced.
func searchHandler(pager *pagination.Pager, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		criteria, limits, err := decodeRequest(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		single := pagination.Limits{MaxPageCount: 1, MinRemainingBudget: limits.MinRemainingBudget}
		result, err := pager.FetchAll(ctx, criteria, single)
		if err != nil {
			logger.Warn().Err(err).Str("query", criteria.Query).Msg("Search failed")
			writeError(w, statusFor(err), err)
			return
		}

		items := result.Items
		if items == nil {
			items = []search.Item{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// searchAndSaveHandler runs the incremental session for the posted criteria
// and archives the new items.
func searchAndSaveHandler(sessions *session.Registry, writer *archive.Writer, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		criteria, limits, err := decodeRequest(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		logger.Info().
			Str("query", criteria.Query).
			Int("max_query_count", limits.MaxPageCount).
			Int("min_remaining_request_count", limits.MinRemainingBudget).
			Msg("Search and save")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		items, err := sessions.Run(ctx, criteria, limits)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("query", criteria.Query).
				Int("partial_items", len(items)).
				Msg("Session run failed - nothing archived")
			writeError(w, statusFor(err), err)
			return
		}

		path, err := writer.Save(criteria.Query, items)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to write archive")
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		writeJSON(w, http.StatusOK, "file written = "+path)
	}
}

// decodeRequest reads the limits from the query string and the criteria from
// the JSON body.
func decodeRequest(w http.ResponseWriter, r *http.Request) (search.Criteria, pagination.Limits, error) {
	var (
		criteria search.Criteria
		limits   pagination.Limits
		err      error
	)

	if limits.MaxPageCount, err = intParam(r, "maxQueryCount"); err != nil {
		return criteria, limits, err
	}
	if limits.MinRemainingBudget, err = intParam(r, "minRemainingRequestCount"); err != nil {
		return criteria, limits, err
	}
	if err := limits.Validate(); err != nil {
		return criteria, limits, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
		return criteria, limits, fmt.Errorf("invalid request body: %w", err)
	}
	criteria.Query = strings.TrimSpace(criteria.Query)
	if err := validateCriteria(criteria); err != nil {
		return criteria, limits, err
	}

	return criteria, limits, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %s", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid query parameter %s: %q is not an integer", name, raw)
	}
	return v, nil
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case search.IsConfigError(err):
		return http.StatusBadRequest
	case search.IsTransportError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
