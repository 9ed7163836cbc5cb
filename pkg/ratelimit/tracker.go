package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Rate limit response headers.
const (
	HeaderLimit     = "X-Rate-Limit-Limit"
	HeaderRemaining = "X-Rate-Limit-Remaining"
	HeaderReset     = "X-Rate-Limit-Reset"
)

// Prometheus metrics for budget tracking.
var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poller_budget_remaining",
		Help: "Number of requests remaining in the current search rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poller_rate_limit_blocks_total",
		Help: "Total number of requests blocked because the rate limit window was spent",
	})
)

// Tracker records the remote request budget and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// ParseHeaders extracts a budget snapshot from rate limit headers.
// ok is false when the response carries no budget headers at all.
func ParseHeaders(headers http.Header, now time.Time) (state *State, ok bool, err error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil, false, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return nil, false, fmt.Errorf("%s header missing", HeaderReset)
	}

	resetUnix, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	limit := 0
	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return nil, false, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	return &State{
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(resetUnix, 0),
		LastUpdate: now,
	}, true, nil
}

// GetState retrieves the current budget state from Redis.
// Returns DefaultState if nothing has been recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	values, err := t.redis.MGet(ctx, RedisKeyLimit, RedisKeyRemaining, RedisKeyResetTimestamp, RedisKeyLastUpdate).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if values[1] == nil {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default state")
		return DefaultState(time.Now()), nil
	}

	limit, err := intValue(values[0])
	if err != nil {
		return nil, fmt.Errorf("parse limit: %w", err)
	}
	remaining, err := intValue(values[1])
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}
	resetUnix, err := intValue(values[2])
	if err != nil {
		return nil, fmt.Errorf("parse reset timestamp: %w", err)
	}

	var lastUpdate time.Time
	if s, ok := values[3].(string); ok && s != "" {
		if err := json.Unmarshal([]byte(s), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return &State{
		Limit:      limit,
		Remaining:  remaining,
		ResetAt:    time.Unix(int64(resetUnix), 0),
		LastUpdate: lastUpdate,
	}, nil
}

// Record stores a budget snapshot in Redis.
func (t *Tracker) Record(ctx context.Context, state *State) error {
	if state == nil {
		return errors.New("rate limit state cannot be nil")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyLimit, state.Limit, 0)
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	budgetRemaining.Set(float64(state.Remaining))

	logEvent := t.logger.Info()
	msg := "Search rate limit state updated"
	if state.IsExhausted() {
		logEvent = t.logger.Error()
		msg = "Search rate limit window spent - requests will be blocked"
	} else if state.IsLow(LowBudgetThreshold) {
		logEvent = t.logger.Warn()
		msg = "Search rate limit budget low"
	}
	logEvent.
		Int("limit", state.Limit).
		Int("remaining", state.Remaining).
		Time("reset_at", state.ResetAt).
		Msg(msg)

	return nil
}

// ShouldAllowRequest reports whether a request may be sent.
// It returns false while the window is known to be spent.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, *State, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, nil, err
	}

	if state.IsExhausted() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Search rate limit window spent - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, state, nil
	}

	return true, state, nil
}

func intValue(v interface{}) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.Atoi(val)
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
