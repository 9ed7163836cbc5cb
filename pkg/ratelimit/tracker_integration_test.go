//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a disposable Redis container for the duration of the test.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}
	return client
}

func TestTracker_Integration_SharedBudget(t *testing.T) {
	redisClient := startRedis(t)
	ctx := context.Background()

	// two pollers sharing one Redis see the same window
	first := NewTracker(redisClient, zerolog.Nop())
	second := NewTracker(redisClient, zerolog.Nop())

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != DefaultWindowLimit {
		t.Errorf("Remaining before any response = %d, want %d", state.Remaining, DefaultWindowLimit)
	}

	headers := http.Header{}
	headers.Set(HeaderLimit, "180")
	headers.Set(HeaderRemaining, "42")
	headers.Set(HeaderReset, strconv.FormatInt(time.Now().Add(3*time.Minute).Unix(), 10))

	parsed, ok, err := ParseHeaders(headers, time.Now())
	if err != nil || !ok {
		t.Fatalf("ParseHeaders() = %v, %v", ok, err)
	}
	if err := first.Record(ctx, parsed); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	state, err = second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() after record error = %v", err)
	}
	if state.Limit != 180 || state.Remaining != 42 {
		t.Errorf("shared state = %d/%d, want 42/180", state.Remaining, state.Limit)
	}
	if d := state.TimeUntilReset(); d < 2*time.Minute+50*time.Second || d > 3*time.Minute+5*time.Second {
		t.Errorf("TimeUntilReset = %v, want about 3m", d)
	}
}

func TestTracker_Integration_SpentWindow(t *testing.T) {
	redisClient := startRedis(t)
	ctx := context.Background()
	tracker := NewTracker(redisClient, zerolog.Nop())

	tests := []struct {
		name    string
		resetAt time.Time
		allowed bool
	}{
		{name: "window still running", resetAt: time.Now().Add(time.Minute), allowed: false},
		{name: "window already reset", resetAt: time.Now().Add(-time.Second), allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tracker.Record(ctx, &State{
				Limit:      180,
				Remaining:  0,
				ResetAt:    tt.resetAt,
				LastUpdate: time.Now(),
			})
			if err != nil {
				t.Fatalf("Record() error = %v", err)
			}

			allowed, state, err := tracker.ShouldAllowRequest(ctx)
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v (state %+v)", allowed, tt.allowed, state)
			}
		})
	}
}
