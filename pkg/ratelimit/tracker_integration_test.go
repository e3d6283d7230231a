//go:build integration

package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) *redis.Client {
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

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		container.Terminate(ctx)
	})

	return client
}

func newTestTracker(t *testing.T) *Tracker {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(setupRedis(t), logger)
	tracker.SetThrottleDelay(50 * time.Millisecond)
	return tracker
}

func updateBudget(t *testing.T, tracker *Tracker, remaining, reset string) {
	t.Helper()
	headers := http.Header{}
	headers.Set(HeaderRemaining, remaining)
	headers.Set(HeaderReset, reset)
	if err := tracker.UpdateFromHeaders(context.Background(), headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}
}

func TestTracker_Integration_GetState(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 100 || !state.IsHealthy {
		t.Errorf("default state = %+v, want healthy with 100 remaining", state)
	}

	updateBudget(t, tracker, "75", "120")

	state, err = tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Remaining != 75 {
		t.Errorf("Remaining = %d, want 75", state.Remaining)
	}
	if d := state.TimeUntilReset(); d < 115*time.Second || d > 120*time.Second {
		t.Errorf("TimeUntilReset() = %v, want about 120s", d)
	}
	if state.IsStale(time.Minute) {
		t.Error("freshly written state should not be stale")
	}
}

func TestTracker_Integration_ShouldAllowRequest(t *testing.T) {
	tests := []struct {
		name        string
		remaining   string
		wantAllowed bool
		minDelay    time.Duration
	}{
		{name: "healthy", remaining: "90", wantAllowed: true},
		{name: "warning throttles", remaining: "15", wantAllowed: true, minDelay: 50 * time.Millisecond},
		{name: "critical blocks", remaining: "3", wantAllowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTestTracker(t)
			updateBudget(t, tracker, tt.remaining, "60")

			start := time.Now()
			allowed, err := tracker.ShouldAllowRequest(context.Background())
			if err != nil {
				t.Fatalf("ShouldAllowRequest() error = %v", err)
			}
			if allowed != tt.wantAllowed {
				t.Errorf("ShouldAllowRequest() = %v, want %v", allowed, tt.wantAllowed)
			}
			if elapsed := time.Since(start); elapsed < tt.minDelay {
				t.Errorf("elapsed = %v, want at least %v", elapsed, tt.minDelay)
			}
		})
	}
}

func TestTracker_Integration_ThrottleHonoursContext(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.SetThrottleDelay(time.Hour)
	updateBudget(t, tracker, "10", "60")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	allowed, err := tracker.ShouldAllowRequest(ctx)
	if allowed || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ShouldAllowRequest() = %v, %v; want false, deadline exceeded", allowed, err)
	}
}

func TestTracker_Integration_WindowReset(t *testing.T) {
	tracker := newTestTracker(t)
	updateBudget(t, tracker, "2", "2")

	allowed, err := tracker.ShouldAllowRequest(context.Background())
	if err != nil || allowed {
		t.Fatalf("ShouldAllowRequest() = %v, %v; want blocked", allowed, err)
	}

	time.Sleep(2100 * time.Millisecond)

	allowed, err = tracker.ShouldAllowRequest(context.Background())
	if err != nil || !allowed {
		t.Errorf("ShouldAllowRequest() after reset = %v, %v; want allowed", allowed, err)
	}
}
