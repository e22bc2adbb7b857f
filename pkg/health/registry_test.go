package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type checkableFunc func(ctx context.Context) error

func (f checkableFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func healthy() Checkable {
	return checkableFunc(func(context.Context) error { return nil })
}

func failing(msg string) Checkable {
	return checkableFunc(func(context.Context) error { return errors.New(msg) })
}

func TestRegistry_AllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(NewStoreChecker("file", healthy(), 0))
	r.Register(NewStoreChecker("metrics", healthy(), time.Second))

	result := r.Check(context.Background())
	if !result.IsHealthy() {
		t.Fatalf("expected healthy, got %+v", result)
	}
	if len(result.Checks) != 2 || result.Checks[0].Name != "file" || result.Checks[1].Name != "metrics" {
		t.Fatalf("checks not sorted by name: %+v", result.Checks)
	}
}

func TestRegistry_OneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register(NewStoreChecker("redis", failing("dial tcp: connection refused"), 0))
	r.Register(NewStoreChecker("file", healthy(), 0))

	result := r.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}
	for _, check := range result.Checks {
		if check.Name == "redis" && check.Error != "dial tcp: connection refused" {
			t.Errorf("redis error = %q", check.Error)
		}
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(NewStoreChecker("store", failing("down"), 0))
	r.Register(NewStoreChecker("store", healthy(), 0))

	result := r.Check(context.Background())
	if !result.IsHealthy() || len(result.Checks) != 1 {
		t.Fatalf("expected single healthy check, got %+v", result)
	}
}

func TestRegistry_CheckOne(t *testing.T) {
	r := NewRegistry()
	r.Register(NewStoreChecker("store", healthy(), 0))

	if _, err := r.CheckOne(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown check")
	}
	result, err := r.CheckOne(context.Background(), "store")
	if err != nil || result.Status != StatusHealthy || result.Message != "OK" {
		t.Fatalf("CheckOne() = %+v, %v", result, err)
	}
}

func TestStoreChecker_Timeout(t *testing.T) {
	slow := checkableFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := NewStoreChecker("slow", slow, 20*time.Millisecond)

	result := c.Check(context.Background())
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy on timeout, got %s", result.Status)
	}
	if result.Error != context.DeadlineExceeded.Error() {
		t.Errorf("error = %q", result.Error)
	}
}
