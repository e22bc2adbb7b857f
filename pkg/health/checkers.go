package health

import (
	"context"
	"time"
)

// Checkable is implemented by every host store.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// StoreChecker turns a Checkable into a Checker with its own timeout.
type StoreChecker struct {
	name    string
	store   Checkable
	timeout time.Duration
}

// NewStoreChecker creates a checker; a zero timeout means 5s.
func NewStoreChecker(name string, store Checkable, timeout time.Duration) *StoreChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &StoreChecker{
		name:    name,
		store:   store,
		timeout: timeout,
	}
}

// Check calls HealthCheck under the checker timeout.
func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.store.HealthCheck(checkCtx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	return result
}

// Name returns the name of the health check
func (c *StoreChecker) Name() string {
	return c.name
}
