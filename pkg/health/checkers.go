package health

import (
	"context"
	"time"
)

// Checkable is implemented by backends and the audit journal.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker checks any Checkable within a timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.adapter.HealthCheck(checkCtx)
	duration := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:      c.name,
			Status:    StatusUnhealthy,
			Error:     err.Error(),
			Timestamp: time.Now(),
			Duration:  duration,
		}
	}
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  duration,
	}
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// ActivityChecker reports whether a remediation action is running. It is
// always healthy; the in-flight flag is exposed as metadata.
type ActivityChecker struct {
	name     string
	inFlight func() bool
}

// NewActivityChecker creates a checker reading the in-flight flag.
func NewActivityChecker(name string, inFlight func() bool) *ActivityChecker {
	return &ActivityChecker{name: name, inFlight: inFlight}
}

// Check reports the current activity.
func (c *ActivityChecker) Check(context.Context) CheckResult {
	busy := c.inFlight()
	message := "idle"
	if busy {
		message = "action in flight"
	}
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"in_flight": busy},
	}
}

// Name returns the name of the health check
func (c *ActivityChecker) Name() string {
	return c.name
}
