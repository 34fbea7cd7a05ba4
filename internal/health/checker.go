// Package health provides liveness and readiness reports for the bot.
package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ReadinessChecker is implemented by machine backends.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check names reported by Readiness.
const (
	CheckMachine  = "machine"
	CheckJobs     = "jobs"
	CheckShutdown = "shutdown"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Probe returns nil when its component can serve.
type Probe func(ctx context.Context) error

type namedProbe struct {
	name  string
	probe Probe
}

// Checker reports whether the bot can serve commands. Readiness results
// are cached for a second so probes do not turn into cloud API traffic.
type Checker struct {
	probes   []namedProbe
	timeout  time.Duration
	cacheTTL time.Duration

	mu       sync.Mutex
	cached   *Response
	cachedAt time.Time
	draining bool
}

// NewChecker creates a checker whose first probe pings the machine backend.
// A nil backend always reports unhealthy.
func NewChecker(machines ReadinessChecker) *Checker {
	c := &Checker{timeout: 5 * time.Second, cacheTTL: time.Second}
	c.Register(CheckMachine, func(ctx context.Context) error {
		if machines == nil {
			return errNoBackend
		}
		return machines.Ready(ctx)
	})
	return c
}

var errNoBackend = errors.New("machine backend not configured")

// Register adds a readiness probe. Call it before the checker serves.
func (c *Checker) Register(name string, p Probe) {
	c.probes = append(c.probes, namedProbe{name: name, probe: p})
}

// Liveness reports the process is up. It never calls out.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness runs every probe; any failure makes the bot unhealthy.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				CheckShutdown: {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL {
		r := c.cached
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	r := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(c.probes))}
	for _, p := range c.probes {
		if err := p.probe(ctx); err != nil {
			r.Status = StatusUnhealthy
			r.Checks[p.name] = CheckResult{Status: StatusUnhealthy, Message: err.Error()}
			continue
		}
		r.Checks[p.name] = CheckResult{Status: StatusHealthy}
	}

	c.mu.Lock()
	if !c.draining {
		c.cached, c.cachedAt = r, time.Now()
	}
	c.mu.Unlock()
	return r
}

// SetShuttingDown makes readiness fail from now on so load balancers stop
// routing messages here while jobs drain.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draining = true
	c.cached = nil
}
