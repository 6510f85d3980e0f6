package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Pinger is a dependency that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker handles health check endpoints
type Checker struct {
	dependencies map[string]Pinger
	version      string
	startTime    time.Time
	ready        atomic.Bool
}

// NewChecker creates a health checker over the named dependencies. Nil
// dependencies are skipped.
func NewChecker(version string, dependencies map[string]Pinger) *Checker {
	deps := make(map[string]Pinger, len(dependencies))
	for name, dep := range dependencies {
		if dep != nil {
			deps[name] = dep
		}
	}
	return &Checker{
		dependencies: deps,
		version:      version,
		startTime:    time.Now(),
	}
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", c.Health)
	e.GET("/health/live", c.Live)
	e.GET("/health/ready", c.Ready)
}

type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health pings every dependency.
func (c *Checker) Health(ctx echo.Context) error {
	status := c.check(ctx.Request().Context())

	httpStatus := http.StatusOK
	if status.Status == StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return ctx.JSON(httpStatus, status)
}

// Live reports that the process is up.
func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &HealthStatus{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		ReportedAt: time.Now(),
	})
}

// Ready reports unhealthy until SetReady(true) and while any dependency fails.
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, &HealthStatus{
			Status:  StatusUnhealthy,
			Version: c.version,
			Checks: map[string]*CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
			ReportedAt: time.Now(),
		})
	}
	return c.Health(ctx)
}

func (c *Checker) check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(c.dependencies)),
		ReportedAt: time.Now(),
	}

	for name, dep := range c.dependencies {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		start := time.Now()
		err := dep.Ping(pingCtx)
		latency := time.Since(start)
		cancel()

		if err != nil {
			status.Status = StatusUnhealthy
			status.Checks[name] = &CheckResult{Status: StatusUnhealthy, Message: err.Error()}
			continue
		}
		status.Checks[name] = &CheckResult{Status: StatusHealthy, Latency: latency.String()}
	}
	return status
}
