// Package health aggregates named readiness checks into one system status.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// CheckFunc reports a problem by returning an error.
type CheckFunc func(ctx context.Context) error

// HealthResult represents the result of a health check
type HealthResult struct {
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SystemStatus represents overall system health
type SystemStatus struct {
	OverallStatus  HealthStatus            `json:"status"`
	CheckResults   map[string]HealthResult `json:"checks"`
	CriticalIssues []string                `json:"critical_issues,omitempty"`
	Uptime         time.Duration           `json:"uptime"`
	StartTime      time.Time               `json:"start_time"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// HealthMonitor runs the registered checks on demand.
type HealthMonitor struct {
	logger    *logrus.Logger
	timeout   time.Duration
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]registeredCheck
}

// NewHealthMonitor creates a monitor; timeout bounds every single check.
func NewHealthMonitor(timeout time.Duration, logger *logrus.Logger) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthMonitor{
		logger:    logger,
		timeout:   timeout,
		startTime: time.Now(),
		checks:    make(map[string]registeredCheck),
	}
}

// RegisterCheck adds or replaces a check. A failing critical check makes the system
// unhealthy, any other failure only degrades it.
func (hm *HealthMonitor) RegisterCheck(name string, critical bool, fn CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[name] = registeredCheck{fn: fn, critical: critical}
}

// Check runs every registered check concurrently.
func (hm *HealthMonitor) Check(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make(map[string]registeredCheck, len(hm.checks))
	for name, c := range hm.checks {
		checks[name] = c
	}
	hm.mu.RUnlock()

	status := &SystemStatus{
		OverallStatus: StatusHealthy,
		CheckResults:  make(map[string]HealthResult, len(checks)),
		StartTime:     hm.startTime,
		Uptime:        time.Since(hm.startTime),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := hm.execute(ctx, name, c)
			mu.Lock()
			defer mu.Unlock()
			status.CheckResults[name] = result
			if result.Status != StatusUnhealthy {
				return
			}
			if c.critical {
				status.CriticalIssues = append(status.CriticalIssues, name)
				status.OverallStatus = StatusUnhealthy
			} else if status.OverallStatus == StatusHealthy {
				status.OverallStatus = StatusDegraded
			}
		}()
	}
	wg.Wait()

	sort.Strings(status.CriticalIssues)
	return status
}

func (hm *HealthMonitor) execute(ctx context.Context, name string, c registeredCheck) HealthResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	err := c.fn(checkCtx)
	result := HealthResult{Status: StatusHealthy, Duration: time.Since(start)}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		hm.logger.WithFields(logrus.Fields{
			"check":    name,
			"critical": c.critical,
			"duration": result.Duration,
		}).WithError(err).Warn("Health check failed")
	}
	return result
}
