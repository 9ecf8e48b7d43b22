// health.go - Health monitoring for the pool daemon
package main

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// Checker reports a component's state. A nil error is healthy; an error
// wrapped by Degrade marks the component degraded instead of unhealthy.
type Checker func() error

type degradedError struct{ err error }

func (d degradedError) Error() string { return d.err.Error() }
func (d degradedError) Unwrap() error { return d.err }

// Degrade marks err as a degradation rather than a failure.
func Degrade(err error) error {
	if err == nil {
		return nil
	}
	return degradedError{err}
}

// HealthChecker manages health checks for the daemon
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	startTime  time.Time
	version    string
	checkers   map[string]Checker
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		startTime:  time.Now(),
		version:    version,
		checkers:   make(map[string]Checker),
	}
}

// RegisterComponent registers a health check for a component
func (hc *HealthChecker) RegisterComponent(name string, checker Checker) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &ComponentHealth{
		Name:      name,
		Status:    Healthy,
		Message:   "Component registered",
		LastCheck: time.Now(),
	}
	hc.checkers[name] = checker
}

// CheckHealth runs every registered checker and returns the result
func (hc *HealthChecker) CheckHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for name, component := range hc.components {
		checker, ok := hc.checkers[name]
		if !ok {
			continue
		}
		start := time.Now()
		err := checker()
		component.Latency = time.Since(start)
		component.LastCheck = time.Now()

		var d degradedError
		switch {
		case err == nil:
			component.Status, component.Message = Healthy, "OK"
		case errors.As(err, &d):
			component.Status, component.Message = Degraded, err.Error()
		default:
			component.Status, component.Message = Unhealthy, err.Error()
		}
	}
	return hc.snapshot()
}

// GetHealth returns the last computed status without running checks
func (hc *HealthChecker) GetHealth() *SystemHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.snapshot()
}

func (hc *HealthChecker) snapshot() *SystemHealth {
	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for _, c := range hc.components {
		if c.Status == Unhealthy {
			overall = Unhealthy
		} else if c.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
		components = append(components, *c)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// HealthCheckResponse represents the response format for health check endpoints
type HealthCheckResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateHealthResponse creates a standardized health check response
func CreateHealthResponse(health *SystemHealth) *HealthCheckResponse {
	status := "success"
	message := "System is healthy"

	switch health.OverallStatus {
	case Unhealthy:
		status, message = "error", "System is unhealthy"
	case Degraded:
		status, message = "warning", "System is degraded"
	}

	return &HealthCheckResponse{
		Status:  status,
		Message: message,
		Data:    health,
	}
}
