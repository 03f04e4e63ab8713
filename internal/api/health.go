// health.go - Component health checks served on /healthz.

package api

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus is the health of a component or of the whole host.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the last check result of one component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth aggregates all components.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
	Uptime     time.Duration     `json:"uptime"`
	Version    string            `json:"version"`
}

// Checker probes a component. A non-nil error marks it unhealthy.
type Checker func() error

// HealthChecker runs registered checkers.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*ComponentHealth
	checkers   map[string]Checker
	started    time.Time
	version    string
}

// NewHealthChecker returns a checker reporting version.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*ComponentHealth),
		checkers:   make(map[string]Checker),
		started:    time.Now(),
		version:    version,
	}
}

// Register adds a component. A nil checker leaves the status to Update.
func (h *HealthChecker) Register(name string, check Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = &ComponentHealth{Name: name, Status: Healthy, Message: "registered", LastCheck: time.Now()}
	if check != nil {
		h.checkers[name] = check
	}
}

// Update sets the status of a component without a checker.
func (h *HealthChecker) Update(name string, status HealthStatus, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.components[name]; ok {
		c.Status = status
		c.Message = message
		c.LastCheck = time.Now()
	}
}

// Check runs every checker and returns the aggregate, components in name order.
func (h *HealthChecker) Check() *SystemHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	overall := Healthy
	names := make([]string, 0, len(h.components))
	for name := range h.components {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		c := h.components[name]
		if check, ok := h.checkers[name]; ok {
			start := time.Now()
			err := check()
			c.Latency = time.Since(start)
			c.LastCheck = time.Now()
			if err != nil {
				c.Status = Unhealthy
				c.Message = err.Error()
			} else {
				c.Status = Healthy
				c.Message = "ok"
			}
		}
		switch {
		case c.Status == Unhealthy:
			overall = Unhealthy
		case c.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		out = append(out, *c)
	}

	return &SystemHealth{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: out,
		Uptime:     time.Since(h.started),
		Version:    h.version,
	}
}
