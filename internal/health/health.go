// Package health runs named subsystem probes for the health endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the outcome of probing one subsystem.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// Checker probes a subsystem. It must honor ctx cancellation.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand, in registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Checker)}
}

// Register adds a checker under name. Registering the same name twice
// replaces the checker but keeps its original position.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byKey[name] = check
}

// CheckAll probes every registered subsystem and reports the aggregate plus
// per-subsystem results. A panicking checker counts as unhealthy rather than
// taking down the health endpoint.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	checks := make(map[string]Checker, len(r.byKey))
	for k, v := range r.byKey {
		checks[k] = v
	}
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, 0, len(names))

	for _, name := range names {
		st := runCheck(ctx, name, checks[name])
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}

	return healthy, statuses
}

func runCheck(ctx context.Context, name string, check Checker) (st Status) {
	start := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			st = Status{Name: name, Healthy: false, Detail: fmt.Sprintf("checker panic: %v", recovered)}
		}
		st.LatencyMs = time.Since(start).Milliseconds()
	}()
	return check(ctx)
}
