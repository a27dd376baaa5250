package inferhub

import (
	"sort"
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes how a provider has been answering lately.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (h HealthState) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// ProviderHealth is a point-in-time view of one provider.
type ProviderHealth struct {
	Provider    string      `json:"provider"`
	State       HealthState `json:"state"`
	Failures    int         `json:"recentFailures"`
	LastError   string      `json:"lastError,omitempty"`
	LastFailure time.Time   `json:"lastFailure,omitempty"`
}

// HealthTracker follows per-provider dispatch outcomes with a circuit breaker:
// three failures within five minutes mark a provider unhealthy, and after
// thirty seconds it is reported half-open until the next outcome settles it.
// It is observational; routing never skips a provider because of it.
type HealthTracker struct {
	mu        sync.Mutex
	providers map[string]*providerHealth
	now       func() time.Time
}

type providerHealth struct {
	state       HealthState
	failures    []time.Time // sliding window
	unhealthyAt time.Time
	lastError   string
}

// NewHealthTracker creates a HealthTracker. A nil clock means time.Now.
func NewHealthTracker(now func() time.Time) *HealthTracker {
	if now == nil {
		now = time.Now
	}
	return &HealthTracker{
		providers: make(map[string]*providerHealth),
		now:       now,
	}
}

// State returns the current state of provider.
func (h *HealthTracker) State(provider string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[provider]
	if !ok {
		return HealthHealthy
	}
	h.advance(ph)
	return ph.state
}

// RecordSuccess closes the breaker for provider.
func (h *HealthTracker) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.get(provider)
	ph.state = HealthHealthy
	ph.failures = ph.failures[:0]
}

// RecordFailure adds a failure to provider's window.
func (h *HealthTracker) RecordFailure(provider string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.get(provider)
	if err != nil {
		ph.lastError = err.Error()
	}
	h.advance(ph)

	now := h.now()
	if ph.state == HealthHalfOpen {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
		ph.failures = append(ph.failures[:0], now)
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := ph.failures[:0]
	for _, t := range ph.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	ph.failures = append(valid, now)

	if ph.state == HealthHealthy && len(ph.failures) >= healthFailureThreshold {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
	}
}

// Snapshot returns every provider seen so far, sorted by name.
func (h *HealthTracker) Snapshot() []ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ProviderHealth, 0, len(h.providers))
	for name, ph := range h.providers {
		h.advance(ph)
		v := ProviderHealth{
			Provider:  name,
			State:     ph.state,
			Failures:  len(ph.failures),
			LastError: ph.lastError,
		}
		if n := len(ph.failures); n > 0 {
			v.LastFailure = ph.failures[n-1]
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

func (h *HealthTracker) advance(ph *providerHealth) {
	if ph.state == HealthUnhealthy && h.now().Sub(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
	}
}

func (h *HealthTracker) get(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{state: HealthHealthy}
		h.providers[provider] = ph
	}
	return ph
}
