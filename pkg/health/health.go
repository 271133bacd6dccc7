// Package health tracks the reachability of each configured LDAP host.
//
// The directory client reports the outcome of every call; only transport
// failures count against a host, so a missing entry or a malformed name
// keeps it healthy.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ldapfs/ldapfs/pkg/errors"
)

// HealthState represents the health of one host
type HealthState int

const (
	// StateHealthy means recent calls to the host succeeded
	StateHealthy HealthState = iota

	// StateDegraded means the host failed several calls in a row
	StateDegraded

	// StateUnavailable means the host has not answered for a long run of calls
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// HostHealth is a snapshot of one host's health
type HostHealth struct {
	Host              string      `json:"host"`
	State             HealthState `json:"-"`
	StateName         string      `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastCheck         time.Time   `json:"last_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error,omitempty"`
}

// Tracker keeps per-host health
type Tracker struct {
	mu        sync.RWMutex
	hosts     map[string]*HostHealth
	config    TrackerConfig
	callbacks []StateChangeCallback
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive transport errors before a host is degraded
	ErrorThreshold int `yaml:"error_threshold"`

	// UnavailableThreshold is the number of consecutive transport errors before a host is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold"`

	// CheckInterval is the interval between active probes
	CheckInterval time.Duration `yaml:"check_interval"`
}

// StateChangeCallback is called when a host's health state changes
type StateChangeCallback func(host string, oldState, newState HealthState, err error)

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		CheckInterval:        time.Minute,
	}
}

// NewTracker creates a tracker with hosts registered as healthy
func NewTracker(config TrackerConfig, hosts ...string) *Tracker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = DefaultConfig().ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}

	t := &Tracker{
		hosts:  make(map[string]*HostHealth, len(hosts)),
		config: config,
	}
	for _, host := range hosts {
		t.Register(host)
	}
	return t
}

// Register starts tracking host. Registering twice is a no-op.
func (t *Tracker) Register(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.hosts[host]; !exists {
		now := time.Now()
		t.hosts[host] = &HostHealth{
			Host:            host,
			State:           StateHealthy,
			LastStateChange: now,
			LastCheck:       now,
		}
	}
}

// RecordSuccess records a call that reached host
func (t *Tracker) RecordSuccess(host string) {
	t.record(host, nil)
}

// RecordError records a failed call. Errors that are not transport failures
// prove the host answered and count as success.
func (t *Tracker) RecordError(host string, err error) {
	if err == nil || !errors.IsTransport(err) {
		t.record(host, nil)
		return
	}
	t.record(host, err)
}

func (t *Tracker) record(host string, err error) {
	t.mu.Lock()

	h, exists := t.hosts[host]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := h.State
	h.LastCheck = time.Now()

	if err == nil {
		h.ConsecutiveErrors = 0
		h.LastErrorMessage = ""
		h.State = StateHealthy
	} else {
		h.ConsecutiveErrors++
		h.LastErrorMessage = err.Error()
		switch {
		case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
			h.State = StateUnavailable
		case h.ConsecutiveErrors >= t.config.ErrorThreshold:
			h.State = StateDegraded
		}
	}

	newState := h.State
	if newState != oldState {
		h.LastStateChange = h.LastCheck
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if newState != oldState {
		for _, cb := range callbacks {
			cb(host, oldState, newState, err)
		}
	}
}

// State returns the state of host; unknown hosts are unavailable
func (t *Tracker) State(host string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, exists := t.hosts[host]; exists {
		return h.State
	}
	return StateUnavailable
}

// Host returns a copy of host's health
func (t *Tracker) Host(host string) (HostHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.hosts[host]
	if !exists {
		return HostHealth{}, fmt.Errorf("host %s not registered", host)
	}
	return t.snapshot(h), nil
}

// Hosts returns a copy of every host's health, sorted by host name
func (t *Tracker) Hosts() []HostHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]HostHealth, 0, len(t.hosts))
	for _, h := range t.hosts {
		result = append(result, t.snapshot(h))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Host < result[j].Host })
	return result
}

func (t *Tracker) snapshot(h *HostHealth) HostHealth {
	c := *h
	c.StateName = h.State.String()
	return c
}

// Overall is the worst state across all hosts. With no hosts the mount
// still serves the top level, so it is healthy.
func (t *Tracker) Overall() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, h := range t.hosts {
		if h.State > overall {
			overall = h.State
		}
	}
	return overall
}

// Summary returns the overall state name and each host's state name
func (t *Tracker) Summary() (string, map[string]string) {
	hosts := make(map[string]string)
	for _, h := range t.Hosts() {
		hosts[h.Host] = h.StateName
	}
	return t.Overall().String(), hosts
}

// OnStateChange registers a callback run synchronously after a state change
func (t *Tracker) OnStateChange(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.callbacks = append(t.callbacks, callback)
}

// Run probes every host with check at the configured interval until ctx is done
func (t *Tracker) Run(ctx context.Context, check func(ctx context.Context, host string) error) {
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckAll(ctx, check)
		}
	}
}

// CheckAll probes every registered host once
func (t *Tracker) CheckAll(ctx context.Context, check func(ctx context.Context, host string) error) {
	t.mu.RLock()
	hosts := make([]string, 0, len(t.hosts))
	for name := range t.hosts {
		hosts = append(hosts, name)
	}
	t.mu.RUnlock()
	sort.Strings(hosts)

	for _, host := range hosts {
		if ctx.Err() != nil {
			return
		}
		t.RecordError(host, check(ctx, host))
	}
}
