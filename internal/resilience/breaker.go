// Package resilience implements the circuit breaker (component B) and the
// health probe cache (component C): the only two pieces of protective,
// process-wide mutable state the core keeps around a remote backend call.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rafaeldicarlantonio/ragd/internal/obs"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrBreakerOpen is returned by Call when the breaker rejects the call
// without invoking the protected function.
var ErrBreakerOpen = errors.New("breaker-open")

// Breaker is a named, thread-safe three-state circuit breaker protecting one
// remote service. The zero value is not usable; construct with NewBreaker.
type Breaker struct {
	name string

	failureThreshold int
	successThreshold int

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	probeInFlight        bool

	// cooldown is modeled as a cenkalti/backoff ExponentialBackOff with zero
	// randomization and multiplier 1: this reuses the library's retry-timer
	// abstraction while keeping the interval exactly cooldown_seconds, which
	// the testable invariants in spec.md §8 require to be deterministic.
	cooldown func() time.Duration

	metrics *obs.Registry
}

// Options configures a Breaker. Zero values fall back to spec.md §4.B
// defaults (failure_threshold=5, success_threshold=2, cooldown_seconds=60).
type Options struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	Metrics          *obs.Registry
}

// NewBreaker constructs a breaker in the Closed state.
func NewBreaker(name string, opt Options) *Breaker {
	if opt.FailureThreshold <= 0 {
		opt.FailureThreshold = 5
	}
	if opt.SuccessThreshold <= 0 {
		opt.SuccessThreshold = 2
	}
	if opt.Cooldown <= 0 {
		opt.Cooldown = 60 * time.Second
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opt.Cooldown
	bo.Multiplier = 1
	bo.RandomizationFactor = 0
	bo.MaxInterval = opt.Cooldown

	return &Breaker{
		name:             name,
		failureThreshold: opt.FailureThreshold,
		successThreshold: opt.SuccessThreshold,
		state:            StateClosed,
		cooldown:         func() time.Duration { return bo.NextBackOff() },
		metrics:          opt.Metrics,
	}
}

// Name returns the breaker's service name.
func (b *Breaker) Name() string { return b.name }

// Snapshot is the observable breaker state, returned by State and by
// Registry.Snapshots for the /debug/breakers endpoint.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// State returns the current snapshot (after applying any pending
// open->half-open transition that cooldown elapsed now makes due).
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpenLocked()
	return Snapshot{Name: b.name, State: b.state, ConsecutiveFailures: b.consecutiveFailures, OpenedAt: b.openedAt}
}

// canExecuteLocked reports whether a call may proceed, atomically claiming
// the single half-open probe slot if this call is the one crossing the
// cooldown boundary.
func (b *Breaker) canExecuteLocked() bool {
	b.maybeTransitionToHalfOpenLocked()
	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default: // StateOpen
		return false
	}
}

func (b *Breaker) maybeTransitionToHalfOpenLocked() {
	if b.state != StateOpen {
		return
	}
	if time.Since(b.openedAt) >= b.cooldown() {
		b.state = StateHalfOpen
		b.consecutiveSuccesses = 0
		b.probeInFlight = false
		b.emit("state_change", map[string]string{"breaker": b.name, "to": string(StateHalfOpen)})
	}
}

// Call executes fn if the breaker permits it. It returns ErrBreakerOpen
// without invoking fn when rejecting.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	if !b.canExecuteLocked() {
		b.mu.Unlock()
		b.emit("rejected", map[string]string{"breaker": b.name})
		return ErrBreakerOpen
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailureLocked()
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case StateHalfOpen:
		b.consecutiveSuccesses++
		b.probeInFlight = false
		if b.consecutiveSuccesses >= b.successThreshold {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
			b.emit("state_change", map[string]string{"breaker": b.name, "to": string(StateClosed)})
		}
	case StateClosed:
		b.consecutiveFailures = 0
	}
}

func (b *Breaker) onFailureLocked() {
	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.openedAt = time.Now()
		b.state = StateOpen
		b.consecutiveSuccesses = 0
		b.emit("state_change", map[string]string{"breaker": b.name, "to": string(StateOpen)})
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
			b.emit("state_change", map[string]string{"breaker": b.name, "to": string(StateOpen)})
		}
	}
}

// Reset returns the breaker to Closed with all counters cleared. Intended
// for tests.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.probeInFlight = false
	b.openedAt = time.Time{}
}

func (b *Breaker) emit(event string, labels map[string]string) {
	if b.metrics == nil {
		return
	}
	b.metrics.IncrementCounter("breaker_"+event+"_total", labels)
}

// Registry holds one Breaker per named remote service.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	metrics  *obs.Registry
	defaults Options
}

// NewRegistry constructs an empty breaker registry. defaults apply to any
// breaker created on first use via Get.
func NewRegistry(metrics *obs.Registry, defaults Options) *Registry {
	defaults.Metrics = metrics
	return &Registry{breakers: make(map[string]*Breaker), metrics: metrics, defaults: defaults}
}

// Get returns the named breaker, creating it with registry defaults on
// first access.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(name, r.defaults)
	r.breakers[name] = b
	return b
}

// Snapshots returns the state of every breaker created so far, for
// /debug/breakers.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.State())
	}
	return out
}
