package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// was skipped by its breaker. The last member's error is wrapped alongside.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each member's breaker. Name is
	// replaced by the member's name.
	CircuitBreaker CircuitBreakerConfig

	// Final, when set, marks errors that end the attempt immediately and are
	// returned as is, without trying further members. Cancellation and
	// answers such as "no speech" are final.
	Final func(error) bool
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// MemberState describes one member for status reporting.
type MemberState struct {
	Name  string `json:"name"`
	State State  `json:"state"`
	Trips uint64 `json:"trips"`
}

// FallbackGroup holds an ordered list of interchangeable values, each behind
// its own breaker. Members must be added before the group is shared.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a member tried after those already registered.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.members = append(fg.members, member[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cb),
	})
}

// Members reports each member's breaker state in order.
func (fg *FallbackGroup[T]) Members() []MemberState {
	out := make([]MemberState, len(fg.members))
	for i, m := range fg.members {
		out[i] = MemberState{Name: m.name, State: m.breaker.State(), Trips: m.breaker.Trips()}
	}
	return out
}

// Execute calls fn on each member in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each member in order until one succeeds and
// returns its result. Go has no method type parameters, hence the function.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.members {
		m := &fg.members[i]
		var result R
		err := m.breaker.Execute(func() error {
			var inner error
			result, inner = fn(m.value)
			return inner
		})
		if err == nil {
			return result, nil
		}
		if fg.cfg.Final != nil && fg.cfg.Final(err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider, circuit open", "provider", m.name)
			continue
		}
		slog.Warn("resilience: provider failed, trying next", "provider", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
