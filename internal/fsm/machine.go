package fsm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Action performs the side effects of a transition.
type Action func(ctx context.Context) error

// Event describes a transition that is about to be committed.
type Event[S comparable] struct {
	Transition string
	Source     S
	Target     S
}

// Hook runs after a successful action and before the new state is reported.
type Hook[S comparable] func(ctx context.Context, event Event[S]) error

// Sources is the set of states a transition may fire from.
type Sources[S comparable] struct {
	any    bool
	states []S
}

// From allows a transition only from the listed states.
func From[S comparable](states ...S) Sources[S] {
	out := make([]S, len(states))
	copy(out, states)
	return Sources[S]{states: out}
}

// FromAny makes a transition unconditional.
func FromAny[S comparable]() Sources[S] {
	return Sources[S]{any: true}
}

// Allows reports whether state is an accepted source.
func (s Sources[S]) Allows(state S) bool {
	if s.any {
		return true
	}
	for _, candidate := range s.states {
		if candidate == state {
			return true
		}
	}
	return false
}

// Any reports whether the transition is unconditional.
func (s Sources[S]) Any() bool {
	return s.any
}

// States returns a copy of the explicit source states.
func (s Sources[S]) States() []S {
	out := make([]S, len(s.states))
	copy(out, s.states)
	return out
}

// Transition is a registered descriptor.
type Transition[S comparable] struct {
	Name    string
	Sources Sources[S]
	Target  S
}

// Machine is a transition table plus the hooks run on success.
type Machine[S comparable] struct {
	mu          sync.RWMutex
	transitions map[string]Transition[S]
	hooks       []Hook[S]
}

// Option configures a Machine at construction time.
type Option[S comparable] func(*Machine[S])

// WithHook appends a success hook.
func WithHook[S comparable](hook Hook[S]) Option[S] {
	return func(m *Machine[S]) {
		if hook != nil {
			m.hooks = append(m.hooks, hook)
		}
	}
}

// New constructs an empty machine.
func New[S comparable](opts ...Option[S]) *Machine[S] {
	m := &Machine[S]{transitions: make(map[string]Transition[S])}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register declares a transition. Names must be unique.
func (m *Machine[S]) Register(name string, sources Sources[S], target S) error {
	if name == "" {
		return fmt.Errorf("fsm: transition name required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transitions[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTransition, name)
	}
	m.transitions[name] = Transition[S]{Name: name, Sources: sources, Target: target}
	return nil
}

// MustRegister is Register for static tables; a duplicate is a programming error.
func (m *Machine[S]) MustRegister(name string, sources Sources[S], target S) {
	if err := m.Register(name, sources, target); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for name.
func (m *Machine[S]) Lookup(name string) (Transition[S], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transitions[name]
	return t, ok
}

// Can reports whether name may fire from state.
func (m *Machine[S]) Can(name string, state S) bool {
	t, ok := m.Lookup(name)
	return ok && t.Sources.Allows(state)
}

// Transitions lists the registered descriptors sorted by name.
func (m *Machine[S]) Transitions() []Transition[S] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition[S], 0, len(m.transitions))
	for _, t := range m.transitions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fire validates and executes a transition from current.
//
// The action runs only when current is an allowed source. When the action or a hook fails
// the error is returned as is together with current; otherwise the target is returned.
func (m *Machine[S]) Fire(ctx context.Context, name string, current S, action Action) (S, error) {
	t, ok := m.Lookup(name)
	if !ok {
		return current, &UnknownTransitionError{Transition: name}
	}
	if !t.Sources.Allows(current) {
		return current, &IllegalTransitionError{Transition: name, State: fmt.Sprint(current)}
	}
	if action != nil {
		if err := action(ctx); err != nil {
			return current, err
		}
	}
	event := Event[S]{Transition: name, Source: current, Target: t.Target}
	for _, hook := range m.hooks {
		if err := hook(ctx, event); err != nil {
			return current, err
		}
	}
	return t.Target, nil
}
