package document

import (
	"github.com/facturio/facturio/internal/shared"
)

// edge is a (current status, requested action) pair.
type edge struct {
	From   Status
	Action Action
}

// Rule describes the outcome of a permitted edge. The guard runs after the
// edge lookup and may veto with a domain error; To is the resulting status.
type Rule[T any] struct {
	To    Status
	Guard func(subject T) error
}

// Machine validates status transitions for one document kind. Each kind owns
// a small table; the executor is shared.
type Machine[T any] struct {
	kind  Kind
	rules map[edge]Rule[T]
}

// NewMachine builds a transition table.
func NewMachine[T any](kind Kind) *Machine[T] {
	return &Machine[T]{kind: kind, rules: make(map[edge]Rule[T])}
}

// Allow registers a permitted transition.
func (m *Machine[T]) Allow(from Status, action Action, to Status, guard func(T) error) *Machine[T] {
	m.rules[edge{From: from, Action: action}] = Rule[T]{To: to, Guard: guard}
	return m
}

// Next validates the requested action against the current status and returns
// the resulting status. Undefined edges and failed guards return a domain
// error naming the kind, the action and the current status; the caller must
// leave the document untouched.
func (m *Machine[T]) Next(current Status, action Action, subject T) (Status, error) {
	rule, ok := m.rules[edge{From: current, Action: action}]
	if !ok {
		return "", shared.NewDomain("%s cannot %s from status %s", m.kind, action, current)
	}
	if rule.Guard != nil {
		if err := rule.Guard(subject); err != nil {
			return "", err
		}
	}
	return rule.To, nil
}

// Allowed reports whether the edge exists, ignoring guards.
func (m *Machine[T]) Allowed(current Status, action Action) bool {
	_, ok := m.rules[edge{From: current, Action: action}]
	return ok
}
