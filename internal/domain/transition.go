package domain

import (
	"fmt"
	"slices"
)

// TransitionPolicy decides whether a (shot, department) pair may move from one status to another.
// from is empty when the pair has no record yet.
type TransitionPolicy interface {
	Name() string
	Allow(from, to Status) error
}

// PermissivePolicy allows any transition between valid statuses, including backward moves.
type PermissivePolicy struct{}

// Name returns the policy name.
func (PermissivePolicy) Name() string { return "permissive" }

// Allow checks only that to is a valid status.
func (PermissivePolicy) Allow(_, to Status) error {
	if !IsValidStatus(to) {
		return ErrInvalidStatus
	}
	return nil
}

// OrderedPolicy only allows transitions listed in its graph.
// Re-applying the current status is always allowed.
type OrderedPolicy struct {
	initial []Status
	edges   map[Status][]Status
}

// DefaultOrderedPolicy returns the review-loop workflow graph.
func DefaultOrderedPolicy() OrderedPolicy {
	return NewOrderedPolicy(
		[]Status{StatusNotStarted, StatusInProgress, StatusOmit},
		map[Status][]Status{
			StatusNotStarted: {StatusInProgress, StatusOmit},
			StatusInProgress: {StatusReview, StatusOmit},
			StatusReview:     {StatusRevision, StatusApproved, StatusOmit},
			StatusRevision:   {StatusInProgress, StatusReview, StatusOmit},
			StatusApproved:   {StatusFinal, StatusRevision, StatusOmit},
			StatusFinal:      {StatusRevision},
			StatusOmit:       {StatusNotStarted},
		},
	)
}

// NewOrderedPolicy builds a policy from the allowed first statuses and the edge list.
func NewOrderedPolicy(initial []Status, edges map[Status][]Status) OrderedPolicy {
	cloned := make(map[Status][]Status, len(edges))
	for from, tos := range edges {
		cloned[from] = slices.Clone(tos)
	}
	return OrderedPolicy{initial: slices.Clone(initial), edges: cloned}
}

// Name returns the policy name.
func (OrderedPolicy) Name() string { return "ordered" }

// Allow reports ErrTransitionDenied when the graph has no edge from -> to.
func (p OrderedPolicy) Allow(from, to Status) error {
	if !IsValidStatus(to) {
		return ErrInvalidStatus
	}
	if from == "" {
		if slices.Contains(p.initial, to) {
			return nil
		}
		return fmt.Errorf("%w: no record -> %s", ErrTransitionDenied, to)
	}
	if from == to || slices.Contains(p.edges[from], to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrTransitionDenied, from, to)
}

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (TransitionPolicy, bool) {
	switch name {
	case "", "permissive":
		return PermissivePolicy{}, true
	case "ordered":
		return DefaultOrderedPolicy(), true
	default:
		return nil, false
	}
}
