// Package lifecycle provides the generic guarded state machine engine
// that governs transaction, identity-verification and case workflows.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/remitwatch/kestrel/internal/domain"
)

// Context carries the caller-supplied facts a guard may inspect and the
// identifiers the audit record is tagged with. Guards are pure: they read
// the context, they never mutate anything.
type Context struct {
	EntityID  string
	SubjectID string
	ActorID   string
	Reason    string
	Metadata  map[string]interface{}
}

// Result is the typed outcome of transition validation. Invalid transitions
// and failed guards are expected, user-facing outcomes, never errors.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// OK is the passing validation result.
func OK() Result { return Result{Valid: true} }

// Reject builds a failing validation result with a human-readable reason.
func Reject(reason string) Result { return Result{Valid: false, Reason: reason} }

// Guard is a named precondition attached to a transition target. It can
// veto an otherwise structurally valid transition.
type Guard[S ~string] struct {
	Name  string
	Check func(from, to S, ctx Context) Result
}

// RequireReason returns a guard that rejects blank or whitespace-only
// reasons with the given message.
func RequireReason[S ~string](name, message string) Guard[S] {
	return Guard[S]{
		Name: name,
		Check: func(_, _ S, ctx Context) Result {
			if strings.TrimSpace(ctx.Reason) == "" {
				return Reject(message)
			}
			return OK()
		},
	}
}

type edge[S ~string] struct {
	from S
	to   S
}

// Machine is a data-driven state machine over state type S. Adjacency and
// guards are supplied at construction; there are no hard-coded branches.
type Machine[S ~string] struct {
	entityType     string
	adjacency      map[S][]S
	edgeGuards     map[edge[S]]Guard[S]
	wildcardGuards map[S]Guard[S]
	sink           domain.AuditSink
}

// New creates a machine for the given entity type with a static adjacency
// map. Terminal states map to an empty (or absent) adjacency list.
func New[S ~string](entityType string, adjacency map[S][]S, sink domain.AuditSink) *Machine[S] {
	return &Machine[S]{
		entityType:     entityType,
		adjacency:      adjacency,
		edgeGuards:     make(map[edge[S]]Guard[S]),
		wildcardGuards: make(map[S]Guard[S]),
		sink:           sink,
	}
}

// EntityType returns the audited entity kind this machine governs.
func (m *Machine[S]) EntityType() string { return m.entityType }

// RegisterGuard binds a guard to the specific (from, to) edge. Registering
// a second guard on the same edge composes with logical AND, earlier guard
// first, first failure short-circuiting.
func (m *Machine[S]) RegisterGuard(from, to S, g Guard[S]) {
	key := edge[S]{from, to}
	if existing, ok := m.edgeGuards[key]; ok {
		g = and(existing, g)
	}
	m.edgeGuards[key] = g
}

// RegisterWildcardGuard binds a guard to every edge into the target state.
func (m *Machine[S]) RegisterWildcardGuard(to S, g Guard[S]) {
	if existing, ok := m.wildcardGuards[to]; ok {
		g = and(existing, g)
	}
	m.wildcardGuards[to] = g
}

func and[S ~string](a, b Guard[S]) Guard[S] {
	return Guard[S]{
		Name: a.Name + "+" + b.Name,
		Check: func(from, to S, ctx Context) Result {
			if res := a.Check(from, to, ctx); !res.Valid {
				return res
			}
			return b.Check(from, to, ctx)
		},
	}
}

// CanTransition reports whether `to` is in the configured adjacency list
// for `from`. Unknown `from` yields false.
func (m *Machine[S]) CanTransition(from, to S) bool {
	for _, next := range m.adjacency[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the adjacency list for a state; empty for
// terminal or unknown states.
func (m *Machine[S]) AllowedTransitions(from S) []S {
	next := m.adjacency[from]
	out := make([]S, len(next))
	copy(out, next)
	return out
}

// ValidateTransition checks the adjacency map, then evaluates the specific
// (from,to) guard, then the wildcard (*,to) guard. Guards compose with
// logical AND and the first failing guard short-circuits evaluation.
func (m *Machine[S]) ValidateTransition(from, to S, ctx Context) Result {
	if !m.CanTransition(from, to) {
		return Reject("transition not allowed")
	}

	if g, ok := m.edgeGuards[edge[S]{from, to}]; ok {
		if res := g.Check(from, to, ctx); !res.Valid {
			return res
		}
	}

	if g, ok := m.wildcardGuards[to]; ok {
		if res := g.Check(from, to, ctx); !res.Valid {
			return res
		}
	}

	return OK()
}

// Record builds the immutable audit record for a transition. Exposed so
// callers that need the state update and the audit append in one storage
// transaction can hand the record to the repository.
func (m *Machine[S]) Record(from, to S, ctx Context) *domain.AuditRecord {
	return &domain.AuditRecord{
		ID:         uuid.New().String(),
		EntityType: m.entityType,
		EntityID:   ctx.EntityID,
		SubjectID:  ctx.SubjectID,
		Action:     domain.ActionStateTransition,
		FromState:  string(from),
		ToState:    string(to),
		ActorID:    ctx.ActorID,
		Reason:     ctx.Reason,
		Metadata:   ctx.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

// ExecuteTransition writes the transition record to the audit sink. It
// assumes ValidateTransition already returned valid; callers MUST validate
// first. The engine does not update the entity's persisted state - the
// caller owns that, inside the same storage transaction as its own domain
// update. A sink failure means the operation must not be committed.
func (m *Machine[S]) ExecuteTransition(ctx context.Context, from, to S, tctx Context) error {
	if m.sink == nil {
		return fmt.Errorf("%w: no audit sink configured", domain.ErrStorageUnavailable)
	}
	if err := m.sink.Append(ctx, m.Record(from, to, tctx)); err != nil {
		return fmt.Errorf("audit append for %s %s: %w", m.entityType, tctx.EntityID, err)
	}
	return nil
}
