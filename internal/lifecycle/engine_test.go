package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/remitwatch/kestrel/internal/domain"
)

// memorySink collects appended records in memory. failWith makes every
// Append fail, for testing audit-failure semantics.
type memorySink struct {
	mu       sync.Mutex
	records  []*domain.AuditRecord
	failWith error
}

func (s *memorySink) Append(_ context.Context, rec *domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func TestTransactionMachine(t *testing.T) {
	sink := &memorySink{}
	m := NewTransactionMachine(sink)
	tctx := Context{EntityID: "tx-001", ActorID: "ops-1"}

	t.Run("AllowedTransitions", func(t *testing.T) {
		cases := []struct {
			from domain.TransactionState
			want []domain.TransactionState
		}{
			{domain.TxPending, []domain.TransactionState{domain.TxUnderReview, domain.TxRejected, domain.TxCancelled}},
			{domain.TxUnderReview, []domain.TransactionState{domain.TxApproved, domain.TxRejected, domain.TxCancelled}},
			{domain.TxApproved, []domain.TransactionState{domain.TxReadyForPickup, domain.TxCancelled}},
			{domain.TxReadyForPickup, []domain.TransactionState{domain.TxCompleted, domain.TxCancelled}},
			{domain.TxCompleted, []domain.TransactionState{}},
			{domain.TxRejected, []domain.TransactionState{}},
			{domain.TxCancelled, []domain.TransactionState{}},
		}

		for _, tc := range cases {
			got := m.AllowedTransitions(tc.from)
			if len(got) != len(tc.want) {
				t.Errorf("%s: expected %v, got %v", tc.from, tc.want, got)
				continue
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("%s: expected %v, got %v", tc.from, tc.want, got)
					break
				}
			}
		}
	})

	t.Run("InvalidPairsRejected", func(t *testing.T) {
		all := []domain.TransactionState{
			domain.TxPending, domain.TxUnderReview, domain.TxApproved,
			domain.TxReadyForPickup, domain.TxCompleted, domain.TxRejected, domain.TxCancelled,
		}
		for _, from := range all {
			allowed := map[domain.TransactionState]bool{}
			for _, next := range m.AllowedTransitions(from) {
				allowed[next] = true
			}
			for _, to := range all {
				if allowed[to] {
					continue
				}
				res := m.ValidateTransition(from, to, Context{Reason: "x"})
				if res.Valid {
					t.Errorf("%s -> %s should be invalid", from, to)
				}
			}
		}
	})

	t.Run("TerminalStatesHaveNoExits", func(t *testing.T) {
		for _, s := range []domain.TransactionState{domain.TxCompleted, domain.TxRejected, domain.TxCancelled} {
			if got := m.AllowedTransitions(s); len(got) != 0 {
				t.Errorf("%s should be terminal, got transitions %v", s, got)
			}
		}
	})

	t.Run("PendingToApprovedAlwaysFails", func(t *testing.T) {
		// Structurally out of the adjacency map, and even a direct guard
		// check refuses it.
		res := m.ValidateTransition(domain.TxPending, domain.TxApproved, tctx)
		if res.Valid {
			t.Fatal("PENDING -> APPROVED must never be valid")
		}
	})

	t.Run("RejectionRequiresReason", func(t *testing.T) {
		res := m.ValidateTransition(domain.TxPending, domain.TxRejected, Context{ActorID: "ops-1"})
		if res.Valid {
			t.Fatal("rejection without reason should fail")
		}
		if res.Reason != "Rejection reason is required" {
			t.Errorf("unexpected reason: %q", res.Reason)
		}

		res = m.ValidateTransition(domain.TxPending, domain.TxRejected, Context{ActorID: "ops-1", Reason: "   "})
		if res.Valid {
			t.Fatal("whitespace-only reason should fail")
		}

		res = m.ValidateTransition(domain.TxPending, domain.TxRejected, Context{ActorID: "ops-1", Reason: "sanctions hit"})
		if !res.Valid {
			t.Fatalf("rejection with reason should pass: %s", res.Reason)
		}
	})

	t.Run("CancellationRequiresReasonFromEveryState", func(t *testing.T) {
		for _, from := range []domain.TransactionState{
			domain.TxPending, domain.TxUnderReview, domain.TxApproved, domain.TxReadyForPickup,
		} {
			res := m.ValidateTransition(from, domain.TxCancelled, Context{ActorID: "ops-1"})
			if res.Valid {
				t.Errorf("%s -> CANCELLED without reason should fail", from)
			}
			res = m.ValidateTransition(from, domain.TxCancelled, Context{ActorID: "ops-1", Reason: "customer request"})
			if !res.Valid {
				t.Errorf("%s -> CANCELLED with reason should pass: %s", from, res.Reason)
			}
		}
	})

	t.Run("ExecuteTransitionAppendsAudit", func(t *testing.T) {
		before := sink.count()
		err := m.ExecuteTransition(context.Background(), domain.TxPending, domain.TxUnderReview, tctx)
		if err != nil {
			t.Fatalf("ExecuteTransition failed: %v", err)
		}
		if sink.count() != before+1 {
			t.Fatalf("expected one audit record, got %d", sink.count()-before)
		}

		rec := sink.records[len(sink.records)-1]
		if rec.EntityType != domain.EntityTransaction {
			t.Errorf("expected entity type transaction, got %s", rec.EntityType)
		}
		if rec.FromState != string(domain.TxPending) || rec.ToState != string(domain.TxUnderReview) {
			t.Errorf("unexpected states: %s -> %s", rec.FromState, rec.ToState)
		}
		if rec.ActorID != "ops-1" {
			t.Errorf("expected actor ops-1, got %s", rec.ActorID)
		}
		if rec.ID == "" || rec.CreatedAt.IsZero() {
			t.Error("record must carry ID and timestamp")
		}
	})

	t.Run("AuditFailureFailsTransition", func(t *testing.T) {
		failing := &memorySink{failWith: errors.New("disk full")}
		fm := NewTransactionMachine(failing)

		err := fm.ExecuteTransition(context.Background(), domain.TxPending, domain.TxUnderReview, tctx)
		if err == nil {
			t.Fatal("expected error when audit append fails")
		}
	})
}

func TestIdentityMachine(t *testing.T) {
	m := NewIdentityMachine(&memorySink{})

	t.Run("SubmissionFlow", func(t *testing.T) {
		res := m.ValidateTransition(domain.KYCNotSubmitted, domain.KYCPending, Context{ActorID: "cust-1"})
		if !res.Valid {
			t.Fatalf("NOT_SUBMITTED -> PENDING should pass: %s", res.Reason)
		}
	})

	t.Run("DecisionsRequireReason", func(t *testing.T) {
		for _, to := range []domain.KYCState{domain.KYCApproved, domain.KYCRejected} {
			res := m.ValidateTransition(domain.KYCPending, to, Context{ActorID: "reviewer-1"})
			if res.Valid {
				t.Errorf("PENDING -> %s without reason should fail", to)
			}
			res = m.ValidateTransition(domain.KYCPending, to, Context{ActorID: "reviewer-1", Reason: "documents verified"})
			if !res.Valid {
				t.Errorf("PENDING -> %s with reason should pass: %s", to, res.Reason)
			}
		}
	})

	t.Run("ReverificationAndResubmission", func(t *testing.T) {
		res := m.ValidateTransition(domain.KYCApproved, domain.KYCPending, Context{})
		if !res.Valid {
			t.Errorf("APPROVED -> PENDING re-verification should pass: %s", res.Reason)
		}
		res = m.ValidateTransition(domain.KYCRejected, domain.KYCPending, Context{})
		if !res.Valid {
			t.Errorf("REJECTED -> PENDING resubmission should pass: %s", res.Reason)
		}
	})

	t.Run("NoDirectApproval", func(t *testing.T) {
		res := m.ValidateTransition(domain.KYCNotSubmitted, domain.KYCApproved, Context{Reason: "x"})
		if res.Valid {
			t.Error("NOT_SUBMITTED -> APPROVED should be invalid")
		}
	})
}

func TestCaseMachine(t *testing.T) {
	m := NewCaseMachine(&memorySink{})

	t.Run("ResolutionRequiresNotes", func(t *testing.T) {
		res := m.ValidateTransition(domain.CaseInvestigating, domain.CaseResolved, Context{ActorID: "inv-1"})
		if res.Valid {
			t.Fatal("resolution without notes should fail")
		}
		res = m.ValidateTransition(domain.CaseInvestigating, domain.CaseResolved, Context{ActorID: "inv-1", Reason: "false positive"})
		if !res.Valid {
			t.Fatalf("resolution with notes should pass: %s", res.Reason)
		}
	})

	t.Run("ClosedIsTerminal", func(t *testing.T) {
		for _, to := range []domain.CaseStatus{
			domain.CaseOpen, domain.CaseInvestigating, domain.CaseEscalated, domain.CaseResolved,
		} {
			res := m.ValidateTransition(domain.CaseClosed, to, Context{Reason: "x"})
			if res.Valid {
				t.Errorf("CLOSED -> %s should be invalid", to)
			}
		}
	})

	t.Run("EscalationLoop", func(t *testing.T) {
		res := m.ValidateTransition(domain.CaseEscalated, domain.CaseInvestigating, Context{})
		if !res.Valid {
			t.Errorf("ESCALATED -> INVESTIGATING should pass: %s", res.Reason)
		}
	})
}

func TestGuardComposition(t *testing.T) {
	adjacency := map[domain.TransactionState][]domain.TransactionState{
		domain.TxPending: {domain.TxUnderReview},
	}
	m := New(domain.EntityTransaction, adjacency, &memorySink{})

	var order []string
	m.RegisterGuard(domain.TxPending, domain.TxUnderReview, Guard[domain.TransactionState]{
		Name: "first",
		Check: func(_, _ domain.TransactionState, _ Context) Result {
			order = append(order, "first")
			return OK()
		},
	})
	m.RegisterGuard(domain.TxPending, domain.TxUnderReview, Guard[domain.TransactionState]{
		Name: "second",
		Check: func(_, _ domain.TransactionState, _ Context) Result {
			order = append(order, "second")
			return Reject("second says no")
		},
	})
	m.RegisterWildcardGuard(domain.TxUnderReview, Guard[domain.TransactionState]{
		Name: "wildcard",
		Check: func(_, _ domain.TransactionState, _ Context) Result {
			order = append(order, "wildcard")
			return OK()
		},
	})

	res := m.ValidateTransition(domain.TxPending, domain.TxUnderReview, Context{})
	if res.Valid {
		t.Fatal("composed guard should reject")
	}
	if res.Reason != "second says no" {
		t.Errorf("unexpected reason: %q", res.Reason)
	}
	// Edge guards run registration order; the wildcard never runs after a
	// failure short-circuits.
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected guard evaluation order: %v", order)
	}
}

func TestCELGuard(t *testing.T) {
	t.Run("PassAndReject", func(t *testing.T) {
		g, err := CELGuard[domain.TransactionState](
			"supervisor-only", `actor_id.startsWith("sup-")`, "supervisors only")
		if err != nil {
			t.Fatalf("CELGuard failed: %v", err)
		}

		res := g.Check(domain.TxUnderReview, domain.TxApproved, Context{ActorID: "sup-9"})
		if !res.Valid {
			t.Errorf("supervisor actor should pass: %s", res.Reason)
		}

		res = g.Check(domain.TxUnderReview, domain.TxApproved, Context{ActorID: "ops-1"})
		if res.Valid {
			t.Error("non-supervisor actor should be rejected")
		}
		if res.Reason != "supervisors only" {
			t.Errorf("unexpected reason: %q", res.Reason)
		}
	})

	t.Run("MetadataAccess", func(t *testing.T) {
		g, err := CELGuard[domain.TransactionState](
			"pickup-code", `"pickupCode" in metadata`, "pickup code required")
		if err != nil {
			t.Fatalf("CELGuard failed: %v", err)
		}

		res := g.Check(domain.TxReadyForPickup, domain.TxCompleted, Context{
			Metadata: map[string]interface{}{"pickupCode": "1234"},
		})
		if !res.Valid {
			t.Errorf("metadata key present should pass: %s", res.Reason)
		}

		res = g.Check(domain.TxReadyForPickup, domain.TxCompleted, Context{})
		if res.Valid {
			t.Error("missing metadata key should be rejected")
		}
	})

	t.Run("NonBoolExpressionRejected", func(t *testing.T) {
		if _, err := CELGuard[domain.TransactionState]("bad", `actor_id + "x"`, ""); err == nil {
			t.Error("expected compile error for non-bool expression")
		}
	})

	t.Run("BadSyntaxRejected", func(t *testing.T) {
		if _, err := CELGuard[domain.TransactionState]("bad", `actor_id ==`, ""); err == nil {
			t.Error("expected compile error for bad syntax")
		}
	})
}

func TestAttachConfigGuards(t *testing.T) {
	sink := &memorySink{}
	m := NewTransactionMachine(sink)

	cfgs := []domain.GuardConfig{
		{
			Entity:     domain.EntityTransaction,
			From:       string(domain.TxUnderReview),
			To:         string(domain.TxApproved),
			Name:       "supervisor-approval",
			Expression: `actor_id.startsWith("sup-")`,
			Reason:     "approval requires a supervisor",
		},
		{
			// Different entity, must be skipped.
			Entity:     domain.EntityCase,
			From:       "*",
			To:         string(domain.CaseClosed),
			Name:       "never",
			Expression: `false`,
			Reason:     "never",
		},
	}

	if err := AttachConfigGuards(m, cfgs); err != nil {
		t.Fatalf("AttachConfigGuards failed: %v", err)
	}

	res := m.ValidateTransition(domain.TxUnderReview, domain.TxApproved, Context{ActorID: "ops-1"})
	if res.Valid {
		t.Fatal("config guard should reject non-supervisor")
	}
	if res.Reason != "approval requires a supervisor" {
		t.Errorf("unexpected reason: %q", res.Reason)
	}

	res = m.ValidateTransition(domain.TxUnderReview, domain.TxApproved, Context{ActorID: "sup-2"})
	if !res.Valid {
		t.Fatalf("supervisor should pass: %s", res.Reason)
	}
}
