package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/remitwatch/kestrel/internal/cases"
	"github.com/remitwatch/kestrel/internal/detector"
	"github.com/remitwatch/kestrel/internal/domain"
	"github.com/remitwatch/kestrel/internal/lifecycle"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	txMachine   *lifecycle.Machine[domain.TransactionState]
	kycMachine  *lifecycle.Machine[domain.KYCState]
	caseManager *cases.Manager
	validate    *validator.Validate
	version     string
}

// NewHandler creates a new API handler. Configured CEL guards are compiled
// and attached to the lifecycle machines here; a bad expression fails
// startup instead of silently skipping the guard.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, sink domain.AuditSink, caseManager *cases.Manager, guards []domain.GuardConfig, version string) (*Handler, error) {
	txMachine := lifecycle.NewTransactionMachine(sink)
	kycMachine := lifecycle.NewIdentityMachine(sink)

	if err := lifecycle.AttachConfigGuards(txMachine, guards); err != nil {
		return nil, err
	}
	if err := lifecycle.AttachConfigGuards(kycMachine, guards); err != nil {
		return nil, err
	}

	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		txMachine:   txMachine,
		kycMachine:  kycMachine,
		caseManager: caseManager,
		validate:    validator.New(),
		version:     version,
	}, nil
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateSubjectRequest is the request body for POST /subjects.
type CreateSubjectRequest struct {
	DocumentNumber   string `json:"documentNumber" validate:"required"`
	Email            string `json:"email" validate:"required,email"`
	Phone            string `json:"phone" validate:"required"`
	Nationality      string `json:"nationality,omitempty"`
	ResidenceCountry string `json:"residenceCountry,omitempty"`
}

// CreateSubject registers a new subject with identity attributes stored
// normalized. KYC starts at NOT_SUBMITTED.
func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	subject := &domain.Subject{
		ID:               uuid.New().String(),
		DocumentNumber:   detector.NormalizeDocument(req.DocumentNumber),
		Email:            detector.NormalizeEmail(req.Email),
		Phone:            detector.NormalizePhone(req.Phone),
		Nationality:      req.Nationality,
		ResidenceCountry: req.ResidenceCountry,
		KYCState:         domain.KYCNotSubmitted,
		RiskLevel:        domain.RiskLow,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.repo.SaveSubject(ctx, subject); err != nil {
		slog.Error("failed to save subject", "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to save subject")
		return
	}

	writeJSON(w, http.StatusCreated, subject)
}

// GetSubject retrieves a subject by ID.
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := h.repo.GetSubject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "subject")
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

// SubmitKYC moves the subject's verification state to PENDING and
// triggers the duplicate-identity scoring run.
func (h *Handler) SubmitKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		actorID = subjectID // self-service submission
	}

	subject, err := h.repo.GetSubject(ctx, subjectID)
	if err != nil {
		writeRepoError(w, err, "subject")
		return
	}

	tctx := lifecycle.Context{
		EntityID:  subjectID,
		SubjectID: subjectID,
		ActorID:   actorID,
		Reason:    "verification documents submitted",
	}

	res := h.kycMachine.ValidateTransition(subject.KYCState, domain.KYCPending, tctx)
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}

	if err := h.repo.ApplyTransition(ctx, h.kycMachine.Record(subject.KYCState, domain.KYCPending, tctx)); err != nil {
		writeTransitionError(w, err)
		return
	}
	subject.KYCState = domain.KYCPending

	h.publishTrigger(ctx, domain.TopicKYCSubmitted, subjectID, "")

	writeJSON(w, http.StatusOK, subject)
}

// ReviewKYCRequest is the request body for POST /subjects/{id}/kyc/review.
type ReviewKYCRequest struct {
	Decision domain.KYCState `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Reason   string          `json:"reason"`
}

// ReviewKYC applies a reviewer's APPROVED or REJECTED decision. Both
// outcomes require a documented reason.
func (h *Handler) ReviewKYC(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req ReviewKYCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	subject, err := h.repo.GetSubject(ctx, subjectID)
	if err != nil {
		writeRepoError(w, err, "subject")
		return
	}

	tctx := lifecycle.Context{
		EntityID:  subjectID,
		SubjectID: subjectID,
		ActorID:   actorID,
		Reason:    req.Reason,
	}

	res := h.kycMachine.ValidateTransition(subject.KYCState, req.Decision, tctx)
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}

	if err := h.repo.ApplyTransition(ctx, h.kycMachine.Record(subject.KYCState, req.Decision, tctx)); err != nil {
		writeTransitionError(w, err)
		return
	}
	subject.KYCState = req.Decision

	writeJSON(w, http.StatusOK, subject)
}

// CreateTransactionRequest is the request body for POST /transactions.
type CreateTransactionRequest struct {
	SubjectID        string                 `json:"subjectId" validate:"required"`
	RecipientID      string                 `json:"recipientId,omitempty"`
	RecipientCountry string                 `json:"recipientCountry,omitempty"`
	Amount           float64                `json:"amount" validate:"required,gt=0"`
	Currency         string                 `json:"currency" validate:"required,len=3"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// CreateTransaction persists a new PENDING transaction and publishes the
// detection trigger. The response never waits on the detectors.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.repo.GetSubject(ctx, req.SubjectID); err != nil {
		writeRepoError(w, err, "subject")
		return
	}

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:               uuid.New().String(),
		SubjectID:        req.SubjectID,
		RecipientID:      req.RecipientID,
		RecipientCountry: req.RecipientCountry,
		Amount:           req.Amount,
		Currency:         req.Currency,
		State:            domain.TxPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         req.Metadata,
	}

	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to save transaction")
		return
	}

	h.publishTrigger(ctx, domain.TopicTransactionCreated, tx.SubjectID, tx.ID)

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "transaction")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetAllowedTransitions lists the states the transaction may move to.
func (h *Handler) GetAllowedTransitions(w http.ResponseWriter, r *http.Request) {
	tx, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "transaction")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":              tx.State,
		"allowedTransitions": h.txMachine.AllowedTransitions(tx.State),
	})
}

// TransitionRequest is the request body for POST /transactions/{id}/transitions.
type TransitionRequest struct {
	TargetState domain.TransactionState `json:"targetState" validate:"required"`
	Reason      string                  `json:"reason,omitempty"`
	Metadata    map[string]interface{}  `json:"metadata,omitempty"`
}

// RequestTransition validates and applies a transaction state change. An
// invalid transition or a failed guard returns 422 with the specific
// reason; a lost race against a concurrent transition returns 409.
func (h *Handler) RequestTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		writeRepoError(w, err, "transaction")
		return
	}

	tctx := lifecycle.Context{
		EntityID:  tx.ID,
		SubjectID: tx.SubjectID,
		ActorID:   actorID,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
	}

	res := h.txMachine.ValidateTransition(tx.State, req.TargetState, tctx)
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}

	if err := h.repo.ApplyTransition(ctx, h.txMachine.Record(tx.State, req.TargetState, tctx)); err != nil {
		writeTransitionError(w, err)
		return
	}

	tx.State = req.TargetState
	tx.UpdatedAt = time.Now().UTC()

	writeJSON(w, http.StatusOK, tx)
}

// publishTrigger announces a detection trigger on the bus. Detection is
// fire-and-forget: a publish failure is logged and the request succeeds.
func (h *Handler) publishTrigger(ctx context.Context, topic, subjectID, transactionID string) {
	if h.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"subjectId":     subjectID,
		"transactionId": transactionID,
	})
	if err := h.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("detection trigger publish failed",
			"topic", topic,
			"subject_id", subjectID,
			"error", err,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRepoError maps repository read errors onto HTTP statuses.
func writeRepoError(w http.ResponseWriter, err error, entity string) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, entity+" not found")
		return
	}
	slog.Error("repository read failed", "entity", entity, "error", err)
	writeError(w, http.StatusServiceUnavailable, "storage unavailable")
}

// writeTransitionError maps ApplyTransition failures onto HTTP statuses.
func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, domain.ErrStaleState):
		writeError(w, http.StatusConflict, "state changed concurrently, re-read and retry")
	default:
		slog.Error("transition apply failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}
