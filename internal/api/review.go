package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/remitwatch/kestrel/internal/cases"
	"github.com/remitwatch/kestrel/internal/domain"
)

// GetSubjectRisk returns the subject's latest risk snapshot plus the
// current identity-match set. The cached snapshot is preferred; a cache
// miss falls back to the score history.
func (h *Handler) GetSubjectRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "id")

	subject, err := h.repo.GetSubject(ctx, subjectID)
	if err != nil {
		writeRepoError(w, err, "subject")
		return
	}

	var score *domain.RiskScore
	if h.cache != nil {
		if data, cerr := h.cache.Get(ctx, "risk:"+subjectID); cerr == nil && data != nil {
			var cached domain.RiskScore
			if json.Unmarshal(data, &cached) == nil {
				score = &cached
			}
		}
	}
	if score == nil {
		score, err = h.repo.GetLatestRiskScore(ctx, subjectID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			writeRepoError(w, err, "risk score")
			return
		}
	}

	matches, err := h.repo.ListIdentityMatches(ctx, subjectID)
	if err != nil {
		writeRepoError(w, err, "identity matches")
		return
	}

	resp := map[string]interface{}{
		"subjectId": subjectID,
		"riskLevel": subject.RiskLevel,
		"riskScore": subject.RiskScore,
		"matches":   matches,
	}
	if score != nil {
		resp["latest"] = score
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSubjectAudit lists the subject's verification audit trail.
func (h *Handler) GetSubjectAudit(w http.ResponseWriter, r *http.Request) {
	h.listAudit(w, r, domain.EntitySubject, chi.URLParam(r, "id"))
}

// GetTransactionAudit lists a transaction's lifecycle audit trail.
func (h *Handler) GetTransactionAudit(w http.ResponseWriter, r *http.Request) {
	h.listAudit(w, r, domain.EntityTransaction, chi.URLParam(r, "id"))
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request, entityType, entityID string) {
	limit, offset := pagination(r, 100)

	records, err := h.repo.ListAuditRecords(r.Context(), entityType, entityID, limit, offset)
	if err != nil {
		writeRepoError(w, err, "audit records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entityId": entityID,
		"records":  records,
		"count":    len(records),
	})
}

// ListAlerts lists alerts with optional filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := domain.AlertFilters{
		SubjectID: q.Get("subjectId"),
		Type:      domain.AlertType(q.Get("type")),
		Severity:  domain.Severity(q.Get("severity")),
		Status:    domain.AlertStatus(q.Get("status")),
	}
	limit, offset := pagination(r, 50)

	alerts, total, err := h.repo.ListAlerts(r.Context(), filters, limit, offset)
	if err != nil {
		writeRepoError(w, err, "alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.repo.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// UpdateAlertStatusRequest is the request body for PATCH /alerts/{id}.
type UpdateAlertStatusRequest struct {
	Status domain.AlertStatus `json:"status" validate:"required,oneof=OPEN UNDER_REVIEW RESOLVED"`
}

// UpdateAlertStatus records a reviewer's disposition on an alert.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req UpdateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.UpdateAlertStatus(ctx, alertID, req.Status, actorID); err != nil {
		writeRepoError(w, err, "alert")
		return
	}

	alert, err := h.repo.GetAlert(ctx, alertID)
	if err != nil {
		writeRepoError(w, err, "alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// CreateCaseFromAlert opens a case seeded from a single alert.
func (h *Handler) CreateCaseFromAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	c, err := h.caseManager.CreateCaseFromAlert(ctx, alertID, actorID)
	if err != nil {
		writeCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCases lists cases with optional filters.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := domain.CaseFilters{
		SubjectID:  q.Get("subjectId"),
		Status:     domain.CaseStatus(q.Get("status")),
		Severity:   domain.Severity(q.Get("severity")),
		AssignedTo: q.Get("assignedTo"),
	}
	limit, offset := pagination(r, 50)

	list, total, err := h.repo.ListCases(r.Context(), filters, limit, offset)
	if err != nil {
		writeRepoError(w, err, "cases")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases":  list,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetCaseStatistics returns case counts partitioned by status and severity.
func (h *Handler) GetCaseStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.caseManager.Statistics(r.Context())
	if err != nil {
		writeRepoError(w, err, "case statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CreateCaseRequest is the request body for POST /cases.
type CreateCaseRequest struct {
	SubjectID     string           `json:"subjectId" validate:"required"`
	TransactionID string           `json:"transactionId,omitempty"`
	Type          domain.AlertType `json:"type" validate:"required"`
	Severity      domain.Severity  `json:"severity" validate:"required,oneof=LOW MEDIUM HIGH"`
	Title         string           `json:"title" validate:"required"`
	Description   string           `json:"description,omitempty"`
	AlertIDs      []string         `json:"alertIds,omitempty"`
}

// CreateCase opens an investigation case, optionally linking alerts.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req CreateCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.caseManager.CreateCase(ctx, cases.CreateCaseInput{
		SubjectID:     req.SubjectID,
		TransactionID: req.TransactionID,
		Type:          req.Type,
		Severity:      req.Severity,
		Title:         req.Title,
		Description:   req.Description,
		CreatorID:     actorID,
		AlertIDs:      req.AlertIDs,
	})
	if err != nil {
		writeCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GetCase retrieves a case with its linked alerts and activity log.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	c, err := h.repo.GetCase(ctx, caseID)
	if err != nil {
		writeRepoError(w, err, "case")
		return
	}

	alerts, err := h.repo.ListAlertsByCase(ctx, caseID)
	if err != nil {
		writeRepoError(w, err, "case alerts")
		return
	}
	activity, err := h.repo.ListCaseActivity(ctx, caseID)
	if err != nil {
		writeRepoError(w, err, "case activity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"case":               c,
		"alerts":             alerts,
		"activity":           activity,
		"allowedTransitions": h.caseManager.AllowedTransitions(c.Status),
	})
}

// AssignCaseRequest is the request body for POST /cases/{id}/assign.
type AssignCaseRequest struct {
	AssigneeID string `json:"assigneeId" validate:"required"`
}

// AssignCase assigns a case to an investigator.
func (h *Handler) AssignCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req AssignCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.caseManager.AssignCase(ctx, caseID, req.AssigneeID, actorID)
	if err != nil {
		writeCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCaseStatusRequest is the request body for POST /cases/{id}/status.
type UpdateCaseStatusRequest struct {
	Status domain.CaseStatus `json:"status" validate:"required"`
	Reason string            `json:"reason,omitempty"`
}

// UpdateCaseStatus moves a case through its investigation lifecycle.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req UpdateCaseStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, res, err := h.caseManager.UpdateStatus(ctx, caseID, req.Status, actorID, req.Reason)
	if err != nil {
		writeCaseError(w, err)
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ResolveCaseRequest is the request body for POST /cases/{id}/resolve.
type ResolveCaseRequest struct {
	ResolutionNotes string `json:"resolutionNotes" validate:"required"`
}

// ResolveCase moves a case to RESOLVED with mandatory resolution notes.
func (h *Handler) ResolveCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req ResolveCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, res, err := h.caseManager.ResolveCase(ctx, caseID, actorID, req.ResolutionNotes)
	if err != nil {
		writeCaseError(w, err)
		return
	}
	if !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddCaseNoteRequest is the request body for POST /cases/{id}/notes.
type AddCaseNoteRequest struct {
	Note string `json:"note" validate:"required"`
}

// AddCaseNote appends a free-text note to the case activity log.
func (h *Handler) AddCaseNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := chi.URLParam(r, "id")

	actorID := GetActorID(ctx)
	if actorID == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return
	}

	var req AddCaseNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.caseManager.AddNote(ctx, caseID, actorID, req.Note); err != nil {
		writeCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "noted"})
}

// writeCaseError maps case-manager failures onto HTTP statuses.
func writeCaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAlertLinked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStaleState):
		writeError(w, http.StatusConflict, "case changed concurrently, re-read and retry")
	default:
		slog.Error("case operation failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}

// pagination reads limit/offset query params with a per-endpoint default.
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
