package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-trust/harrier/internal/activity"
	"github.com/opensource-trust/harrier/internal/domain"
	"github.com/opensource-trust/harrier/internal/escalation"
	"github.com/opensource-trust/harrier/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	store     *rules.Store
	detector  *rules.Service
	profiles  *activity.Service
	scheduler *escalation.Scheduler
	lifecycle *escalation.Lifecycle
	version   string

	// async routes detection through the event bus instead of running
	// it inline on the request path.
	async bool
}

// NewHandler creates a new API handler.
func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	store *rules.Store,
	detector *rules.Service,
	profiles *activity.Service,
	scheduler *escalation.Scheduler,
	lifecycle *escalation.Lifecycle,
	version string,
	async bool,
) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		store:     store,
		detector:  detector,
		profiles:  profiles,
		scheduler: scheduler,
		lifecycle: lifecycle,
		version:   version,
		async:     async,
	}
}

// ActivityResponse is the response for POST /activities.
type ActivityResponse struct {
	ActivityID  string         `json:"activityId"`
	CasesOpened []*domain.Case `json:"casesOpened,omitempty"`
	Async       bool           `json:"async,omitempty"`
	Metadata    struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// RecordActivity handles POST /activities. In sync mode the activity
// is evaluated inline and any opened cases are returned. In async mode
// it is persisted, published to the bus, and evaluated by the worker.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req domain.ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "actorId is required",
		})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action is required",
		})
		return
	}
	if req.Amount < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must not be negative",
		})
		return
	}

	rec := req.ToRecord()
	rec.ID = uuid.New().String()

	resp := ActivityResponse{ActivityID: rec.ID}
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	if h.async {
		// Persist first so the worker evaluates against a durable
		// record, then announce on the bus.
		if err := h.profiles.Record(ctx, rec); err != nil {
			slog.Error("failed to record activity", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to record activity",
			})
			return
		}

		payload, _ := json.Marshal(rec)
		if err := h.bus.Publish(ctx, domain.TopicActivityRecorded, payload); err != nil {
			slog.Error("failed to publish activity", "activity_id", rec.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to enqueue activity",
			})
			return
		}

		resp.Async = true
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	cases, err := h.detector.ProcessActivity(ctx, rec)
	if err != nil && len(cases) == 0 {
		if errors.Is(err, domain.ErrActorNotFound) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "actorId is required",
			})
			return
		}
		slog.Error("activity processing failed", "activity_id", rec.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "activity processing failed",
		})
		return
	}

	resp.CasesOpened = cases
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

// FileDispute handles POST /disputes.
func (h *Handler) FileDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ActorID == "" || req.CounterpartyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "actorId and counterpartyId are required",
		})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type is required",
		})
		return
	}
	if req.DisputedAmount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "disputedAmount must be positive",
		})
		return
	}

	c, err := h.lifecycle.FileDispute(ctx, &req)
	if err != nil {
		slog.Error("failed to file dispute", "actor_id", req.ActorID, "error", err)
		writeJSON(w, http.StatusInternalServerError, domain.CaseResult{
			Success: false,
			Error:   "failed to file dispute",
		})
		return
	}

	writeJSON(w, http.StatusCreated, domain.CaseResult{Success: true, Case: c})
}

// ListCases handles GET /cases. An optional status query parameter
// filters by case status; the default is all open cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cases []*domain.Case
	var err error

	if status := r.URL.Query().Get("status"); status != "" {
		cases, err = h.repo.ListCasesByStatus(ctx, domain.CaseStatus(status))
	} else {
		cases, err = h.repo.ListOpenCases(ctx)
	}
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list cases",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	c, err := h.repo.GetCase(r.Context(), caseID)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CaseResult{Success: true, Case: c})
}

// EscalateRequest is the request body for POST /cases/{id}/escalate.
type EscalateRequest struct {
	Reason string `json:"reason"`
}

// EscalateCase handles POST /cases/{id}/escalate.
func (h *Handler) EscalateCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Reason == "" {
		req.Reason = "Escalated manually"
	}

	c, err := h.scheduler.Escalate(r.Context(), caseID, req.Reason)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CaseResult{Success: true, Case: c})
}

// ReviewRequest is the request body for investigate, mediate, and
// close operations.
type ReviewRequest struct {
	ReviewerID string `json:"reviewerId"`
}

// InvestigateCase handles POST /cases/{id}/investigate.
func (h *Handler) InvestigateCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ReviewerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reviewerId is required",
		})
		return
	}

	c, err := h.lifecycle.Investigate(r.Context(), caseID, req.ReviewerID)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CaseResult{Success: true, Case: c})
}

// MediateCase handles POST /cases/{id}/mediate.
func (h *Handler) MediateCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ReviewerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reviewerId is required",
		})
		return
	}

	c, err := h.lifecycle.Mediate(r.Context(), caseID, req.ReviewerID)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CaseResult{Success: true, Case: c})
}

// ResolveRequest is the request body for POST /cases/{id}/resolve.
type ResolveRequest struct {
	Action       string `json:"action"`
	Reasoning    string `json:"reasoning"`
	AppliedBy    string `json:"appliedBy"`
	RefundAmount int64  `json:"refundAmount,omitempty"`
}

// ResolveCase handles POST /cases/{id}/resolve.
func (h *Handler) ResolveCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Action == "" || req.AppliedBy == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "action and appliedBy are required",
		})
		return
	}

	c, err := h.lifecycle.Resolve(r.Context(), caseID, domain.Resolution{
		Action:       req.Action,
		Reasoning:    req.Reasoning,
		AppliedBy:    req.AppliedBy,
		AppliedAt:    time.Now().UTC(),
		RefundAmount: req.RefundAmount,
	})
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CaseResult{Success: true, Case: c})
}

// AppealRequest is the request body for POST /cases/{id}/appeal.
type AppealRequest struct {
	ActorID string `json:"actorId"`
	Reason  string `json:"reason"`
}

// AppealCase handles POST /cases/{id}/appeal.
func (h *Handler) AppealCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req AppealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ActorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "actorId is required",
		})
		return
	}

	c, err := h.lifecycle.Appeal(r.Context(), caseID, req.ActorID, req.Reason)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CaseResult{Success: true, Case: c})
}

// CloseCase handles POST /cases/{id}/close.
func (h *Handler) CloseCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ReviewerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reviewerId is required",
		})
		return
	}

	c, err := h.lifecycle.CloseCase(r.Context(), caseID, req.ReviewerID)
	if err != nil {
		writeCaseError(w, caseID, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.CaseResult{Success: true, Case: c})
}

// GetProfile handles GET /actors/{id}/profile. Serves the cached
// profile when present and rebuilds it on a miss.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := chi.URLParam(r, "id")

	profile, err := h.cache.GetProfile(ctx, actorID)
	if err != nil {
		slog.Warn("profile cache read failed", "actor_id", actorID, "error", err)
	}
	if profile != nil {
		writeJSON(w, http.StatusOK, profile)
		return
	}

	profile, err = h.profiles.BuildProfile(ctx, actorID)
	if err != nil {
		slog.Error("failed to build profile", "actor_id", actorID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build profile",
		})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// ListRules returns all rules currently loaded in the store.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.store.Rules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	rule, ok := h.store.Get(ruleID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule.Snapshot())
}

// CreateRule validates a rule, loads it into the store, and persists
// it. Invalid rules are rejected before anything is stored.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.store.Load(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "rule_id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, &rule)
}

// ReloadRules reloads all rules from the repository into the store.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.repo.ListRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from repository", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules",
		})
		return
	}

	if err := h.store.Reload(dbRules); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
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

// writeCaseError maps domain errors to HTTP statuses and the standard
// CaseResult error shape.
func writeCaseError(w http.ResponseWriter, caseID string, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, domain.ErrCaseNotFound):
		status = http.StatusNotFound
		msg = "case not found"
	case errors.Is(err, domain.ErrAlreadyEscalated):
		status = http.StatusConflict
		msg = "case already escalated"
	case errors.Is(err, domain.ErrAlreadyResolved):
		status = http.StatusConflict
		msg = "case already resolved"
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
		msg = "invalid case transition: " + err.Error()
	default:
		slog.Error("case operation failed", "case_id", caseID, "error", err)
	}

	writeJSON(w, status, domain.CaseResult{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
