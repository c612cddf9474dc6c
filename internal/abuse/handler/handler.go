package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"warden/internal/abuse/engine"
	"warden/internal/abuse/models"
	"warden/internal/abuse/policy"
	jwttoken "warden/internal/jwt_token"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	request "warden/pkg/platform/middleware/request"
	"warden/pkg/requestcontext"
)

// Service is the engine surface exposed over HTTP.
type Service interface {
	CheckLockout(ctx context.Context, ids models.IdentifierSet, op models.Operation) (*models.Decision, error)
	RecordOutcome(ctx context.Context, ids models.IdentifierSet, op models.Operation, outcome models.Outcome) error
	ScoreEvent(ctx context.Context, ev *models.Event) (*engine.ScoreResult, error)
	GetDetections(ctx context.Context, filter models.DetectionFilter, page models.Pagination) (*models.DetectionPage, error)
	GetDetection(ctx context.Context, id string) (*models.Detection, error)
	UpdateDetectionStatus(ctx context.Context, u models.StatusUpdate) (*models.Detection, error)
	Policy() *policy.Snapshot
}

// ScopeMiddleware returns middleware that rejects requests lacking scope.
type ScopeMiddleware func(scope string) func(http.Handler) http.Handler

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the in-line decision endpoints called by protected services.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/lockout/check", h.HandleCheckLockout)
	r.Post("/v1/lockout/outcome", h.HandleRecordOutcome)
	r.Post("/v1/events/score", h.HandleScoreEvent)
}

// RegisterAdmin mounts the review endpoints. The caller is expected to have
// authenticated the reviewer; requireScope may be nil in tests.
func (h *Handler) RegisterAdmin(r chi.Router, requireScope ScopeMiddleware) {
	scoped := func(scope string) chi.Router {
		if requireScope == nil {
			return r
		}
		return r.With(requireScope(scope))
	}
	scoped(jwttoken.ScopeDetectionsRead).Get("/admin/detections", h.HandleListDetections)
	scoped(jwttoken.ScopeDetectionsRead).Get("/admin/detections/{id}", h.HandleGetDetection)
	scoped(jwttoken.ScopeDetectionsWrite).Patch("/admin/detections/{id}", h.HandleUpdateDetection)
	scoped(jwttoken.ScopePolicyRead).Get("/admin/policy", h.HandleGetPolicy)
}

// HandleCheckLockout implements POST /v1/lockout/check.
// Input: { "identifiers": [{"kind":"ip","value":"203.0.113.7"}], "operation": "login" }
// Output: { "decision": "blocked", "governing_identifier": {...}, "retry_after_seconds": 300, "degraded": false }
func (h *Handler) HandleCheckLockout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(r)

	req, ok := httputil.DecodeAndPrepare[LockoutCheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	ids, err := toIdentifierSet(req.Identifiers)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	decision, err := h.service.CheckLockout(ctx, ids, models.Operation(req.Operation))
	if err != nil {
		h.logger.ErrorContext(ctx, "lockout check failed",
			"error", err,
			"operation", req.Operation,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	if decision.State != models.StateAllowed {
		httputil.SetRetryAfter(w, decision.RetryAfter)
	}
	httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(decision))
}

// HandleRecordOutcome implements POST /v1/lockout/outcome.
// Input: { "identifiers": [...], "operation": "login", "success": false }
// Output: 204 No Content
func (h *Handler) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(r)

	req, ok := httputil.DecodeAndPrepare[OutcomeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	ids, err := toIdentifierSet(req.Identifiers)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	outcome := models.Outcome{Success: *req.Success, Context: req.Context}
	if err := h.service.RecordOutcome(ctx, ids, models.Operation(req.Operation), outcome); err != nil {
		h.logger.ErrorContext(ctx, "failed to record outcome",
			"error", err,
			"operation", req.Operation,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleScoreEvent implements POST /v1/events/score.
func (h *Handler) HandleScoreEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(r)

	req, ok := httputil.DecodeAndPrepare[ScoreRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	ev, err := req.ToEvent()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.ScoreEvent(ctx, ev)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to score event",
			"error", err,
			"operation", req.Operation,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toScoreResponse(res))
}

// HandleListDetections implements GET /admin/detections.
// Query: status, tier, operation, identifier (kind:value), min_score,
// created_after, created_before, cursor, limit.
func (h *Handler) HandleListDetections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(r)

	filter, page, err := parseDetectionQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.GetDetections(ctx, filter, page)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list detections",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDetectionListResponse(result))
}

// HandleGetDetection implements GET /admin/detections/{id}.
func (h *Handler) HandleGetDetection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	d, err := h.service.GetDetection(ctx, id)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to get detection",
				"error", err,
				"detection_id", id,
				"request_id", request.GetRequestID(r),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// HandleUpdateDetection implements PATCH /admin/detections/{id}.
// Input: { "status": "confirmed", "notes": "..." }
// The reviewer is the authenticated token subject.
func (h *Handler) HandleUpdateDetection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(r)

	reviewer := requestcontext.Reviewer(ctx)
	if reviewer == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "reviewer identity required"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[UpdateDetectionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	update := models.StatusUpdate{
		ID:       chi.URLParam(r, "id"),
		Status:   models.DetectionStatus(req.Status),
		Reviewer: reviewer,
		Notes:    req.Notes,
		At:       requestcontext.Now(ctx),
	}
	d, err := h.service.UpdateDetectionStatus(ctx, update)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to update detection",
			"error", err,
			"detection_id", update.ID,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// HandleGetPolicy implements GET /admin/policy.
func (h *Handler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	snap := h.service.Policy()
	if snap == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeStoreUnavailable, "no policy loaded"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPolicyResponse(snap))
}
