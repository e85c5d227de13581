package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hr-auth-service/internal/models"
	"hr-auth-service/internal/otp"
	"hr-auth-service/internal/service"
)

// AuditHandler serves the audit trail. Purge is gated: it only runs
// against a freshly verified one-time code for the purge action.
type AuditHandler struct {
	authService  *service.AuthService
	gateService  *service.GateService
	auditService *service.AuditService
	logger       *zap.Logger
}

func NewAuditHandler(authService *service.AuthService, gateService *service.GateService, auditService *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		authService:  authService,
		gateService:  gateService,
		auditService: auditService,
		logger:       logger,
	}
}

// RegisterRoutes registers audit routes
func (h *AuditHandler) RegisterRoutes(router chi.Router) {
	router.Route("/audit", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/search", h.Search)
		r.Post("/purge", h.Purge)
	})
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := &models.AuditFilter{
		ActorID: r.URL.Query().Get("actor_id"),
		Action:  r.URL.Query().Get("action"),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid since timestamp")
			return
		}
		filter.Since = t
	}
	if raw := r.URL.Query().Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid until timestamp")
			return
		}
		filter.Until = t
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, h.logger, http.StatusBadRequest, service.ErrInvalidInput, "Invalid limit")
			return
		}
		filter.Limit = n
	}

	records, err := h.auditService.List(ctx, filter)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list audit records")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(records, "Audit records retrieved"))
}

func (h *AuditHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	if query == "" {
		respondWithError(w, h.logger, http.StatusBadRequest, service.ErrInvalidInput, "Query parameter q is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondWithError(w, h.logger, http.StatusBadRequest, service.ErrInvalidInput, "Invalid limit")
			return
		}
		limit = n
	}

	records, err := h.auditService.Search(ctx, query, limit)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to search audit records")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(records, "Audit records retrieved"))
}

type purgeRequest struct {
	ActorID   string     `json:"actor_id"`
	Code      string     `json:"code"`
	OlderThan *time.Time `json:"older_than,omitempty"`
}

func (h *AuditHandler) Purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	actor, err := h.authService.GetAccount(ctx, req.ActorID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Unknown actor")
		return
	}

	grant, err := h.gateService.Confirm(ctx, actor, otp.ActionClearAuditLogs, req.Code)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Verification failed")
		return
	}

	if err := h.auditService.Purge(ctx, req.ActorID, grant, req.OlderThan); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to purge audit records")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Audit records purged"))
}
