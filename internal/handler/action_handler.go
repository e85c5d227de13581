package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hr-auth-service/internal/models"
	"hr-auth-service/internal/otp"
	"hr-auth-service/internal/service"
	"hr-auth-service/internal/util"
)

// ActionHandler is the HTTP surface of the OTP gate: request a code for
// a critical action, verify it, or abandon it.
type ActionHandler struct {
	authService  *service.AuthService
	gateService  *service.GateService
	auditService *service.AuditService
	logger       *zap.Logger
}

func NewActionHandler(authService *service.AuthService, gateService *service.GateService, auditService *service.AuditService, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{
		authService:  authService,
		gateService:  gateService,
		auditService: auditService,
		logger:       logger,
	}
}

// RegisterRoutes registers action gate routes
func (h *ActionHandler) RegisterRoutes(router chi.Router) {
	router.Route("/actions", func(r chi.Router) {
		r.Post("/request-otp", h.RequestOTP)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/cancel-otp", h.CancelOTP)
	})
}

type actionRequest struct {
	SubjectID string `json:"subject_id"`
	Action    string `json:"action"`
	Code      string `json:"code,omitempty"`
}

// resolve validates the action tag and loads the subject. The tag check
// comes first so a typo never touches the account store.
func (h *ActionHandler) resolve(ctx context.Context, req *actionRequest) (*models.Account, otp.Action, error) {
	action, err := otp.ParseAction(req.Action)
	if err != nil {
		return nil, "", err
	}
	account, err := h.authService.GetAccount(ctx, req.SubjectID)
	if err != nil {
		return nil, "", err
	}
	return account, action, nil
}

type requestOTPResponse struct {
	Action    string    `json:"action"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *ActionHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, action, err := h.resolve(ctx, &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to request code")
		return
	}

	expiresAt, err := h.gateService.Issue(ctx, account, action)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to issue code")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(requestOTPResponse{
		Action:    string(action),
		ExpiresAt: expiresAt,
	}, "Verification code sent"))
	h.logger.Info("Code requested via HTTP",
		util.String("action", string(action)),
		util.Duration("duration", time.Since(startTime)),
	)
}

type verifyOTPResponse struct {
	SubjectID string    `json:"subject_id"`
	Action    string    `json:"action"`
	GrantedAt time.Time `json:"granted_at"`
}

// VerifyOTP consumes a pending code. The grant it mints lives and dies
// inside this request; callers get an acknowledgement, not a token.
func (h *ActionHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, action, err := h.resolve(ctx, &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to verify code")
		return
	}

	grant, err := h.gateService.Confirm(ctx, account, action, req.Code)
	if err != nil {
		h.recordAudit(ctx, req.SubjectID, string(action), models.OutcomeDenied, err.Error(), r.RemoteAddr)
		respondWithError(w, h.logger, getStatusCode(err), err, "Verification failed")
		return
	}

	h.recordAudit(ctx, req.SubjectID, string(action), models.OutcomeSuccess, "", r.RemoteAddr)
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(verifyOTPResponse{
		SubjectID: grant.SubjectID,
		Action:    string(grant.Action),
		GrantedAt: grant.GrantedAt,
	}, "Action authorized"))
}

func (h *ActionHandler) CancelOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, action, err := h.resolve(ctx, &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to cancel code")
		return
	}

	if err := h.gateService.Cancel(ctx, account, action); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to cancel code")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Pending code cancelled"))
}

func (h *ActionHandler) recordAudit(ctx context.Context, actorID, action, outcome, detail, ipAddress string) {
	if err := h.auditService.Record(ctx, actorID, action, "action", "", outcome, detail, ipAddress); err != nil {
		h.logger.Warn("Failed to write audit record", util.ErrorField(err))
	}
}
