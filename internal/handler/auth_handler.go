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

// AuthHandler handles HTTP requests for sign-in, recovery and account
// lifecycle.
type AuthHandler struct {
	authService  *service.AuthService
	gateService  *service.GateService
	auditService *service.AuditService
	logger       *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, gateService *service.GateService, auditService *service.AuditService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		gateService:  gateService,
		auditService: auditService,
		logger:       logger,
	}
}

// accountView is the wire shape of an account. The password hash and
// encrypted email never leave the service.
type accountView struct {
	AccountID  string     `json:"account_id"`
	Role       string     `json:"role"`
	IsActive   bool       `json:"is_active"`
	Suspended  bool       `json:"suspended"`
	MFAEnabled bool       `json:"mfa_enabled"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func viewOf(a *models.Account) accountView {
	return accountView{
		AccountID:  a.AccountID,
		Role:       a.Role,
		IsActive:   a.IsActive,
		Suspended:  a.Suspended,
		MFAEnabled: a.MFAEnabled,
		LastLogin:  a.LastLogin,
		CreatedAt:  a.CreatedAt,
	}
}

// RegisterRoutes registers auth and account routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/verify-login", h.VerifyLogin)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
	})

	router.Route("/accounts", func(r chi.Router) {
		r.Delete("/{accountID}", h.DeleteAccount)
		r.Patch("/{accountID}/suspend", h.Suspend)
		r.Patch("/{accountID}/unsuspend", h.Unsuspend)
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, err := h.authService.Register(ctx, req.Email, req.Password, req.Role)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to register account")
		return
	}

	h.audit(ctx, account.AccountID, "REGISTER", "account", account.AccountID, models.OutcomeSuccess, "", r.RemoteAddr)
	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(viewOf(account), "Account registered"))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Account      accountView `json:"account"`
	MFARequired  bool        `json:"mfa_required"`
	OTPExpiresAt *time.Time  `json:"otp_expires_at,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.authService.Login(ctx, req.Email, req.Password, r.RemoteAddr)
	if err != nil {
		h.audit(ctx, "", "LOGIN", "account", "", models.OutcomeDenied, err.Error(), r.RemoteAddr)
		respondWithError(w, h.logger, getStatusCode(err), err, "Sign-in failed")
		return
	}

	resp := loginResponse{
		Account:     viewOf(result.Account),
		MFARequired: result.MFARequired,
	}
	message := "Signed in"
	if result.MFARequired {
		resp.OTPExpiresAt = &result.OTPExpiresAt
		message = "Verification code sent"
	} else {
		h.audit(ctx, result.Account.AccountID, "LOGIN", "account", result.Account.AccountID, models.OutcomeSuccess, "", r.RemoteAddr)
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(resp, message))
	h.logger.Info("Login handled via HTTP",
		util.Bool("mfa_required", result.MFARequired),
		util.Duration("duration", time.Since(startTime)),
	)
}

type verifyLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandler) VerifyLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req verifyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	account, err := h.authService.VerifyLogin(ctx, req.Email, req.Code, r.RemoteAddr)
	if err != nil {
		h.audit(ctx, "", "VERIFY_LOGIN", "account", "", models.OutcomeDenied, err.Error(), r.RemoteAddr)
		respondWithError(w, h.logger, getStatusCode(err), err, "Verification failed")
		return
	}

	h.audit(ctx, account.AccountID, "LOGIN", "account", account.AccountID, models.OutcomeSuccess, "", r.RemoteAddr)
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(viewOf(account), "Signed in"))
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req forgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.authService.ForgotPassword(ctx, req.Email); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to start recovery")
		return
	}

	// Same answer whether or not the address exists.
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "If the address is registered, a recovery code has been sent"))
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.authService.ResetPassword(ctx, req.Email, req.Code, req.NewPassword); err != nil {
		h.audit(ctx, "", "RESET_PASSWORD", "account", "", models.OutcomeDenied, err.Error(), r.RemoteAddr)
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to reset password")
		return
	}

	h.audit(ctx, "", "RESET_PASSWORD", "account", "", models.OutcomeSuccess, "", r.RemoteAddr)
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Password reset"))
}

type actorRequest struct {
	ActorID string `json:"actor_id"`
	Code    string `json:"code"`
}

// DeleteAccount removes an account. The actor must present a valid
// one-time code for the delete action; the handler trades it for a
// grant and passes the grant down. There is no path around the gate.
func (h *AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	actor, err := h.authService.GetAccount(ctx, req.ActorID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Unknown actor")
		return
	}

	grant, err := h.gateService.Confirm(ctx, actor, otp.ActionDeleteEmployee, req.Code)
	if err != nil {
		h.audit(ctx, req.ActorID, string(otp.ActionDeleteEmployee), "account", accountID, models.OutcomeDenied, err.Error(), r.RemoteAddr)
		respondWithError(w, h.logger, getStatusCode(err), err, "Verification failed")
		return
	}

	if err := h.authService.DeleteAccount(ctx, req.ActorID, grant, accountID); err != nil {
		h.audit(ctx, req.ActorID, string(otp.ActionDeleteEmployee), "account", accountID, models.OutcomeFailure, err.Error(), r.RemoteAddr)
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to delete account")
		return
	}

	h.audit(ctx, req.ActorID, string(otp.ActionDeleteEmployee), "account", accountID, models.OutcomeSuccess, "", r.RemoteAddr)
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Account deleted"))
}

func (h *AuthHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

func (h *AuthHandler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *AuthHandler) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	var err error
	if suspended {
		err = h.authService.Suspend(ctx, accountID)
	} else {
		err = h.authService.Unsuspend(ctx, accountID)
	}
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to update suspension")
		return
	}

	action := "UNSUSPEND_ACCOUNT"
	if suspended {
		action = "SUSPEND_ACCOUNT"
	}
	h.audit(ctx, "", action, "account", accountID, models.OutcomeSuccess, "", r.RemoteAddr)
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Suspension updated"))
}

func (h *AuthHandler) audit(ctx context.Context, actorID, action, targetType, targetID, outcome, detail, ipAddress string) {
	if err := h.auditService.Record(ctx, actorID, action, targetType, targetID, outcome, detail, ipAddress); err != nil {
		h.logger.Warn("Failed to write audit record", util.ErrorField(err))
	}
}
