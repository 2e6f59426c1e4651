package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/auth"
	"github.com/JakeFAU/linkscraper/internal/scraper"
)

type authHandler struct {
	svc    *auth.Service
	logger *zap.Logger
}

func newAuthHandler(svc *auth.Service, logger *zap.Logger) *authHandler {
	return &authHandler{svc: svc, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// register handles POST /api/auth/register. It returns 201 with the new user
// and a token, 400 for invalid input and 409 when the email is taken.
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	tok, err := h.svc.Register(r.Context(), req.Email, req.Password)
	var verr *auth.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, tok)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, scraper.ErrDuplicate):
		writeError(w, http.StatusConflict, "Email already exists")
	default:
		h.logger.Error("register user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to register user")
	}
}

// login handles POST /api/auth/login.
func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	tok, err := h.svc.Login(r.Context(), req.Email, req.Password)
	var verr *auth.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tok)
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		h.logger.Error("login", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to login")
	}
}

// me handles GET /api/auth/me.
func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	user, err := h.svc.Me(r.Context(), userID)
	if errors.Is(err, scraper.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	if err != nil {
		h.logger.Error("load current user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}
