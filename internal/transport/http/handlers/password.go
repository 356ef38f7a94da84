package handlers

import (
	"net/http"

	"github.com/pribylovaa/go-auth-sessions/internal/service"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/middleware"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

const passwordUpdated = "Password updated successfully"

// ChangePassword — POST /pass/change, требует Authenticate.
func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Status(w, r, http.StatusUnauthorized, "unauthenticated", "User Id is required")
		return
	}

	var in service.ChangePasswordInput
	if err := response.Decode(r, &in); err != nil {
		badBody(w, r)
		return
	}

	if err := h.svc.ChangePassword(r.Context(), p.UserID, in); err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, http.StatusOK, passwordUpdated, nil)
}

// ForgotPassword — POST /pass/forgot, тело {email}; поле принимает и username.
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in service.ForgotPasswordInput
	if err := response.Decode(r, &in); err != nil {
		badBody(w, r)
		return
	}

	if err := h.svc.ForgotPassword(r.Context(), in); err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, http.StatusOK, "Reset password link sent to your email", nil)
}

// IsResetTokenValid — GET /pass/isTokenValid?token=, за ResetTokenVerifier.
func (h *Handlers) IsResetTokenValid(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, http.StatusOK, "Token is valid", map[string]bool{"valid": true})
}

// ResetPassword — POST /pass/reset?token=, за ResetTokenVerifier.
// Токен берётся только из query, тело содержит лишь пароли.
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in service.ResetPasswordInput
	if err := response.Decode(r, &in); err != nil {
		badBody(w, r)
		return
	}
	in.Token = r.URL.Query().Get("token")

	if err := h.svc.ResetPassword(r.Context(), in); err != nil {
		response.Error(w, r, err)
		return
	}

	response.OK(w, r, http.StatusOK, passwordUpdated, nil)
}
