package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pribylovaa/go-auth-sessions/internal/models"
	"github.com/pribylovaa/go-auth-sessions/internal/service"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/cookies"
	"github.com/pribylovaa/go-auth-sessions/internal/transport/http/response"
)

// flexBool принимает true/false и строки "true"/"false".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*b = false
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, _ := strconv.ParseBool(strings.TrimSpace(s))
		*b = flexBool(v)
		return nil
	}

	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

type loginRequest struct {
	Email        string   `json:"email"`
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	IsRememberMe flexBool `json:"isRememberMe"`
}

type sessionDocs struct {
	User         models.UserProfile `json:"user"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken,omitempty"`
}

type accessDocs struct {
	AccessToken string              `json:"accessToken"`
	User        *models.UserProfile `json:"user,omitempty"`
}

// Register — POST /auth/register. Токены возвращаются в теле, cookie не ставятся.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := response.Decode(r, &in); err != nil {
		badBody(w, r)
		return
	}

	sess, err := h.svc.Register(r.Context(), in)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	name := strings.TrimSpace(sess.User.FirstName + " " + sess.User.LastName)
	response.OK(w, r, http.StatusCreated, "Registration successful, welcome "+name, sessionDocs{
		User:         sess.User,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
	})
}

// Login — POST /auth/login. Ставит обе cookie, refresh-токен в тело не попадает.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.Decode(r, &req); err != nil {
		badBody(w, r)
		return
	}

	sess, err := h.svc.Login(r.Context(), service.LoginInput{
		Email:      req.Email,
		Username:   req.Username,
		Password:   req.Password,
		RememberMe: bool(req.IsRememberMe),
	})
	if err != nil {
		response.Error(w, r, err)
		return
	}

	h.jar.SetAccess(w, sess.AccessToken)
	h.jar.SetRefresh(w, sess.RefreshToken, sess.RememberMe)

	response.OK(w, r, http.StatusOK, "Login successful", sessionDocs{
		User:        sess.User,
		AccessToken: sess.AccessToken,
	})
}

// Logout — PUT /auth/logout. Без cookie считается, что выход уже выполнен.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	raw := cookies.Refresh(r)
	if raw == "" {
		response.OK(w, r, http.StatusOK, "Logout successful", nil)
		return
	}

	if err := h.svc.Logout(r.Context(), raw); err != nil {
		response.Error(w, r, err)
		return
	}

	h.jar.ClearAll(w)
	response.OK(w, r, http.StatusOK, "Logout successful", nil)
}

// RefreshToken — GET /auth/refresh-token. Выпускает новый access-токен,
// refresh-токен не ротируется. При отказе обе cookie очищаются.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	grant, err := h.svc.RefreshAccessToken(r.Context(), cookies.Refresh(r))
	if err != nil {
		h.jar.ClearAll(w)
		response.Error(w, r, err)
		return
	}

	h.jar.SetAccess(w, grant.AccessToken)
	response.OK(w, r, http.StatusOK, "Access token refreshed", accessDocs{AccessToken: grant.AccessToken})
}

// RefreshSession — GET /auth/refresh-session: новый access-токен и свежий профиль.
// Отказы обрабатываются так же, как в RefreshToken.
func (h *Handlers) RefreshSession(w http.ResponseWriter, r *http.Request) {
	grant, err := h.svc.RefreshSession(r.Context(), cookies.Refresh(r))
	if err != nil {
		h.jar.ClearAll(w)
		response.Error(w, r, err)
		return
	}

	h.jar.SetAccess(w, grant.AccessToken)
	response.OK(w, r, http.StatusOK, "Session refreshed", accessDocs{
		AccessToken: grant.AccessToken,
		User:        grant.User,
	})
}
