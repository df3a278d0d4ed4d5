package handler

import (
	"net/http"
	"time"

	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/domain"
	"github.com/coachdesk/coachd/internal/service"
)

type userBody struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserBody(u *domain.User) userBody {
	return userBody{ID: u.ID, FullName: u.FullName, Email: u.Email, CreatedAt: u.CreatedAt}
}

type authResponse struct {
	User        userBody `json:"user"`
	AccessToken string   `json:"access_token"`
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, pair service.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.AccessCookieName,
		Value:    pair.Access,
		Path:     "/",
		MaxAge:   int(h.cfg.AccessTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     config.RefreshCookieName,
		Value:    pair.Refresh,
		Path:     "/api/auth",
		MaxAge:   int(h.cfg.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name: config.AccessCookieName, Value: "", Path: "/", MaxAge: -1,
		HttpOnly: true, Secure: h.cfg.CookieSecure, SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: config.RefreshCookieName, Value: "", Path: "/api/auth", MaxAge: -1,
		HttpOnly: true, Secure: h.cfg.CookieSecure, SameSite: http.SameSiteLaxMode,
	})
}

func refreshTokenFrom(r *http.Request, bodyToken string) string {
	if c, err := r.Cookie(config.RefreshCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return bodyToken
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, pair, err := h.authService.Signup(r.Context(), req.FullName, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusCreated, authResponse{User: toUserBody(user), AccessToken: pair.Access})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	user, pair, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, authResponse{User: toUserBody(user), AccessToken: pair.Access})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// Body is optional when the cookie carries the token.
	_ = decodeQuiet(r, &req)

	token := refreshTokenFrom(r, req.RefreshToken)
	if token == "" {
		writeError(w, domain.ErrInvalidToken)
		return
	}

	user, pair, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		h.clearAuthCookies(w)
		writeError(w, err)
		return
	}
	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, authResponse{User: toUserBody(user), AccessToken: pair.Access})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = decodeQuiet(r, &req)

	if err := h.authService.Logout(r.Context(), refreshTokenFrom(r, req.RefreshToken)); err != nil {
		writeError(w, err)
		return
	}
	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	// Same answer whether or not the account exists.
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
