package handler

import (
	"net/http"

	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/service"
	"github.com/go-chi/chi/v5"
)

// Handler holds all dependencies needed by the HTTP handlers.
type Handler struct {
	cfg          *config.Config
	authService  *service.AuthService
	orchestrator *service.Orchestrator
	history      *service.HistoryService
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Cfg          *config.Config
	AuthService  *service.AuthService
	Orchestrator *service.Orchestrator
	History      *service.HistoryService
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		cfg:          deps.Cfg,
		authService:  deps.AuthService,
		orchestrator: deps.Orchestrator,
		history:      deps.History,
	}
}

// Register mounts all routes. authMW resolves the caller identity for
// the protected surface; rateMW bounds chat traffic per caller.
func (h *Handler) Register(r chi.Router, authMW, rateMW func(http.Handler) http.Handler) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(authMW)

		r.Group(func(r chi.Router) {
			r.Use(rateMW)
			r.Post("/api/chat", h.Chat)
			r.Post("/api/chat/stream", h.ChatStream)
		})

		r.Route("/api/history/{botID}", func(r chi.Router) {
			r.Get("/", h.ListHistory)
			r.Post("/new", h.NewChat)
			r.Route("/{chatID}", func(r chi.Router) {
				r.Get("/", h.HistoryDetail)
				r.Post("/rename", h.Rename)
				r.Post("/delete", h.Delete)
				r.Delete("/", h.Delete)
				r.Route("/messages/{messageID}", func(r chi.Router) {
					r.Post("/edit", h.EditMessage)
					r.Post("/edit/stream", h.EditMessageStream)
				})
			})
		})
	})
}
