package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codewatch/control-room/internal/auth"
	middlewarePkg "github.com/codewatch/control-room/internal/middleware"
	hubService "github.com/codewatch/control-room/internal/service/hub"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(api SessionAPI, h *hubService.Hub, admitter *auth.Admitter, writer SessionWriter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessionHandler := NewSessions(api, writer)
	streamHandler := NewStream(h, admitter)
	healthHandler := NewHealth(api)

	r.Route("/api", func(r chi.Router) {
		sessionHandler.RegisterRoutes(r)
		r.Get("/stream", streamHandler.handleStream)
	})

	r.Get("/healthz", healthHandler.handleLiveness)
	r.Get("/readyz", healthHandler.handleReadiness)

	return r
}
