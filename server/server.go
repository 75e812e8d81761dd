// Package server exposes the bot over HTTP: chat messages and interactions
// come in as JSON, session surfaces stream out over websockets.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Maiori44/tmatebot/command"
	"github.com/Maiori44/tmatebot/display"
	"github.com/Maiori44/tmatebot/manager"
)

// UserHeader carries the id of the chat user a request acts for.
const UserHeader = "X-Tmatebot-User"

// Server routes HTTP requests to the bot, the manager and the display hub.
type Server struct {
	bot     *command.Bot
	manager *manager.Manager
	hub     *display.Hub
	auth    *command.Authorizer
}

// New returns a server over the given components.
func New(bot *command.Bot, m *manager.Manager, hub *display.Hub, auth *command.Authorizer) *Server {
	return &Server{bot: bot, manager: m, hub: hub, auth: auth}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireUser)

		r.With(chimw.AllowContentType("application/json")).Post("/messages", s.postMessage)
		r.With(chimw.AllowContentType("application/json")).Post("/interactions", s.postInteraction)

		r.Get("/sessions", s.listSessions)
		r.Delete("/sessions", s.closeAllSessions)
		r.Delete("/sessions/{id}", s.closeSession)
		r.Get("/menu", s.getMenu)

		r.Get("/surfaces/{id}", s.getSurface)
		r.Delete("/surfaces/{id}", s.discardSurface)
	})

	r.With(s.requireViewer).Get("/ws/surfaces/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.hub.Serve(w, r, chi.URLParam(r, "id"))
	})

	return r
}
