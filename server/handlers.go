package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Maiori44/tmatebot/command"
	"github.com/Maiori44/tmatebot/manager"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// statusFor maps bot and manager errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, command.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, command.ErrWrongPassword):
		return http.StatusUnauthorized
	case errors.Is(err, command.ErrLoginDisabled), errors.Is(err, manager.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, command.ErrInvalidTimeout):
		return http.StatusBadRequest
	case errors.Is(err, command.ErrUnknown), errors.Is(err, manager.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, manager.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// reply is a bot response plus the error that came with it, if any.
type reply struct {
	command.Response
	Error string `json:"error,omitempty"`
}

func writeReply(w http.ResponseWriter, resp command.Response, err error) {
	body := reply{Response: resp}
	if err != nil {
		body.Error = err.Error()
	}
	writeJSON(w, statusFor(err), body)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Registry().Len(),
	})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	received := time.Now()
	var msg command.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	msg.User = userFrom(r)
	if msg.Author == "" {
		msg.Author = msg.User
	}
	msg.Received = received

	resp, err := s.bot.HandleMessage(r.Context(), msg)
	writeReply(w, resp, err)
}

func (s *Server) postInteraction(w http.ResponseWriter, r *http.Request) {
	var in command.Interaction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	in.User = userFrom(r)
	if in.Author == "" {
		in.Author = in.User
	}

	resp, err := s.bot.HandleInteraction(r.Context(), in)
	writeReply(w, resp, err)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Registry().Snapshot())
}

type outcomeJSON struct {
	ID    string `json:"id"`
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type reportJSON struct {
	Outcomes []outcomeJSON `json:"outcomes"`
	Failed   int           `json:"failed"`
	Summary  string        `json:"summary"`
}

func toReportJSON(report manager.Report) reportJSON {
	out := reportJSON{
		Outcomes: make([]outcomeJSON, len(report)),
		Failed:   report.Failed(),
		Summary:  report.String(),
	}
	for i, o := range report {
		out.Outcomes[i] = outcomeJSON{ID: o.ID, Ok: o.Err == nil}
		if o.Err != nil {
			out.Outcomes[i].Error = o.Err.Error()
		}
	}
	return out
}

func (s *Server) closeAllSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toReportJSON(s.manager.CloseAll(r.Context())))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Close(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getMenu(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Menu())
}

func (s *Server) getSurface(w http.ResponseWriter, r *http.Request) {
	frame, ok := s.hub.Frame(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Surface not found")
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

// discardSurface drops a surface once its session is gone.
func (s *Server) discardSurface(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.hub.Frame(id); !ok {
		writeError(w, http.StatusNotFound, "Surface not found")
		return
	}
	if s.manager.Registry().Has(id) {
		writeError(w, http.StatusConflict, "Session is still running")
		return
	}
	s.hub.Discard(id)
	w.WriteHeader(http.StatusNoContent)
}
