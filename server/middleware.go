package server

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Maiori44/tmatebot/logger"
)

type contextKey string

const userContextKey contextKey = "user"

// requireUser admits only allow-listed users named by UserHeader. The
// custom header keeps cross-site pages from sending simple requests.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return s.authenticate(next, false)
}

// requireViewer is requireUser that also reads the "user" query parameter,
// for websocket upgrades where browsers cannot set headers. The upgrade
// itself rejects cross-origin requests.
func (s *Server) requireViewer(next http.Handler) http.Handler {
	return s.authenticate(next, true)
}

func (s *Server) authenticate(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(UserHeader)
		if user == "" && allowQuery {
			user = r.URL.Query().Get("user")
		}
		if user == "" {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !s.auth.Allowed(user) {
			logger.WithComponent("http").Warn("refused request by unauthorized user", "user", user, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "You are not authorized.")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFrom returns the user requireUser admitted.
func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userContextKey).(string)
	return user
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.WithComponent("http").Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}
