package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/rollcall/internal/web/handlers"
	"github.com/kozaktomas/rollcall/internal/web/middleware"
	"github.com/kozaktomas/rollcall/internal/web/static"
)

func (s *Server) setupRoutes() {
	// Create handlers
	configHandler := handlers.NewConfigHandler(s.config)
	sessionsHandler := handlers.NewSessionsHandler(s.manager, s.location, s.logger)
	windowsHandler := handlers.NewWindowsHandler(s.roster, s.location, s.logger)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(s.config.Web.APIToken))

		r.Get("/config", configHandler.Get)
		r.Get("/windows/{subjectId}", windowsHandler.List)

		// Sessions
		r.Get("/sessions", sessionsHandler.List)
		r.Post("/sessions", sessionsHandler.Create)
		r.Get("/sessions/{id}", sessionsHandler.Get)
		r.Post("/sessions/{id}/start", sessionsHandler.Start)
		r.Post("/sessions/{id}/end", sessionsHandler.End)
		r.Post("/sessions/{id}/marks", sessionsHandler.Mark)
		r.Get("/sessions/{id}/snapshot", sessionsHandler.Snapshot)
		r.Get("/sessions/{id}/live", sessionsHandler.Live)
		r.Post("/sessions/{id}/flush", sessionsHandler.Flush)

		// Live views
		r.Get("/sessions/{id}/events", sessionsHandler.Events)
		r.Get("/sessions/{id}/ws", sessionsHandler.WebSocket)
	})

	// Operator console
	s.router.Get("/*", s.serveConsole)
}

// serveConsole serves the embedded operator console.
func (s *Server) serveConsole(w http.ResponseWriter, r *http.Request) {
	fs := static.GetFileSystem()
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	f, err := fs.Open(path)
	if err != nil {
		// unknown paths fall back to the console page
		f, err = fs.Open("/index.html")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		path = "/index.html"
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(path, ".html"):
		contentType = "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		contentType = "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		contentType = "application/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".svg"):
		contentType = "image/svg+xml"
	case strings.HasSuffix(path, ".ico"):
		contentType = "image/x-icon"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}
