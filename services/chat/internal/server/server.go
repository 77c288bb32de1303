package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"zerogchat/internal/ratelimit"
	"zerogchat/internal/util"
	"zerogchat/services/chat/internal/app"
)

const (
	sessionCookieName    = "zg_session"
	oauthStateCookieName = "zg_oauth_state"
	oauthStateTTL        = 10 * time.Minute
	maxBodyBytes         = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	ChatLimiter    ratelimit.Limiter // turns per user; nil disables the limit
	AuthLimiter    ratelimit.Limiter // register/login per client IP; nil disables the limit
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	CookieSecure   bool
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app            *app.App
	chatLimiter    ratelimit.Limiter
	authLimiter    ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	cookieSecure   bool
	router         chi.Router
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		chatLimiter:    cfg.ChatLimiter,
		authLimiter:    cfg.AuthLimiter,
		trustedProxies: cfg.TrustedProxies,
		cookieSecure:   cfg.CookieSecure,
		router:         chi.NewRouter(),
	}
	s.routes(cfg.CORSOrigins)
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithRequestID(util.WithRequestLog(s.trustedProxies, s.router)))
}

func (s *Server) routes(origins []string) {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)

	r.Post("/api/register", s.handleRegister)
	r.Post("/api/login", s.handleLogin)
	r.Get("/api/auth/google/login", s.handleGoogleLogin)
	r.Get("/api/auth/google/callback", s.handleGoogleCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/api/logout", s.handleLogout)
		r.Get("/api/me", s.handleMe)

		r.Post("/api/chat", s.handleTurn)
		r.Post("/turn", s.handleTurn)

		r.Route("/api/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleCreateConversation)
			r.Get("/{id}", s.handleGetConversation)
			r.Put("/{id}", s.handleUpdateConversation)
			r.Patch("/{id}", s.handleUpdateConversation)
			r.Delete("/{id}", s.handleDeleteConversation)
		})
		r.Route("/api/folders", func(r chi.Router) {
			r.Get("/", s.handleListFolders)
			r.Post("/", s.handleCreateFolder)
			r.Put("/{id}", s.handleRenameFolder)
			r.Delete("/{id}", s.handleDeleteFolder)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
