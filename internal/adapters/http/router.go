package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatekit/portal/internal/application"
)

// Handler is the HTTP adapter entrypoint for the login portal.
type Handler struct {
	service       *application.Service
	rememberTTL   time.Duration
	secureCookies bool
}

type HandlerConfig struct {
	RememberTTL   time.Duration
	SecureCookies bool
}

func NewHandler(service *application.Service, cfg HandlerConfig) *Handler {
	rememberTTL := cfg.RememberTTL
	if rememberTTL <= 0 {
		rememberTTL = 30 * 24 * time.Hour
	}
	return &Handler{
		service:       service,
		rememberTTL:   rememberTTL,
		secureCookies: cfg.SecureCookies,
	}
}

// NewRouter registers the portal routes and middleware stack. Identity is
// resolved once in middleware so every route sees the same answer.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(handler.identityMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/", handler.home)
	r.Get("/index", handler.home)
	r.Get("/login", handler.loginForm)
	r.Post("/login", handler.loginSubmit)
	r.Get("/auth/callback", handler.callback)
	r.Get("/logout", handler.logout)

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
