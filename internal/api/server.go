// SPDX-License-Identifier: MIT

// Package api exposes the token registry over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sambitos23/walkie-lazy/internal/log"
	"github.com/sambitos23/walkie-lazy/internal/ratelimit"
	"github.com/sambitos23/walkie-lazy/internal/registry"
)

// Server holds the registry API dependencies.
type Server struct {
	svc       *registry.Service
	limiter   *ratelimit.Limiter
	globalRPM int
	logger    zerolog.Logger
}

// NewServer creates the API server. globalRPM is the outer per-IP
// request budget; the per-scope fixed windows live in limiter.
func NewServer(svc *registry.Service, limiter *ratelimit.Limiter, globalRPM int) *Server {
	return &Server{
		svc:       svc,
		limiter:   limiter,
		globalRPM: globalRPM,
		logger:    log.WithComponent("api"),
	}
}

// Router builds the full middleware stack and route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	if s.globalRPM > 0 {
		r.Use(httprate.Limit(
			s.globalRPM,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(globalLimitHandler),
		))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/tokens", func(r chi.Router) {
		r.With(s.scopeLimit(ratelimit.ScopeRegister)).Post("/", s.handleRegister)
		r.With(s.scopeLimit(ratelimit.ScopeExchange)).Put("/", s.handleExchange)
		r.With(s.scopeLimit(ratelimit.ScopeRevoke)).Delete("/", s.handleRevoke)
		r.With(s.scopeLimit(ratelimit.ScopeVerify)).Post("/verify", s.handleVerify)
	})

	return otelhttp.NewHandler(r, "walkie-registry")
}
