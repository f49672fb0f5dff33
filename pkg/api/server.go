// Package api assembles the HTTP surface: every domain package's
// routes behind one router, wrapped in the shared middleware chain.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/doorstep-crm/doorstep/pkg/auth"
	"github.com/doorstep-crm/doorstep/pkg/billing"
	"github.com/doorstep-crm/doorstep/pkg/campaigns"
	"github.com/doorstep-crm/doorstep/pkg/config"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/leads"
	"github.com/doorstep-crm/doorstep/pkg/middleware"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
	"github.com/doorstep-crm/doorstep/pkg/pipeline"
	"github.com/doorstep-crm/doorstep/pkg/platform"
)

// maxRequestBytes caps request bodies; large payloads (recordings) are
// fetched by key, never uploaded through the API.
const maxRequestBytes = 1 << 20

// RouteRegistrar is implemented by every domain handler set
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Dependencies carries everything the server wires together. The main
// binary builds one of these; tests build smaller ones.
type Dependencies struct {
	Auth        *auth.Handlers
	Permissions *permissions.Handlers
	Orgs        *orgs.Handlers
	Leads       *leads.Handlers
	Pipeline    *pipeline.Handlers
	Campaigns   *campaigns.Handlers
	Billing     *billing.Handlers
	Platform    *platform.Handlers

	AuthMiddleware *middleware.AuthMiddleware
	OrgGate        *middleware.OrgGateMiddleware
	RateLimit      *middleware.RateLimitMiddleware

	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Server is the assembled HTTP API
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer builds the router and middleware chain. Auth endpoints are
// mounted outside the authenticated subtree so login can happen
// without a session.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	router := mux.NewRouter()

	router.Use(httputil.RecoveryMiddleware)
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.CORSMiddleware(cfg.Server.CORSAllowedOrigins))
	router.Use(httputil.LoggingMiddleware)
	router.Use(httputil.MaxBytesMiddleware(maxRequestBytes))
	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	// Login, OIDC callback, logout, and /auth/me resolve their own
	// bearer tokens, so the /auth subtree mounts outside the
	// authenticated chain.
	if deps.Auth != nil {
		deps.Auth.RegisterRoutes(router)
	}

	// Everything else requires a session.
	apiRouter := router.PathPrefix("/").Subrouter()
	if deps.AuthMiddleware != nil {
		apiRouter.Use(deps.AuthMiddleware.Handler)
	}
	if deps.OrgGate != nil {
		apiRouter.Use(deps.OrgGate.Handler)
	}
	if deps.RateLimit != nil {
		apiRouter.Use(deps.RateLimit.Handler)
	}

	registrars := []RouteRegistrar{}
	if deps.Permissions != nil {
		registrars = append(registrars, deps.Permissions)
	}
	if deps.Orgs != nil {
		registrars = append(registrars, deps.Orgs)
	}
	if deps.Leads != nil {
		registrars = append(registrars, deps.Leads)
	}
	if deps.Pipeline != nil {
		registrars = append(registrars, deps.Pipeline)
	}
	if deps.Campaigns != nil {
		registrars = append(registrars, deps.Campaigns)
	}
	if deps.Billing != nil {
		registrars = append(registrars, deps.Billing)
	}
	if deps.Platform != nil {
		registrars = append(registrars, deps.Platform)
	}
	for _, registrar := range registrars {
		registrar.RegisterRoutes(apiRouter)
	}

	return &Server{router: router, logger: deps.Logger}
}

// Handler returns the server's HTTP handler, wrapped for tracing
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "doorstep.api")
}

// Router exposes the underlying router for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NewHTTPServer builds the net/http server around the API with the
// configured timeouts
func NewHTTPServer(cfg *config.Config, server *Server) *http.Server {
	return &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
