// SPDX-License-Identifier: Apache-2.0

// Package server wires the HTTP surface of the authorization server: the
// OAuth and interceptor endpoints, per-tenant discovery, health probes and
// the metrics listener.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/uitsmijter/uitsmijter/pkg/clientinfo"
	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/metrics"
	"github.com/uitsmijter/uitsmijter/pkg/provider"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

// Server carries every dependency of the request path.
type Server struct {
	Settings *config.Settings
	Store    *entities.Store
	Sessions session.Store
	Tokens   *token.Service
	Keys     token.KeyProvider
	Chain    *provider.Chain
	Metrics  *metrics.Metrics
	Views    *Views

	resolver *clientinfo.Resolver

	// ready is set once the session store exists; loaderFailed flips when
	// a watch stream is lost. Both feed /health/ready.
	ready        atomic.Bool
	loaderFailed atomic.Bool
}

// New assembles a server from its dependencies.
func New(settings *config.Settings, store *entities.Store, sessions session.Store,
	tokens *token.Service, keys token.KeyProvider, chain *provider.Chain,
	m *metrics.Metrics, views *Views) *Server {

	s := &Server{
		Settings: settings,
		Store:    store,
		Sessions: sessions,
		Tokens:   tokens,
		Keys:     keys,
		Chain:    chain,
		Metrics:  m,
		Views:    views,
		resolver: &clientinfo.Resolver{Store: store, Tokens: tokens, Settings: settings},
	}
	s.ready.Store(sessions != nil)
	return s
}

// SetReady flips the readiness probe, e.g. once the session store exists.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// LoaderFailed marks a fatal loader error; readiness turns false.
func (s *Server) LoaderFailed(err error) {
	logger.Errorw("entity loader failed, marking not ready", "error", err)
	s.loaderFailed.Store(true)
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/authorize", s.handleAuthorize)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Post("/token", s.handleToken)
	r.Get("/token/info", s.handleTokenInfo)
	r.Get("/interceptor", s.handleInterceptor)
	r.Get("/logout", s.handleLogout)
	r.Get("/logout/finalize", s.handleLogoutFinalize)
	r.Get("/.well-known/openid-configuration", s.handleDiscovery)
	r.Get("/.well-known/jwks.json", s.handleJWKS)
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}

// storeCtx bounds a session-store round trip.
func storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, config.StoreTimeout)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tenant := s.tenantForRequest(r)
	s.Views.Render(w, http.StatusOK, tenant, ViewIndex, ViewData{Version: s.Settings.Version})
}

// tenantForRequest resolves the tenant responsible for the request host,
// for pages that work without full client resolution.
func (s *Server) tenantForRequest(r *http.Request) *entities.Tenant {
	host := r.Header.Get(clientinfo.HeaderForwardedHost)
	if host == "" {
		host = r.Host
	}
	if tenant, ok := s.Store.FindTenantForHost(host); ok {
		return &tenant
	}
	return nil
}
