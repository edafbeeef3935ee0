// Package server assembles the MedLens gateway: routes, middleware, tool
// backends, and the live-session drain hooks used during shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ssk3000x/MedLens/pkg/gateway/config"
	"github.com/ssk3000x/MedLens/pkg/gateway/handlers"
	"github.com/ssk3000x/MedLens/pkg/gateway/lifecycle"
	"github.com/ssk3000x/MedLens/pkg/gateway/live/sessions"
	"github.com/ssk3000x/MedLens/pkg/gateway/mw"
	"github.com/ssk3000x/MedLens/pkg/gateway/tools/adapters/gmail"
	"github.com/ssk3000x/MedLens/pkg/gateway/tools/adapters/medsearch"
	"github.com/ssk3000x/MedLens/pkg/gateway/tools/interactions"
	"github.com/ssk3000x/MedLens/pkg/gateway/tools/profiles"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	httpClient   *http.Client
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker
	profileStore profiles.Store
	pgStore      *profiles.PGStore
}

// New builds the gateway. When cfg.DatabaseURL is set, medication profiles
// come from PostgreSQL; otherwise an empty in-memory store serves lookups.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		httpClient:   httpClient,
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
	}

	if cfg.DatabaseURL != "" {
		pg, err := profiles.NewPGStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect profile store: %w", err)
		}
		s.pgStore = pg
		s.profileStore = pg
	} else {
		logger.Info("no database configured, medication profiles are empty")
		s.profileStore = profiles.NewStaticStore(nil)
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})

	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
	})

	s.mux.Handle("/v1/tools/check-interaction", handlers.CheckInteractionHandler{
		Checker: &interactions.Checker{
			Profiles: s.profileStore,
			Search:   medsearch.NewClient(s.cfg.SearchAPIKey, s.cfg.SearchBaseURL, s.httpClient),
		},
		Logger: s.logger,
		Budget: s.cfg.ToolRequestBudget,
	})
	s.mux.Handle("/v1/tools/draft-email", handlers.DraftEmailHandler{
		Drafts: gmail.NewClient(s.cfg.GmailAccessToken, s.cfg.GmailBaseURL, s.httpClient),
		Logger: s.logger,
		Budget: s.cfg.ToolRequestBudget,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so load balancers stop routing here.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// WarnLiveSessionsDraining pushes a warning envelope to every open session.
func (s *Server) WarnLiveSessionsDraining() int {
	return s.liveSessions.WarnAll("draining", "gateway is shutting down")
}

// WaitLiveSessions blocks until every live session has ended or ctx
// expires. It reports whether all sessions drained in time.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

// CancelLiveSessions force-closes the sessions that outlived the drain.
func (s *Server) CancelLiveSessions() int {
	return s.liveSessions.CancelAll()
}

// Close releases backend resources. Call after the HTTP server has stopped.
func (s *Server) Close() {
	if s.pgStore != nil {
		s.pgStore.Close()
	}
}
