// Package api exposes the provenance core over HTTP.
//
// REST routes live under /api/v1 and answer with the envelope
// {"status":"ok","data":...} or {"status":"error","error":{...}}.
// Collaborative editing uses a WebSocket per room at /ws/rooms/{artifactID}.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/artifact"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/collab"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/graph"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/ledger"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/presence"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/store"
)

// Deps are the components the API serves.
type Deps struct {
	Store     *store.Store
	Ledger    *ledger.Ledger
	Artifacts *artifact.Service
	Graph     *graph.Engine
	Collab    *collab.Engine
	Presence  *presence.Tracker
}

// Server builds the HTTP handler.
type Server struct {
	Deps
	auth     Authorizer
	logger   *zap.Logger
	upgrader websocket.Upgrader
	wsRate   rate.Limit
	wsBurst  int
}

// Option configures a Server.
type Option func(*Server)

// WithAuthorizer replaces the header authorizer.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Server) { s.auth = a }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithWebSocketRate limits inbound WebSocket messages per connection.
func WithWebSocketRate(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.wsRate = rate.Limit(perSecond)
		s.wsBurst = burst
	}
}

// NewServer creates a Server.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		Deps:    deps,
		auth:    HeaderAuthorizer{},
		logger:  zap.NewNop(),
		wsRate:  50,
		wsBurst: 100,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog(s.logger))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate(s.auth))
		r.Use(chimiddleware.Timeout(30 * time.Second))

		r.Route("/artifacts", func(r chi.Router) {
			r.Post("/", s.createArtifact)
			r.Get("/", s.listArtifacts)
			r.Get("/{id}", s.getArtifact)
			r.Patch("/{id}", s.updateArtifact)
			r.Delete("/{id}", s.deleteArtifact)
			r.Get("/{id}/history", s.artifactHistory)
			r.Get("/{id}/outdated", s.artifactOutdated)
			r.Get("/{id}/graph", s.artifactGraph)
			r.Get("/{id}/document", s.artifactDocument)
		})
		r.Route("/edges", func(r chi.Router) {
			r.Post("/", s.createEdge)
			r.Delete("/{id}", s.deleteEdge)
		})
		r.Route("/orgs/{org}", func(r chi.Router) {
			r.Get("/outdated", s.orgOutdated)
			r.Get("/integrity", s.orgIntegrity)
		})
		r.Route("/audit/{scope}", func(r chi.Router) {
			r.Get("/verify", s.verifyScope)
			r.Get("/entries", s.scopeEntries)
		})
		r.Route("/rooms/{artifactID}", func(r chi.Router) {
			r.Get("/", s.roomStatus)
			r.Get("/presence", s.roomPresence)
			r.Post("/compact", s.compactRoom)
		})
	})

	r.With(authenticate(s.auth)).Get("/ws/rooms/{artifactID}", s.serveRoom)
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"store": "ok",
		"rooms": len(s.Collab.Rooms()),
	})
}
