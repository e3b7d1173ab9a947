// Package api serves the REST surface of the risk engine: positions,
// aggregates, quotes, fills and intent submission. Every monetary figure
// is scaled for the caller's role (X-Role header) before it is written.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trading-riskv1/internal/display"
	"trading-riskv1/internal/portfolio"
	"trading-riskv1/internal/sizing"
	sqlitestore "trading-riskv1/internal/store/sqlite"
)

// RoleHeader carries the caller's role.
const RoleHeader = "X-Role"

// Engine is the part of the engine the API uses.
type Engine interface {
	Aggregates() portfolio.Aggregates
	Quotes() []portfolio.Quote
	Translate(intent sizing.Intent) (sizing.ConcreteOrder, error)
	Submit(ctx context.Context, intent sizing.Intent) (sizing.ConcreteOrder, error)
}

// FillStore lists journaled fills.
type FillStore interface {
	GetFills(ctx context.Context, token string, limit int) ([]sqlitestore.FillRecord, error)
}

// Config configures the server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	SubmitTimeout  time.Duration // default 45s
}

// Server handles REST requests.
type Server struct {
	engine Engine
	fills  FillStore
	scaler display.Scaler
	cfg    Config
	router *mux.Router
	srv    *http.Server
}

// NewServer creates the server and its routes. fills may be nil.
func NewServer(cfg Config, engine Engine, fills FillStore, scaler display.Scaler) *Server {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 45 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		engine: engine,
		fills:  fills,
		scaler: scaler,
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handleGetPositions).Methods(http.MethodGet)
	api.HandleFunc("/aggregates", s.handleGetAggregates).Methods(http.MethodGet)
	api.HandleFunc("/quotes", s.handleGetQuotes).Methods(http.MethodGet)
	api.HandleFunc("/fills", s.handleGetFills).Methods(http.MethodGet)
	api.HandleFunc("/intents/kinds", s.handleGetIntentKinds).Methods(http.MethodGet)
	api.HandleFunc("/positions/{token}/intents", s.handleSubmitIntent).Methods(http.MethodPost)
}

// Mount attaches h at path, e.g. the websocket gateway at /ws.
func (s *Server) Mount(path string, h http.Handler) {
	s.router.Handle(path, h)
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RoleHeader},
	})
	return c.Handler(s.router)
}

// Start listens in a goroutine.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("[api] server listening on %s", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
