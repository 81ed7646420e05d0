// Package api exposes the replay engine and run storage over HTTP.
package api

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/pump-replay-go/internal/config"
	"github.com/MJE43/pump-replay-go/internal/livestore"
	"github.com/MJE43/pump-replay-go/internal/scan"
	"github.com/MJE43/pump-replay-go/internal/store"
)

// Server wires the HTTP surface to the scanner and stores.
type Server struct {
	cfg     config.Settings
	runs    store.DB
	live    *livestore.Store
	scanner *scan.Scanner
	logger  *log.Logger
}

// New builds a server. live may be nil to disable the live-stream routes.
func New(cfg config.Settings, runs store.DB, live *livestore.Store) *Server {
	return &Server{
		cfg:     cfg,
		runs:    runs,
		live:    live,
		scanner: scan.New(),
		logger:  log.New(os.Stdout, "api ", log.LstdFlags),
	}
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(middleware.Heartbeat("/health"))
	r.Use(s.cors)

	r.Get("/verify", s.handleVerify)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/hits", s.handleRunHits)
			r.Get("/distances", s.handleRunDistances)
			r.Get("/distances.csv", s.handleRunDistancesCSV)
			r.Get("/export/hits.csv", s.handleExportHitsCSV)
			r.Get("/export/full.csv", s.handleExportFullCSV)
		})
	})

	if s.live != nil {
		r.Route("/live", func(r chi.Router) {
			r.Post("/ingest", s.handleIngest)
			r.Get("/streams", s.handleListStreams)
			r.Route("/streams/{streamID}", func(r chi.Router) {
				r.Get("/", s.handleStreamDetail)
				r.Put("/", s.handleStreamUpdate)
				r.Delete("/", s.handleStreamDelete)
				r.Get("/bets", s.handleStreamBets)
				r.Get("/tail", s.handleStreamTail)
				r.Get("/multipliers", s.handleStreamMultipliers)
				r.Get("/hits", s.handleStreamHits)
				r.Get("/hits/batch", s.handleStreamHitsBatch)
				r.Get("/hits/stats", s.handleStreamHitStats)
				r.Get("/export.csv", s.handleStreamExportCSV)
			})
		})
	}

	return r
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Ingest-Token")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
