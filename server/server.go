// Package server exposes the state of the ingestion runs over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/internal/metrics"
	"github.com/tarungka/lifelog/pipeline"
)

const shutdownTimeout = 5 * time.Second

// CheckpointReader loads stored checkpoints
type CheckpointReader interface {
	Load(ctx context.Context, sourceID string) (checkpoint.Checkpoint, bool, error)
}

// Server is the status server: /health, /runs, /checkpoints/{source} and
// /metrics
type Server struct {
	addr        string
	history     *pipeline.History
	checkpoints CheckpointReader
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func New(addr string, history *pipeline.History, checkpoints CheckpointReader, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		addr:        addr,
		history:     history,
		checkpoints: checkpoints,
		metrics:     m,
		logger:      logger,
	}
}

// Router builds the handler tree
func (s *Server) Router() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/health"))
	router.Use(middleware.CleanPath)
	router.Use(middleware.RequestID)
	router.Use(s.requestLogger)

	router.Get("/runs", s.listRuns)
	router.Mount("/checkpoints", s.checkpointRouter())
	if s.metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		SendResponse(w, []pipeline.Report{})
		return
	}
	reports := s.history.Recent()
	if source := r.URL.Query().Get("source"); source != "" {
		filtered := reports[:0]
		for _, rep := range reports {
			if rep.Source == source {
				filtered = append(filtered, rep)
			}
		}
		reports = filtered
	}
	SendResponse(w, reports)
}
