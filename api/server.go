package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thisisjab/logsieve/parser"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the parser registry over HTTP.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry *parser.Registry
}

func NewServer(cfg Config, logger *slog.Logger, registry *parser.Registry) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if registry == nil {
		return nil, errors.New("parser registry is required")
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
	}, nil
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/healthcheck", s.healthCheckHandler)
	mux.HandleFunc("GET /api/parsers", s.listParsersHandler)
	mux.HandleFunc("GET /api/parsers/{name}", s.getParserHandler)
	mux.HandleFunc("POST /api/parse", s.parseLineHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.recoverPanicMiddleware(s.requestLoggerMiddleware(s.corsMiddleware(mux)))
}

func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server", "addr", s.cfg.Addr)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown server", "addr", s.cfg.Addr, "error", err)
		}
	}()

	var serverErr error
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		s.logger.Info("starting server with TLS", "addr", s.cfg.Addr)
		serverErr = srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		s.logger.Info("starting server without TLS", "addr", s.cfg.Addr)
		serverErr = srv.ListenAndServe()
	}

	if serverErr != nil && !errors.Is(serverErr, http.ErrServerClosed) {
		return serverErr
	}

	return nil
}
