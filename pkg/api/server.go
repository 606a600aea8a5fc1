package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/portfolio-deploy/pkg/log"
)

// ShutdownTimeout bounds graceful shutdown of the listeners
const ShutdownTimeout = 10 * time.Second

// Server runs the health service: the refresh loop, the health listener and
// an optional dedicated metrics listener
type Server struct {
	health      *HealthServer
	http        *http.Server
	metricsHTTP *http.Server
	logger      zerolog.Logger
}

// NewServer creates a server listening on addr. When metricsAddr is set and
// differs from addr, /metrics is also served there.
func NewServer(hs *HealthServer, addr, metricsAddr string) *Server {
	s := &Server{
		health: hs,
		http:   newHTTPServer(addr, hs.Handler()),
		logger: log.WithComponent("api"),
	}

	if metricsAddr != "" && metricsAddr != addr && hs.metrics != nil {
		r := chi.NewRouter()
		r.Use(RequestLogger(s.logger))
		r.Method(http.MethodGet, "/metrics", hs.metrics.Handler())
		s.metricsHTTP = newHTTPServer(metricsAddr, r)
	}
	return s
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run serves until ctx is cancelled, then shuts the listeners down
// gracefully. A listener failing to start ends Run with its error.
func (s *Server) Run(ctx context.Context) error {
	servers := []*http.Server{s.http}
	if s.metricsHTTP != nil {
		servers = append(servers, s.metricsHTTP)
	}

	// Bind first so address errors surface before anything else starts
	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		lis, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
		}
		listeners = append(listeners, lis)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.health.Run(gctx)
		return nil
	})

	for i, srv := range servers {
		srv := srv
		lis := listeners[i]
		g.Go(func() error {
			s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP server listening")
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
