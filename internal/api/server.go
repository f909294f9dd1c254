// Package api is the public query surface: station metadata, observation
// series, aggregates, source freshness, and map tiles.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidewatch/tidewatch/internal/domain"
	"github.com/tidewatch/tidewatch/internal/observability"
	"github.com/tidewatch/tidewatch/internal/store"
)

// DataStore is the read surface the API serves from.
type DataStore interface {
	ListStations(ctx context.Context, bbox *store.BBox) ([]domain.Station, error)
	Observations(ctx context.Context, q store.ObservationQuery) ([]domain.Observation, *store.Cursor, error)
	Summarize(ctx context.Context, q store.SummaryQuery) ([]store.SummaryRow, error)
	LastSuccessPerSource(ctx context.Context) (map[string]time.Time, error)
	LatestRunPerSource(ctx context.Context) (map[string]domain.JobRun, error)
}

// TileServer serves rendered tile bytes with their content hash.
type TileServer interface {
	Tile(ctx context.Context, layer domain.TileLayer, z, x, y int, bucket string) ([]byte, string, error)
}

// ReadinessChecker reports whether the service can reach its dependencies.
type ReadinessChecker interface {
	Ping(ctx context.Context) error
}

// Server bundles the router and its dependencies.
type Server struct {
	addr    string
	data    DataStore
	tiles   TileServer
	ready   ReadinessChecker
	sources []domain.Source
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	engine  *gin.Engine
}

// NewServer constructs the API server with routes and middleware.
func NewServer(addr string, data DataStore, tiles TileServer, ready ReadinessChecker, sources []domain.Source, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:    addr,
		data:    data,
		tiles:   tiles,
		ready:   ready,
		sources: sources,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		engine:  engine,
	}
	engine.Use(s.requestMetrics())
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server starting", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/readyz", s.handleReady)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/stations", s.handleStations)
		v1.GET("/obs", s.handleObservations)
		v1.GET("/obs/summary", s.handleSummary)
		v1.GET("/status", s.handleStatus)
		v1.GET("/tiles/:layer/:z/:x/:y", s.handleTile)
	}
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// requestMetrics observes request duration per route and status. The route
// template is used, not the raw path, to keep label cardinality bounded.
func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
