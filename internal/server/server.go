// Package server provides the botlabel HTTP API.
//
// It is the boundary a review front-end talks to: it lists clusters still
// waiting for labels, serves their user ids and embeddings for display, and
// accepts the reviewer's annotation table.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hurttlocker/botlabel/internal/label"
	"github.com/hurttlocker/botlabel/internal/metrics"
	"github.com/hurttlocker/botlabel/internal/store"
)

// DefaultBodyLimit caps annotation uploads.
const DefaultBodyLimit = "8M"

// Store is the read side the API needs.
type Store interface {
	ClusterEmbeddings(ctx context.Context, clusterID int64) ([][]float32, error)
	ClusterUserIDs(ctx context.Context, clusterID int64) ([]string, error)
	UnlabeledClusters(ctx context.Context) ([]int64, error)
	GetUser(ctx context.Context, userID string) (*store.UserRecord, error)
	UserMemberships(ctx context.Context, userID string) ([]*store.UserRecord, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Labeler applies annotation tables.
type Labeler interface {
	LabelUsers(ctx context.Context, anns []label.Annotation) (*label.Result, error)
}

// Server provides HTTP endpoints for botlabel.
type Server struct {
	echo    *echo.Echo
	store   Store
	labeler Labeler
	logger  *zap.Logger
}

// New creates a server over st and lb.
func New(st Store, lb Labeler, logger *zap.Logger) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if lb == nil {
		return nil, fmt.Errorf("labeler cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(DefaultBodyLimit))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the response so the status is final.
				c.Error(err)
			}
			duration := time.Since(start)
			route := c.Path()
			status := c.Response().Status

			metrics.HTTPRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(duration.Seconds())

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:    e,
		store:   st,
		labeler: lb,
		logger:  logger,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/clusters/unlabeled", s.handleUnlabeled)
	api.GET("/clusters/:id", s.handleCluster)
	api.GET("/users/:id", s.handleUser)
	api.POST("/labels", s.handleLabels)
	api.GET("/stats", s.handleStats)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
