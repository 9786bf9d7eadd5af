// Package server exposes the scan and regulation trigger surfaces over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/spiralos/guardian/internal/regulation"
	"github.com/spiralos/guardian/internal/scanner"
	"github.com/spiralos/guardian/internal/types"
)

// Error codes returned in ErrorResponse.Code
const (
	CodeUnauthorized   = "unauthorized"
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Scanner runs scans
type Scanner interface {
	Scan(ctx context.Context, req scanner.Request) (*scanner.Report, error)
}

// Regulator runs regulation requests
type Regulator interface {
	Regulate(ctx context.Context, req regulation.Request) (*regulation.Report, error)
}

// Server is the guardian HTTP API
type Server struct {
	router    *gin.Engine
	scanner   Scanner
	regulator Regulator
	config    *Config
	started   time.Time
}

// ServerConfig holds the dependencies of a Server
type ServerConfig struct {
	Scanner   Scanner
	Regulator Regulator
	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
	Config   *Config
	// ServiceName labels request spans
	ServiceName string
}

// New creates the server and registers its routes
func New(cfg *ServerConfig) (*Server, error) {
	if cfg.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if cfg.Regulator == nil {
		return nil, fmt.Errorf("regulator is required")
	}
	config := cfg.Config
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if config.APIKey == "" {
		fmt.Printf("Warning: no API key configured, trigger endpoints will reject every request\n")
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "guardian"
	}

	s := &Server{
		router:    gin.New(),
		scanner:   cfg.Scanner,
		regulator: cfg.Regulator,
		config:    config,
		started:   time.Now(),
	}
	s.router.HandleMethodNotAllowed = true
	s.router.Use(gin.Logger(), gin.Recovery(), otelgin.Middleware(serviceName))

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/v1/guardian")
	v1.GET("/health", s.handleHealth)

	authed := v1.Group("", AuthMiddleware(config.APIKey))
	authed.POST("/anomalies/scan", s.handleScan)
	authed.POST("/regulate", s.handleRegulate)

	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Server: listening on %s\n", s.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	fmt.Printf("Server: shutting down\n")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// scanBody accepts node_id or its legacy alias bridge_id
type scanBody struct {
	NodeID   string `json:"node_id"`
	BridgeID string `json:"bridge_id"`
	ScanAll  bool   `json:"scan_all"`
}

func (s *Server) handleScan(c *gin.Context) {
	var body scanBody
	if err := c.ShouldBindJSON(&body); err != nil {
		if !errors.Is(err, io.EOF) {
			abort(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		// An empty body scans every active node
		body.ScanAll = true
	}

	req := scanner.Request{NodeID: body.NodeID, ScanAll: body.ScanAll}
	if req.NodeID == "" {
		req.NodeID = body.BridgeID
	}

	report, err := s.scanner.Scan(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// regulateBody accepts bridge_id or node_id
type regulateBody struct {
	AnomalyID string               `json:"anomaly_id"`
	BridgeID  string               `json:"bridge_id"`
	NodeID    string               `json:"node_id"`
	Mode      types.RegulationMode `json:"mode"`
}

func (s *Server) handleRegulate(c *gin.Context) {
	var body regulateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req := regulation.Request{AnomalyID: body.AnomalyID, NodeID: body.BridgeID, Mode: body.Mode}
	if req.NodeID == "" {
		req.NodeID = body.NodeID
	}
	if err := req.Validate(); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	report, err := s.regulator.Regulate(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// fail maps domain errors onto HTTP statuses
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scanner.ErrInvalidRequest), errors.Is(err, regulation.ErrInvalidRequest):
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		abort(c, http.StatusNotFound, CodeNotFound, err.Error())
	default:
		fmt.Printf("Server: request failed: %v\n", err)
		abort(c, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}
