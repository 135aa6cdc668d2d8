// Package api exposes Nancy's HTTP surface: packet ingestion, legacy file
// ingestion, query execution, aggregate health, metrics, and the mode gate.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/ingest"
	"github.com/nancy-core/nancy/pkg/mcphost"
	"github.com/nancy-core/nancy/pkg/metrics"
	"github.com/nancy-core/nancy/pkg/mode"
	"github.com/nancy-core/nancy/pkg/packet"
	"github.com/nancy-core/nancy/pkg/query"
)

// PacketRouter routes a validated packet to its target brains.
type PacketRouter interface {
	Ingest(ctx context.Context, pkt *packet.KnowledgePacket) (*ingest.Receipt, error)
}

// QueryExecutor runs one question end to end.
type QueryExecutor interface {
	Execute(ctx context.Context, question string, opts query.Options) (*query.Response, error)
}

// FileProcessor converts a local file into a raw packet document.
type FileProcessor interface {
	ProcessFile(path string) ([]byte, error)
}

// ContentProcessor extracts a raw packet document from an external source
// through a routed MCP content processor.
type ContentProcessor interface {
	ProcessContent(ctx context.Context, contentType packet.ContentType, location string) ([]byte, error)
}

// HealthSource is the common probe shape the health endpoint polls.
type HealthSource interface {
	Health(ctx context.Context) brains.Health
}

// Server is Nancy's HTTP server.
type Server struct {
	validator *packet.Validator
	router    PacketRouter
	executor  QueryExecutor
	gate      *mode.Gate
	processor FileProcessor
	history   *ingest.History
	metrics   *metrics.Metrics
	logger    *slog.Logger

	host          *mcphost.Host
	contentProc   ContentProcessor
	healthSources map[string]HealthSource

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer wires the core components into an HTTP server and registers all
// routes. Optional collaborators (MCP host, brain health probes) are attached
// with setters before Start.
func NewServer(validator *packet.Validator, router PacketRouter, executor QueryExecutor,
	gate *mode.Gate, processor FileProcessor, history *ingest.History,
	m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		validator:     validator,
		router:        router,
		executor:      executor,
		gate:          gate,
		processor:     processor,
		history:       history,
		metrics:       m,
		logger:        logger.With("component", "api"),
		healthSources: make(map[string]HealthSource),
	}

	e := echo.New()
	e.Use(requestID(), securityHeaders())

	e.POST("/ingest/knowledge-packet", s.ingestPacketHandler)
	e.POST("/ingest/file", s.ingestFileHandler)
	e.POST("/ingest/legacy", s.ingestLegacyHandler)
	e.POST("/query", s.queryHandler)
	e.GET("/health", s.healthHandler)
	e.GET("/mode", s.getModeHandler)
	e.POST("/mode", s.setModeHandler)

	promHandler := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
	e.GET("/metrics", func(c *echo.Context) error {
		promHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	s.echo = e
	s.httpServer = &http.Server{Handler: e}
	return s
}

// SetMCPHost attaches the MCP host: /health reports its server statuses and
// /ingest/file routes extraction through it.
func (s *Server) SetMCPHost(h *mcphost.Host) {
	s.host = h
	s.contentProc = h
}

// SetContentProcessor overrides the extraction backend used by /ingest/file.
func (s *Server) SetContentProcessor(p ContentProcessor) {
	s.contentProc = p
}

// SetHealthSource registers a named health probe polled by /health.
func (s *Server) SetHealthSource(name string, src HealthSource) {
	s.healthSources[name] = src
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestID returns middleware that tags every response with a unique id so
// client reports can be matched against server logs.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set("X-Request-ID", id)
			return next(c)
		}
	}
}

// securityHeaders returns middleware that sets standard security response
// headers on every reply.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}
