package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/mcphost"
	"github.com/nancy-core/nancy/pkg/metrics"
	"github.com/nancy-core/nancy/pkg/version"
)

const healthProbeTimeout = 5 * time.Second

// healthHandler handles GET /health. It polls every registered health source
// synchronously and rolls the results up into one status; there is no cached
// or self-referential state that could deadlock.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), healthProbeTimeout)
	defer cancel()

	brainHealth := make(map[string]brains.Health, len(s.healthSources))
	for name, src := range s.healthSources {
		h := src.Health(reqCtx)
		s.metrics.ObserveBrainHealth(name, h)
		brainHealth[name] = h
	}

	resp := &HealthResponse{
		Status:  metrics.Overall(brainHealth),
		Version: version.GitCommit,
		Mode:    string(s.gate.Mode()),
		Brains:  brainHealth,
	}

	if s.host != nil {
		resp.MCPServers = s.host.Statuses()
		var healthy int
		for _, st := range resp.MCPServers {
			if st.State == mcphost.StateHealthy {
				healthy++
			}
		}
		s.metrics.MCPServersHealthy.Set(float64(healthy))
		s.metrics.MCPServersTotal.Set(float64(len(resp.MCPServers)))
		if !s.host.IsHealthy() && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	if s.history != nil {
		succeeded, failed, err := s.history.Counts(reqCtx)
		if err == nil {
			resp.Ingest = &IngestStats{Succeeded: succeeded, Failed: failed}
		}
	}

	httpStatus := http.StatusOK
	if resp.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
