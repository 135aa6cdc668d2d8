package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/nancy-core/nancy/pkg/query"
)

// queryHandler handles POST /query.
func (s *Server) queryHandler(c *echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Question) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	start := time.Now()
	s.metrics.InFlightQueries.Inc()
	resp, err := s.executor.Execute(c.Request().Context(), req.Question, query.Options{
		TopK:          req.NResults,
		Style:         req.Style,
		PriorityBrain: req.PriorityBrain,
		IncludeRaw:    req.RawEvidence,
	})
	s.metrics.InFlightQueries.Dec()
	if err != nil {
		return s.writeError(c, err)
	}

	s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	s.metrics.QueriesTotal.WithLabelValues(resp.Intent, strconv.FormatBool(resp.Degraded)).Inc()

	return c.JSON(http.StatusOK, resp)
}
