package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/nancy-core/nancy/pkg/mode"
)

// getModeHandler handles GET /mode.
func (s *Server) getModeHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ModeResponse{Mode: string(s.gate.Mode())})
}

// setModeHandler handles POST /mode. Switching drains in-flight ingestion
// first, so the call can take a moment under load.
func (s *Server) setModeHandler(c *echo.Context) error {
	var req ModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	to := mode.Mode(req.Mode)
	if !to.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown mode: "+req.Mode)
	}

	if err := s.gate.Switch(c.Request().Context(), to); err != nil {
		return c.JSON(http.StatusServiceUnavailable, &ErrorBody{
			Outcome:   "rejected",
			ErrorKind: "mode_transition_failed",
			Message:   err.Error(),
			Mode:      string(s.gate.Mode()),
		})
	}
	s.metrics.ModeSwitches.Inc()

	return c.JSON(http.StatusOK, &ModeResponse{Mode: string(s.gate.Mode())})
}
