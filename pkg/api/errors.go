package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/nancy-core/nancy/pkg/ingest"
	"github.com/nancy-core/nancy/pkg/mcphost"
	"github.com/nancy-core/nancy/pkg/mode"
	"github.com/nancy-core/nancy/pkg/packet"
)

// ErrorBody is the failure shape surfaced to clients.
type ErrorBody struct {
	Outcome    string                    `json:"outcome"`
	ErrorKind  string                    `json:"error_kind"`
	Message    string                    `json:"message"`
	Mode       string                    `json:"mode,omitempty"`
	RetryAfter int                       `json:"retry_after,omitempty"`
	Violations []*packet.ValidationError `json:"violations,omitempty"`
}

// writeError maps component errors to HTTP responses. Validation failures are
// itemized so clients can fix the offending fields; a mode rejection carries
// the active mode.
func (s *Server) writeError(c *echo.Context, err error) error {
	var verrs packet.ValidationErrors
	if errors.As(err, &verrs) {
		kind := "validation_error"
		if verrs.IsHashMismatch() {
			kind = "hash_mismatch"
		}
		return c.JSON(http.StatusBadRequest, &ErrorBody{
			Outcome:    "rejected",
			ErrorKind:  kind,
			Message:    verrs.Error(),
			Violations: verrs,
		})
	}

	var rej *mode.RejectionError
	if errors.As(err, &rej) {
		return c.JSON(http.StatusConflict, &ErrorBody{
			Outcome:   "rejected",
			ErrorKind: "mode_rejection",
			Message:   rej.Error(),
			Mode:      string(rej.Mode),
		})
	}

	if errors.Is(err, ingest.ErrDraining) {
		return c.JSON(http.StatusServiceUnavailable, &ErrorBody{
			Outcome:    "rejected",
			ErrorKind:  "draining",
			Message:    err.Error(),
			RetryAfter: 1,
		})
	}

	if errors.Is(err, mcphost.ErrNoProcessor) {
		return c.JSON(http.StatusServiceUnavailable, &ErrorBody{
			Outcome:   "failed",
			ErrorKind: "server_unavailable",
			Message:   err.Error(),
		})
	}

	s.logger.Error("unexpected API error", "error", err)
	return c.JSON(http.StatusInternalServerError, &ErrorBody{
		Outcome:   "failed",
		ErrorKind: "internal",
		Message:   "internal server error",
	})
}
