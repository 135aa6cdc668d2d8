package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/nancy-core/nancy/pkg/ingest"
	"github.com/nancy-core/nancy/pkg/mcphost"
	"github.com/nancy-core/nancy/pkg/mode"
	"github.com/nancy-core/nancy/pkg/packet"
)

// maxPacketBytes bounds a single packet submission.
const maxPacketBytes = 16 << 20

// ingestPacketHandler handles POST /ingest/knowledge-packet. The body is a
// complete Knowledge Packet produced by an MCP content processor.
func (s *Server) ingestPacketHandler(c *echo.Context) error {
	s.metrics.PacketsReceived.Inc()
	if err := s.gate.Allow(mode.SourceMCP); err != nil {
		return s.writeError(c, err)
	}

	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPacketBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}
	return s.validateAndIngest(c, raw)
}

// ingestFileHandler handles POST /ingest/file. The named source is handed to
// the MCP host, which routes it to a content processor for its content type;
// the returned packet document flows through the normal validation path.
func (s *Server) ingestFileHandler(c *echo.Context) error {
	s.metrics.PacketsReceived.Inc()
	if err := s.gate.Allow(mode.SourceMCP); err != nil {
		return s.writeError(c, err)
	}

	var req IngestFileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Location) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "location field is required")
	}
	ct := packet.ContentType(req.ContentType)
	if !ct.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown content_type %q", req.ContentType))
	}
	if s.contentProc == nil {
		return s.writeError(c, mcphost.ErrNoProcessor)
	}

	raw, err := s.contentProc.ProcessContent(c.Request().Context(), ct, req.Location)
	if err != nil {
		return s.writeError(c, err)
	}
	return s.validateAndIngest(c, raw)
}

// ingestLegacyHandler handles POST /ingest/legacy. Multipart form: a "file"
// part plus optional "author" and "title" fields. The file is converted to a
// Knowledge Packet by the built-in processor and then ingested like any other.
func (s *Server) ingestLegacyHandler(c *echo.Context) error {
	s.metrics.PacketsReceived.Inc()
	if err := s.gate.Allow(mode.SourceLegacy); err != nil {
		return s.writeError(c, err)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}

	dir, err := os.MkdirTemp("", "nancy-upload-*")
	if err != nil {
		return s.writeError(c, err)
	}
	defer os.RemoveAll(dir)

	// Preserve the original file name; the processor derives chunk ids and
	// the packet title from it.
	dst := filepath.Join(dir, filepath.Base(fh.Filename))
	if err := saveUpload(fh, dst); err != nil {
		return s.writeError(c, err)
	}

	raw, err := s.processor.ProcessFile(dst)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	overrides := map[string]string{
		"author": c.FormValue("author"),
		"title":  c.FormValue("title"),
	}
	raw, err = patchMetadata(raw, overrides)
	if err != nil {
		return s.writeError(c, err)
	}

	return s.validateAndIngest(c, raw)
}

// validateAndIngest runs the shared validation-then-routing tail of every
// ingestion path. A rejected document still leaves a failed ingest record
// when it decoded far enough to expose its packet id.
func (s *Server) validateAndIngest(c *echo.Context, raw []byte) error {
	pkt, violations := s.validator.ValidationErrors(raw)
	if len(violations) > 0 {
		s.recordRejected(c, pkt, violations)
		return s.writeError(c, violations)
	}
	return s.ingest(c, pkt)
}

// recordRejected writes a failed ingest record for a packet that did not
// pass validation, when the document carried a usable packet id.
func (s *Server) recordRejected(c *echo.Context, pkt *packet.KnowledgePacket, violations packet.ValidationErrors) {
	s.metrics.PacketOutcomes.WithLabelValues("failed").Inc()
	if s.history == nil || pkt == nil || pkt.PacketID == "" {
		return
	}
	err := s.history.Record(c.Request().Context(), pkt.PacketID, "validator",
		ingest.OutcomeFailed, 1, violations.Error())
	if err != nil {
		s.logger.Warn("failed to record rejected packet",
			"packet_id", pkt.PacketID, "error", err)
	}
}

// ingest routes the packet and translates the receipt into the wire outcome.
func (s *Server) ingest(c *echo.Context, pkt *packet.KnowledgePacket) error {
	start := time.Now()
	s.metrics.InFlightPackets.Inc()
	defer s.metrics.InFlightPackets.Dec()

	receipt, err := s.router.Ingest(c.Request().Context(), pkt)
	if err != nil {
		return s.writeError(c, err)
	}

	s.metrics.IngestDuration.WithLabelValues(receipt.Status).Observe(time.Since(start).Seconds())
	s.metrics.PacketOutcomes.WithLabelValues(outcomeFor(receipt.Status)).Inc()
	if receipt.Status != ingest.StatusDuplicate {
		for brain, res := range receipt.Results {
			s.metrics.PacketsIngested.WithLabelValues(brain, res.Status).Inc()
		}
	}

	httpStatus := http.StatusOK
	if receipt.Status == ingest.StatusFailed {
		httpStatus = http.StatusInternalServerError
	}
	return c.JSON(httpStatus, &IngestResponse{
		Outcome:  outcomeFor(receipt.Status),
		PacketID: receipt.PacketID,
		PerBrain: receipt.Results,
	})
}

// outcomeFor maps router receipt statuses to the wire vocabulary.
func outcomeFor(status string) string {
	switch status {
	case ingest.StatusComplete:
		return "ingested"
	case ingest.StatusDuplicate:
		return "skipped_duplicate"
	default:
		return status
	}
}

func saveUpload(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}

// patchMetadata sets non-empty override values on the packet's metadata
// object. Metadata is outside the content hash, so the packet id is
// unaffected.
func patchMetadata(raw []byte, overrides map[string]string) ([]byte, error) {
	patch := false
	for _, v := range overrides {
		if v != "" {
			patch = true
		}
	}
	if !patch {
		return raw, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	md, ok := doc["metadata"].(map[string]any)
	if !ok {
		md = map[string]any{}
	}
	for k, v := range overrides {
		if v != "" {
			md[k] = v
		}
	}
	doc["metadata"] = md
	return json.Marshal(doc)
}
