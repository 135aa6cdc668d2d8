// Package mode arbitrates which ingestion paths are live: the legacy file
// processor, the MCP pipeline, or both.
package mode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nancy-core/nancy/pkg/ingest"
)

// Operating modes.
type Mode string

const (
	// ModeLegacy accepts only legacy file-processor ingestion.
	ModeLegacy Mode = "legacy"
	// ModeHybrid accepts both ingestion paths.
	ModeHybrid Mode = "hybrid"
	// ModeMCP accepts only MCP-sourced packets.
	ModeMCP Mode = "mcp"
)

// IsValid checks the mode is a member of the closed set.
func (m Mode) IsValid() bool {
	return m == ModeLegacy || m == ModeHybrid || m == ModeMCP
}

// Ingestion sources checked against the active mode.
const (
	SourceLegacy = "legacy"
	SourceMCP    = "mcp"
)

// RejectionError reports an ingestion source blocked by the active mode.
type RejectionError struct {
	Mode   Mode
	Source string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("source %q not accepted in %s mode", e.Source, e.Mode)
}

// Gate holds the active mode and drains the router across switches so no
// packet is ever processed under two modes at once.
type Gate struct {
	mu     sync.RWMutex
	mode   Mode
	router *ingest.Router
	logger *slog.Logger
}

// NewGate starts in the given mode, defaulting to hybrid.
func NewGate(initial Mode, router *ingest.Router, logger *slog.Logger) *Gate {
	if !initial.IsValid() {
		initial = ModeHybrid
	}
	return &Gate{mode: initial, router: router, logger: logger.With("component", "mode_gate")}
}

// Mode returns the active mode.
func (g *Gate) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// Allow checks whether the given ingestion source is accepted right now.
func (g *Gate) Allow(source string) error {
	g.mu.RLock()
	mode := g.mode
	g.mu.RUnlock()

	switch mode {
	case ModeHybrid:
		return nil
	case ModeLegacy:
		if source == SourceLegacy {
			return nil
		}
	case ModeMCP:
		if source == SourceMCP {
			return nil
		}
	}
	return &RejectionError{Mode: mode, Source: source}
}

// Switch drains in-flight ingestion, flips the mode, and resumes admission.
// A no-op when the mode is unchanged.
func (g *Gate) Switch(ctx context.Context, to Mode) error {
	if !to.IsValid() {
		return fmt.Errorf("unknown mode %q", to)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == to {
		return nil
	}

	if err := g.router.Drain(ctx); err != nil {
		g.router.Resume()
		return fmt.Errorf("drain before mode switch: %w", err)
	}
	from := g.mode
	g.mode = to
	g.router.Resume()
	g.logger.Info("mode switched", "from", from, "to", to)
	return nil
}
