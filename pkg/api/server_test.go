package api

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/ingest"
	"github.com/nancy-core/nancy/pkg/legacy"
	"github.com/nancy-core/nancy/pkg/metrics"
	"github.com/nancy-core/nancy/pkg/mode"
	"github.com/nancy-core/nancy/pkg/packet"
	"github.com/nancy-core/nancy/pkg/query"
)

// fakeRouter records the packet it was handed and returns a canned receipt.
type fakeRouter struct {
	receipt *ingest.Receipt
	err     error
	lastPkt *packet.KnowledgePacket
}

func (f *fakeRouter) Ingest(_ context.Context, pkt *packet.KnowledgePacket) (*ingest.Receipt, error) {
	f.lastPkt = pkt
	if f.err != nil {
		return nil, f.err
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &ingest.Receipt{
		PacketID: pkt.PacketID,
		Status:   ingest.StatusComplete,
		Results: map[string]ingest.BrainResult{
			brains.BrainVector: {Status: ingest.StatusComplete, Attempts: 1},
		},
	}, nil
}

type fakeExecutor struct {
	resp    *query.Response
	err     error
	lastQ   string
	lastOpt query.Options
}

func (f *fakeExecutor) Execute(_ context.Context, question string, opts query.Options) (*query.Response, error) {
	f.lastQ = question
	f.lastOpt = opts
	return f.resp, f.err
}

type stubHealth struct {
	h brains.Health
}

func (s stubHealth) Health(context.Context) brains.Health { return s.h }

// newTestServer builds a server around fakes, with a real validator, gate,
// history, and legacy processor.
func newTestServer(t *testing.T, router PacketRouter, exec QueryExecutor, initial mode.Mode) *Server {
	t.Helper()
	v, err := packet.NewValidator()
	require.NoError(t, err)

	h, err := ingest.NewHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	drainRouter := ingest.NewRouter(nil, nil, nil, h, ingest.DefaultConfig(), slog.Default())
	gate := mode.NewGate(initial, drainRouter, slog.Default())
	proc := legacy.NewProcessor(0, slog.Default())

	return NewServer(v, router, exec, gate, proc, h, metrics.New(), slog.Default())
}

// validPacketRaw produces a well-formed packet document via the legacy
// processor.
func validPacketRaw(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thermal.md")
	require.NoError(t, os.WriteFile(path, []byte(
		"Thermal constraints require a maximum operating temperature of 85 celsius."), 0o644))
	raw, err := legacy.NewProcessor(0, slog.Default()).ProcessFile(path)
	require.NoError(t, err)
	return raw
}
