package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/metrics"
	"github.com/nancy-core/nancy/pkg/packet"
)

// Receipt statuses.
const (
	StatusComplete  = "complete"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusDuplicate = "duplicate"
)

// ErrDraining is returned when the router has stopped accepting packets.
var ErrDraining = errors.New("ingestion router is draining")

// BrainResult is the per-brain outcome inside a receipt.
type BrainResult struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Receipt summarizes one ingestion request.
type Receipt struct {
	PacketID string                 `json:"packet_id"`
	Status   string                 `json:"status"`
	Results  map[string]BrainResult `json:"results,omitempty"`
}

// Config bounds the router's concurrency and retry behavior.
type Config struct {
	GlobalWindow   int64
	PerBrainWindow int64
	MaxAttempts    int
	RetryBase      time.Duration
	RetryCap       time.Duration
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		GlobalWindow:   64,
		PerBrainWindow: 16,
		MaxAttempts:    3,
		RetryBase:      100 * time.Millisecond,
		RetryCap:       2 * time.Second,
	}
}

// Router fans validated packets out to their target brains. Re-submitting a
// packet whose brains all succeeded is a no-op; a partial failure re-attempts
// only the brains that failed.
type Router struct {
	vector     brains.VectorBrain
	analytical brains.AnalyticalBrain
	graph      brains.GraphBrain
	history    *History
	logger     *slog.Logger
	cfg        Config
	metrics    *metrics.Metrics

	global   *semaphore.Weighted
	perBrain map[string]*semaphore.Weighted

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewRouter wires the router to its brains and history log.
func NewRouter(vector brains.VectorBrain, analytical brains.AnalyticalBrain, graph brains.GraphBrain,
	history *History, cfg Config, logger *slog.Logger) *Router {
	if cfg.GlobalWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Router{
		vector:     vector,
		analytical: analytical,
		graph:      graph,
		history:    history,
		logger:     logger.With("component", "ingest_router"),
		cfg:        cfg,
		global:     semaphore.NewWeighted(cfg.GlobalWindow),
		perBrain: map[string]*semaphore.Weighted{
			brains.BrainVector:     semaphore.NewWeighted(cfg.PerBrainWindow),
			brains.BrainAnalytical: semaphore.NewWeighted(cfg.PerBrainWindow),
			brains.BrainGraph:      semaphore.NewWeighted(cfg.PerBrainWindow),
		},
	}
}

// SetMetrics enables per-brain write instrumentation.
func (r *Router) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Ingest routes pkt to every brain its content targets. The receipt lists
// one result per attempted brain.
func (r *Router) Ingest(ctx context.Context, pkt *packet.KnowledgePacket) (*Receipt, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, ErrDraining
	}
	r.inflight.Add(1)
	r.mu.Unlock()
	defer r.inflight.Done()

	targets := pkt.TargetBrains()
	prior, err := r.history.Latest(ctx, pkt.PacketID)
	if err != nil {
		return nil, err
	}

	// Idempotence: skip brains that already succeeded for this content hash.
	var pending []string
	for _, brain := range targets {
		if o, ok := prior[brain]; ok && o.Status == OutcomeSuccess {
			continue
		}
		pending = append(pending, brain)
	}
	if len(pending) == 0 {
		// The receipt echoes the prior outcome per brain so the caller sees
		// what the duplicate was deduplicated against.
		results := make(map[string]BrainResult, len(targets))
		for _, brain := range targets {
			o := prior[brain]
			results[brain] = BrainResult{Status: StatusComplete, Attempts: o.Attempts}
		}
		r.logger.Info("duplicate packet skipped", "packet_id", pkt.PacketID)
		return &Receipt{PacketID: pkt.PacketID, Status: StatusDuplicate, Results: results}, nil
	}

	if err := r.global.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("admission: %w", err)
	}
	defer r.global.Release(1)

	var (
		resMu   sync.Mutex
		results = make(map[string]BrainResult, len(pending))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, brain := range pending {
		g.Go(func() error {
			res := r.runBrain(gctx, brain, pkt)
			resMu.Lock()
			results[brain] = res
			resMu.Unlock()

			status := OutcomeSuccess
			if res.Status == StatusFailed {
				status = OutcomeFailed
			}
			if err := r.history.Record(ctx, pkt.PacketID, brain, status, res.Attempts, res.Error); err != nil {
				r.logger.Error("failed to record ingest outcome",
					"packet_id", pkt.PacketID, "brain", brain, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	receipt := &Receipt{PacketID: pkt.PacketID, Status: StatusComplete, Results: results}
	var failed int
	for _, res := range results {
		if res.Status == StatusFailed {
			failed++
		}
	}
	switch {
	case failed == len(results):
		receipt.Status = StatusFailed
	case failed > 0:
		receipt.Status = StatusPartial
	}
	r.logger.Info("packet ingested",
		"packet_id", pkt.PacketID, "status", receipt.Status, "brains", len(results))
	return receipt, nil
}

// Drain stops admission and waits for in-flight packets to settle.
func (r *Router) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume re-opens admission after a drain.
func (r *Router) Resume() {
	r.mu.Lock()
	r.draining = false
	r.mu.Unlock()
}

// runBrain executes one brain's write with bounded retries.
func (r *Router) runBrain(ctx context.Context, brain string, pkt *packet.KnowledgePacket) BrainResult {
	if sem := r.perBrain[brain]; sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return BrainResult{Status: StatusFailed, Error: err.Error()}
		}
		defer sem.Release(1)
	}

	attempts := 0
	op := func() error {
		attempts++
		start := time.Now()
		err := r.writeBrain(ctx, brain, pkt)
		if r.metrics != nil {
			r.metrics.ObserveBrainWrite(brain, time.Since(start).Seconds())
		}
		if err != nil && !brains.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryBase
	bo.MaxInterval = r.cfg.RetryCap
	bo.RandomizationFactor = 0.2
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(r.cfg.MaxAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		r.logger.Warn("brain write failed",
			"packet_id", pkt.PacketID, "brain", brain, "attempts", attempts, "error", err)
		return BrainResult{Status: StatusFailed, Attempts: attempts, Error: err.Error()}
	}
	return BrainResult{Status: StatusComplete, Attempts: attempts}
}

func (r *Router) writeBrain(ctx context.Context, brain string, pkt *packet.KnowledgePacket) error {
	switch brain {
	case brains.BrainVector:
		vd := pkt.Content.VectorData
		return r.vector.UpsertChunks(ctx, pkt.PacketID, vd.Chunks, vd.EmbeddingModel)
	case brains.BrainAnalytical:
		ad := pkt.Content.AnalyticalData
		if len(ad.StructuredFields) > 0 {
			if err := r.analytical.UpsertStructured(ctx, pkt.PacketID, ad.StructuredFields); err != nil {
				return err
			}
		}
		for _, table := range ad.TableData {
			if err := r.analytical.UpsertTable(ctx, pkt.PacketID, table); err != nil {
				return err
			}
		}
		if len(ad.TimeSeries) > 0 {
			if err := r.analytical.UpsertTimeSeries(ctx, pkt.PacketID, ad.TimeSeries); err != nil {
				return err
			}
		}
		if len(ad.Statistics) > 0 {
			if err := r.analytical.UpsertStatistics(ctx, pkt.PacketID, ad.Statistics); err != nil {
				return err
			}
		}
		return nil
	case brains.BrainGraph:
		gd := pkt.Content.GraphData
		// Entities must land before the relationships that reference them.
		if _, err := r.graph.UpsertEntities(ctx, gd.Entities, pkt.PacketID); err != nil {
			return err
		}
		return r.graph.UpsertRelationships(ctx, gd.Relationships, pkt.PacketID)
	default:
		return fmt.Errorf("unknown brain %q", brain)
	}
}
