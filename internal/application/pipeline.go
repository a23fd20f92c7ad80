package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// Pipeline assembles the full preference-pair flow: dispatcher in,
// verification workers in the middle, aggregator and sweep at the end.
// It owns the bus subscriptions and the worker lifecycle.
type Pipeline struct {
	dispatcher *Dispatcher
	aggregator *Aggregator
	bus        ports.EventBus

	verifierWorkers int
	verifier        ports.Verifier
	logger          *slog.Logger
	metrics         ports.MetricsCollector
}

// NewPipeline wires the pipeline from its collaborators. The store,
// decision engine, and dispatcher are built here from configuration so
// callers only supply the adapters.
func NewPipeline(
	cfg *Config,
	generator ports.Generator,
	verifier ports.Verifier,
	bus ports.EventBus,
	auditSink, pairsSink ports.RecordSink,
	logger *slog.Logger,
	metrics ports.MetricsCollector,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := NewDecisionEngine(cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to build decision engine: %w", err)
	}

	dispatcher, err := NewDispatcher(generator, bus, cfg.Sampling, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}

	store := NewBatchStore(cfg.Batch.StoreCapacity)
	aggregator := NewAggregator(
		store, engine,
		auditSink, pairsSink,
		cfg.Batch.BatchTimeout(), cfg.Batch.SweepInterval(),
		logger, metrics,
	)

	return &Pipeline{
		dispatcher:      dispatcher,
		aggregator:      aggregator,
		bus:             bus,
		verifierWorkers: cfg.Bus.VerifierWorkers,
		verifier:        verifier,
		logger:          logger,
		metrics:         metrics,
	}, nil
}

// Run subscribes the consumers and blocks until ctx is done or a
// consumer fails. The verification workers share one subscription so
// they compete for produced events; the aggregator holds its own.
func (p *Pipeline) Run(ctx context.Context) error {
	producedForWorkers, err := p.bus.Subscribe(ctx, domain.TopicCandidateProduced)
	if err != nil {
		return fmt.Errorf("failed to subscribe workers: %w", err)
	}
	producedForAgg, err := p.bus.Subscribe(ctx, domain.TopicCandidateProduced)
	if err != nil {
		return fmt.Errorf("failed to subscribe aggregator: %w", err)
	}
	verifiedForAgg, err := p.bus.Subscribe(ctx, domain.TopicCandidateVerified)
	if err != nil {
		return fmt.Errorf("failed to subscribe aggregator: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.aggregator.Run(gctx, producedForAgg, verifiedForAgg)
	})
	g.Go(func() error {
		return p.aggregator.RunSweep(gctx)
	})

	for i := 0; i < p.verifierWorkers; i++ {
		worker := NewVerifierWorker(p.verifier, p.bus, p.logger, p.metrics)
		g.Go(func() error {
			return worker.Run(gctx, producedForWorkers)
		})
	}

	p.logger.Info("pipeline running",
		slog.Int("verifier_workers", p.verifierWorkers),
		slog.Int("expected_count", p.dispatcher.ExpectedCount()))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Dispatch submits one question to the pipeline and returns its batch
// identity immediately.
func (p *Pipeline) Dispatch(ctx context.Context, question, retrievedContext, correlationID string) (DispatchReceipt, error) {
	return p.dispatcher.Dispatch(ctx, question, retrievedContext, correlationID)
}

// Stats returns a point-in-time summary of pipeline activity.
func (p *Pipeline) Stats() PipelineStats { return p.aggregator.Stats() }

// Status reports the externally visible state of one batch.
func (p *Pipeline) Status(id domain.BatchID) (BatchView, error) {
	return p.aggregator.Status(id)
}
