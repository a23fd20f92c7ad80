package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-crucible/internal/domain"
	"github.com/ahrav/go-crucible/internal/ports"
)

// terminalSet is a bounded ring of batch IDs that already reached a
// terminal state. Late or redelivered events for these batches are
// dropped instead of lazily recreating the batch, which is what makes
// the terminal transition exactly-once even though slots are recycled
// immediately.
type terminalSet struct {
	mu   sync.Mutex
	ids  map[domain.BatchID]struct{}
	ring []domain.BatchID
	next int
}

func newTerminalSet(size int) *terminalSet {
	return &terminalSet{
		ids:  make(map[domain.BatchID]struct{}, size),
		ring: make([]domain.BatchID, size),
	}
}

func (t *terminalSet) add(id domain.BatchID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old := t.ring[t.next]; old != "" {
		delete(t.ids, old)
	}
	t.ring[t.next] = id
	t.ids[id] = struct{}{}
	t.next = (t.next + 1) % len(t.ring)
}

func (t *terminalSet) contains(id domain.BatchID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.ids[id]
	return ok
}

// PipelineStats is a point-in-time summary of aggregator activity.
type PipelineStats struct {
	TrackedBatches int            `json:"tracked_batches"`
	StoreCapacity  int            `json:"store_capacity"`
	ByStatus       map[string]int `json:"by_status"`

	EventsApplied   int64 `json:"events_applied"`
	EventsDuplicate int64 `json:"events_duplicate"`
	EventsLate      int64 `json:"events_late"`

	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Expired  int64 `json:"expired"`
}

// BatchView is the externally visible state of one batch, served by the
// status endpoint.
type BatchView struct {
	BatchID       domain.BatchID `json:"batch_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Status        string         `json:"status"`
	ExpectedCount int            `json:"expected_count,omitempty"`
	Candidates    int            `json:"candidates_received"`
	Verifications int            `json:"verifications_received"`
	Deadline      time.Time      `json:"deadline,omitempty"`
}

// Aggregator folds the two event streams into per-batch state, detects
// completeness, and drives each batch to exactly one terminal outcome.
// All mutation of one batch happens under that batch's store lock, so
// concurrent deliveries for the same batch serialize and the
// complete-then-decide transition can fire only once.
type Aggregator struct {
	store    *BatchStore
	engine   *DecisionEngine
	terminal *terminalSet

	auditSink ports.RecordSink
	pairsSink ports.RecordSink

	batchTimeout  time.Duration
	sweepInterval time.Duration

	logger  *slog.Logger
	metrics ports.MetricsCollector

	eventsApplied   atomic.Int64
	eventsDuplicate atomic.Int64
	eventsLate      atomic.Int64
	accepted        atomic.Int64
	rejected        atomic.Int64
	expired         atomic.Int64
}

// NewAggregator creates an aggregator over the given store, decision
// engine, and result streams.
func NewAggregator(
	store *BatchStore,
	engine *DecisionEngine,
	auditSink, pairsSink ports.RecordSink,
	batchTimeout, sweepInterval time.Duration,
	logger *slog.Logger,
	metrics ports.MetricsCollector,
) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:         store,
		engine:        engine,
		terminal:      newTerminalSet(store.Capacity()),
		auditSink:     auditSink,
		pairsSink:     pairsSink,
		batchTimeout:  batchTimeout,
		sweepInterval: sweepInterval,
		logger:        logger,
		metrics:       metrics,
	}
}

// Run consumes both event streams until ctx is done or both channels
// close.
func (a *Aggregator) Run(ctx context.Context, produced, verified <-chan ports.Envelope) error {
	for produced != nil || verified != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-produced:
			if !ok {
				produced = nil
				continue
			}
			a.handleProduced(ctx, env)
		case env, ok := <-verified:
			if !ok {
				verified = nil
				continue
			}
			a.handleVerified(ctx, env)
		}
	}
	return nil
}

// RunSweep expires incomplete batches whose deadline has passed, on the
// configured cadence, until ctx is done.
func (a *Aggregator) RunSweep(ctx context.Context) error {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			a.sweep(ctx, now.UTC())
		}
	}
}

func (a *Aggregator) handleProduced(ctx context.Context, env ports.Envelope) {
	event, ok := env.Payload.(domain.CandidateProducedEvent)
	if !ok {
		a.logger.Warn("unexpected payload on produced topic",
			slog.String("event_id", env.Meta.EventID))
		return
	}
	if a.dropIfTerminal(event.BatchID, domain.TopicCandidateProduced) {
		return
	}

	init := a.batchInit(event.BatchID, event.CorrelationID, event.Question, event.Context, event.ExpectedCount)
	err := a.store.Mutate(event.BatchID, init, func(b *domain.BatchAggregate) (bool, error) {
		if b.Status != domain.BatchOpen {
			a.noteEvent(domain.TopicCandidateProduced, "late")
			return false, nil
		}
		if _, exists := b.Candidates[event.Candidate.Index]; exists {
			a.noteEvent(domain.TopicCandidateProduced, "duplicate")
			return false, nil
		}
		b.Candidates[event.Candidate.Index] = event.Candidate
		a.noteEvent(domain.TopicCandidateProduced, "applied")
		return a.maybeDecide(ctx, b), nil
	})
	a.noteStoreError(domain.TopicCandidateProduced, event.BatchID, err)
}

func (a *Aggregator) handleVerified(ctx context.Context, env ports.Envelope) {
	event, ok := env.Payload.(domain.CandidateVerifiedEvent)
	if !ok {
		a.logger.Warn("unexpected payload on verified topic",
			slog.String("event_id", env.Meta.EventID))
		return
	}
	if a.dropIfTerminal(event.BatchID, domain.TopicCandidateVerified) {
		return
	}

	// A verified event can outrun its produced sibling, so it may also
	// be the event that creates the aggregate. Question context is
	// enough; the candidate record fills in when its event lands.
	init := a.batchInit(event.BatchID, event.CorrelationID, event.Question, "", event.ExpectedCount)
	err := a.store.Mutate(event.BatchID, init, func(b *domain.BatchAggregate) (bool, error) {
		if b.Status != domain.BatchOpen {
			a.noteEvent(domain.TopicCandidateVerified, "late")
			return false, nil
		}
		if _, exists := b.Verifications[event.Verification.Index]; exists {
			a.noteEvent(domain.TopicCandidateVerified, "duplicate")
			return false, nil
		}
		b.Verifications[event.Verification.Index] = event.Verification
		a.noteEvent(domain.TopicCandidateVerified, "applied")
		return a.maybeDecide(ctx, b), nil
	})
	a.noteStoreError(domain.TopicCandidateVerified, event.BatchID, err)
}

// batchInit returns the lazy-creation closure for a batch first seen via
// either event type.
func (a *Aggregator) batchInit(
	id domain.BatchID, correlationID, question, retrievedContext string, expectedCount int,
) func() *domain.BatchAggregate {
	return func() *domain.BatchAggregate {
		// Re-checked under the store's index lock: a batch that went
		// terminal after the handler's first check must not be
		// recreated by a late redelivery.
		if a.terminal.contains(id) {
			return nil
		}
		now := time.Now().UTC()
		return &domain.BatchAggregate{
			BatchID:       id,
			CorrelationID: correlationID,
			Question:      question,
			Context:       retrievedContext,
			ExpectedCount: expectedCount,
			Candidates:    make(map[int]domain.CandidateRecord, expectedCount),
			Verifications: make(map[int]domain.VerificationRecord, expectedCount),
			Status:        domain.BatchOpen,
			CreatedAt:     now,
			Deadline:      now.Add(a.batchTimeout),
		}
	}
}

// maybeDecide runs the decision policy if the batch just became
// complete. It is called with the batch lock held, which is what makes
// the transition fire at most once: the event that completes the batch
// decides it in the same critical section, and every later event sees a
// terminal status. Returns true when the slot should be released.
func (a *Aggregator) maybeDecide(ctx context.Context, b *domain.BatchAggregate) bool {
	if !b.IsComplete() {
		return false
	}
	b.Status = domain.BatchComplete

	snap := b.Snapshot()
	decision, err := a.engine.Decide(&snap, time.Now().UTC())
	if err != nil {
		// Decide on a complete snapshot cannot fail; treat it as a bug
		// but leave the batch for the sweep rather than wedging it.
		a.logger.Error("decision failed on complete batch",
			slog.String("batch_id", string(b.BatchID)),
			slog.Any("error", err))
		return false
	}

	b.Status = domain.BatchDecided
	a.terminal.add(b.BatchID)
	a.persist(ctx, decision, &snap)

	if decision.Accepted() {
		a.accepted.Add(1)
		a.noteDecision("accepted", "", decision.Pair.Margin)
		a.logger.Info("pair accepted",
			slog.String("batch_id", string(b.BatchID)),
			slog.String("correlation_id", b.CorrelationID),
			slog.Float64("margin", decision.Pair.Margin),
			slog.Int("chosen_index", decision.Pair.Chosen.Candidate.Index),
			slog.Int("rejected_index", decision.Pair.Rejected.Candidate.Index))
	} else {
		a.rejected.Add(1)
		a.noteDecision("rejected", string(decision.Rejected.Reason), decision.Rejected.ObservedMargin)
		a.logger.Info("pair rejected",
			slog.String("batch_id", string(b.BatchID)),
			slog.String("correlation_id", b.CorrelationID),
			slog.String("reason", string(decision.Rejected.Reason)))
	}
	return true
}

// sweep expires every undecided batch past its deadline. COMPLETE is
// included so a batch that somehow stalled between completeness and its
// decision still reaches a terminal record instead of leaking its slot.
func (a *Aggregator) sweep(ctx context.Context, now time.Time) {
	for _, id := range a.store.ExpiredBefore(now) {
		err := a.store.Mutate(id, nil, func(b *domain.BatchAggregate) (bool, error) {
			if b.Status != domain.BatchOpen && b.Status != domain.BatchComplete {
				return false, nil
			}
			b.Status = domain.BatchExpired
			a.terminal.add(b.BatchID)

			snap := b.Snapshot()
			decision := a.engine.Expire(&snap, now)
			a.persist(ctx, decision, &snap)

			a.expired.Add(1)
			if a.metrics != nil {
				a.metrics.RecordCounter("pipeline_batches_expired_total", 1,
					map[string]string{"reason": "deadline"})
			}
			a.logger.Warn("batch expired",
				slog.String("batch_id", string(b.BatchID)),
				slog.String("correlation_id", b.CorrelationID),
				slog.Int("missing_events", decision.Rejected.MissingEvents))
			return true, nil
		})
		if err != nil && !errors.Is(err, domain.ErrUnknownBatch) {
			a.logger.Error("expiry failed",
				slog.String("batch_id", string(id)),
				slog.Any("error", err))
		}
	}
	a.recordGauges()
}

// persist appends the decision to the audit stream and, when accepted,
// the pair to the pairs stream. Append failures are logged and counted;
// the in-memory decision stands either way so the batch cannot be
// decided twice.
func (a *Aggregator) persist(ctx context.Context, decision *domain.Decision, snap *domain.BatchAggregate) {
	audit := struct {
		*domain.Decision
		Batch *domain.BatchAggregate `json:"batch"`
	}{decision, snap}

	if err := a.auditSink.Append(ctx, audit); err != nil {
		a.logger.Error("audit append failed",
			slog.String("batch_id", string(decision.BatchID)),
			slog.Any("error", err))
		if a.metrics != nil {
			a.metrics.RecordCounter("sink_append_failures_total", 1,
				map[string]string{"status": "audit"})
		}
	}

	if decision.Accepted() {
		pair := struct {
			BatchID       domain.BatchID `json:"batch_id"`
			CorrelationID string         `json:"correlation_id"`
			DecidedAt     time.Time      `json:"decided_at"`
			*domain.AcceptedPair
		}{decision.BatchID, decision.CorrelationID, decision.DecidedAt, decision.Pair}

		if err := a.pairsSink.Append(ctx, pair); err != nil {
			a.logger.Error("pair append failed",
				slog.String("batch_id", string(decision.BatchID)),
				slog.Any("error", err))
			if a.metrics != nil {
				a.metrics.RecordCounter("sink_append_failures_total", 1,
					map[string]string{"status": "pairs"})
			}
		}
	}
}

// noteStoreError classifies Mutate failures: an unknown batch means the
// terminal re-check dropped a late event, anything else is a real store
// rejection worth surfacing.
func (a *Aggregator) noteStoreError(topic string, id domain.BatchID, err error) {
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnknownBatch):
		a.noteEvent(topic, "late")
	default:
		a.logger.Error("event rejected by store",
			slog.String("topic", topic),
			slog.String("batch_id", string(id)),
			slog.Any("error", err))
		if a.metrics != nil {
			a.metrics.RecordCounter("pipeline_events_consumed_total", 1,
				map[string]string{"topic": topic, "outcome": "rejected"})
		}
	}
}

func (a *Aggregator) dropIfTerminal(id domain.BatchID, topic string) bool {
	if a.terminal.contains(id) {
		a.noteEvent(topic, "late")
		return true
	}
	return false
}

func (a *Aggregator) noteEvent(topic, outcome string) {
	switch outcome {
	case "applied":
		a.eventsApplied.Add(1)
	case "duplicate":
		a.eventsDuplicate.Add(1)
	case "late":
		a.eventsLate.Add(1)
	}
	if a.metrics != nil {
		a.metrics.RecordCounter("pipeline_events_consumed_total", 1,
			map[string]string{"topic": topic, "outcome": outcome})
	}
}

func (a *Aggregator) noteDecision(result, reason string, margin float64) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordCounter("pipeline_decisions_total", 1,
		map[string]string{"result": result, "reason": reason})
	a.metrics.RecordHistogram("pipeline_score_margin", margin,
		map[string]string{"result": result})
}

func (a *Aggregator) recordGauges() {
	if a.metrics == nil {
		return
	}
	for status, count := range a.store.CountByStatus() {
		a.metrics.RecordGauge("pipeline_open_batches", float64(count),
			map[string]string{"status": status.String()})
	}
}

// Stats returns a point-in-time summary of aggregator activity.
func (a *Aggregator) Stats() PipelineStats {
	byStatus := make(map[string]int)
	for status, count := range a.store.CountByStatus() {
		byStatus[status.String()] = count
	}
	return PipelineStats{
		TrackedBatches:  a.store.Len(),
		StoreCapacity:   a.store.Capacity(),
		ByStatus:        byStatus,
		EventsApplied:   a.eventsApplied.Load(),
		EventsDuplicate: a.eventsDuplicate.Load(),
		EventsLate:      a.eventsLate.Load(),
		Accepted:        a.accepted.Load(),
		Rejected:        a.rejected.Load(),
		Expired:         a.expired.Load(),
	}
}

// Status reports the externally visible state of one batch. Batches that
// already reached a terminal state report it even after their slot has
// been recycled.
func (a *Aggregator) Status(id domain.BatchID) (BatchView, error) {
	if b, err := a.store.Get(id); err == nil {
		return BatchView{
			BatchID:       b.BatchID,
			CorrelationID: b.CorrelationID,
			Status:        b.Status.String(),
			ExpectedCount: b.ExpectedCount,
			Candidates:    len(b.Candidates),
			Verifications: len(b.Verifications),
			Deadline:      b.Deadline,
		}, nil
	}
	if a.terminal.contains(id) {
		return BatchView{BatchID: id, Status: "terminal"}, nil
	}
	return BatchView{}, domain.ErrUnknownBatch
}
