// Package orchestrator drives research runs through the agent pipeline.
//
// Each run owns a DAG of tasks and one driver goroutine. The driver is the
// only place task and run states change; it starts ready tasks on their
// own goroutines, collects their results over a channel, commits staged
// writes, parks low-confidence hypotheses for review and appends a
// provenance entry before every transition becomes visible.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/scholae/internal/agent"
	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/provenance"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultHITLThreshold    = 0.85
	DefaultMaxParallelTasks = 4
	DefaultRunRetention     = time.Hour

	outboxSize     = 1024
	publishTimeout = 5 * time.Second
	tracerName     = "github.com/Harshitk-cp/scholae/internal/orchestrator"
)

var (
	ErrEmptyQuery   = errors.New("query must not be empty")
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// TaskRunner executes one agent task. *agent.Runner implements it.
type TaskRunner interface {
	Run(ctx context.Context, kind domain.AgentKind, in agent.Input) (agent.Output, error)
}

type Config struct {
	// HITLThreshold routes hypotheses with lower confidence to review.
	HITLThreshold    float64
	Retry            RetryPolicy
	MaxParallelTasks int
	Pipeline         []domain.TaskSpec
	// RunRetention is how long a terminal run stays visible to Status
	// before it is evicted. Zero keeps runs forever. Provenance outlives
	// eviction.
	RunRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		HITLThreshold:    DefaultHITLThreshold,
		Retry:            DefaultRetryPolicy(),
		MaxParallelTasks: DefaultMaxParallelTasks,
		Pipeline:         domain.ResearchPipeline(),
		RunRetention:     DefaultRunRetention,
	}
}

// Stores are the sinks the orchestrator commits to. Publisher may be nil.
type Stores struct {
	Memory     domain.MemoryStore
	Graph      domain.GraphStore
	Provenance *provenance.Log
	Publisher  domain.TransitionPublisher
}

type Orchestrator struct {
	runner TaskRunner
	stores Stores
	cfg    Config
	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	runs   map[uuid.UUID]*run
	closed bool

	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup // drivers
	tasks sync.WaitGroup // task executions

	outbox        chan domain.TransitionEvent
	publisherDone chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

func New(runner TaskRunner, stores Stores, cfg Config, logger *zap.Logger) *Orchestrator {
	if len(cfg.Pipeline) == 0 {
		cfg.Pipeline = domain.ResearchPipeline()
	}
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = DefaultMaxParallelTasks
	}
	if cfg.HITLThreshold <= 0 {
		cfg.HITLThreshold = DefaultHITLThreshold
	}
	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		runner: runner,
		stores: stores,
		cfg:    cfg,
		tracer: otel.Tracer(tracerName),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		runs:   make(map[uuid.UUID]*run),
		ctx:    ctx,
		stop:   stop,
	}
	if stores.Publisher != nil {
		o.outbox = make(chan domain.TransitionEvent, outboxSize)
		o.publisherDone = make(chan struct{})
		go o.forward()
	}
	return o
}

func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

func (o *Orchestrator) SetTracer(t trace.Tracer) {
	o.tracer = t
}

// Submit registers a run for query and starts driving it. It returns as
// soon as the run is visible to Status.
func (o *Orchestrator) Submit(ctx context.Context, query, ownerID string) (uuid.UUID, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return uuid.Nil, ErrEmptyQuery
	}

	id := uuid.New()
	now := o.now()
	r := newRun(id, query, ownerID, o.cfg.Pipeline, now)

	spanCtx, span := o.tracer.Start(o.ctx, "research.run", trace.WithAttributes(
		attribute.String("run_id", id.String()),
		attribute.String("owner_id", ownerID),
	))
	r.span = span
	r.traceID = traceIDOf(span)
	work, cancel := context.WithCancel(spanCtx)
	r.cancel = cancel

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		span.End()
		return uuid.Nil, ErrShuttingDown
	}
	o.runs[id] = r
	o.wg.Add(1)
	o.mu.Unlock()

	o.apply(r, func(emit func(domain.TransitionEvent)) {
		emit(domain.TransitionEvent{RunID: id, From: "", To: string(domain.RunRunning), At: now})
	})

	o.logger.Info("run submitted",
		zap.String("run_id", id.String()),
		zap.String("owner_id", ownerID),
		zap.String("trace_id", r.traceID))

	go o.drive(work, r)
	return id, nil
}

func (o *Orchestrator) Status(runID uuid.UUID) (domain.RunStatus, error) {
	r, err := o.get(runID)
	if err != nil {
		return domain.RunStatus{}, err
	}
	return r.snapshot(), nil
}

// Approve releases the task held at the review gate. Its staged writes
// are committed and its dependents become ready.
func (o *Orchestrator) Approve(ctx context.Context, runID uuid.UUID) error {
	return o.review(ctx, runID, true)
}

// Reject cancels every unfinished task of the run and discards held and
// in-flight results.
func (o *Orchestrator) Reject(ctx context.Context, runID uuid.UUID) error {
	return o.review(ctx, runID, false)
}

func (o *Orchestrator) review(ctx context.Context, runID uuid.UUID, approve bool) error {
	r, err := o.get(runID)
	if err != nil {
		return err
	}
	r.mu.RLock()
	state := r.state
	r.mu.RUnlock()
	if approve && state != domain.RunAwaitingReview {
		return domain.ErrNotAwaitingReview
	}
	if !approve && state.Terminal() {
		return domain.ErrRunTerminal
	}

	d := reviewDecision{approve: approve, reply: make(chan error, 1)}
	select {
	case r.reviewCh <- d:
	case <-r.done:
		if approve {
			return domain.ErrNotAwaitingReview
		}
		return domain.ErrRunTerminal
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-d.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every driver and every task execution and waits for
// them. Runs left unfinished
// keep their last visible state. Calling it again is a no-op once the
// publisher has been closed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		o.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if o.outbox == nil {
		return nil
	}
	o.closeOnce.Do(func() {
		close(o.outbox)
		<-o.publisherDone
		if err := o.stores.Publisher.Close(); err != nil {
			o.closeErr = fmt.Errorf("close publisher: %w", err)
		}
	})
	return o.closeErr
}

func (o *Orchestrator) get(runID uuid.UUID) (*run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return r, nil
}

// drive advances one run until it is terminal or the orchestrator stops.
func (o *Orchestrator) drive(work context.Context, r *run) {
	defer o.retire(r)
	defer o.wg.Done()
	defer close(r.done)
	defer r.span.End()
	defer r.cancel()

	completions := make(chan completion, len(r.order))
	inflight := 0
	for {
		r.mu.RLock()
		ready := r.ready()
		awaiting := r.state == domain.RunAwaitingReview
		r.mu.RUnlock()

		for _, name := range ready {
			if inflight >= o.cfg.MaxParallelTasks {
				break
			}
			in, err := o.begin(r, name)
			if err != nil {
				return
			}
			inflight++
			o.tasks.Add(1)
			go o.execute(work, r, name, in, completions)
		}

		if inflight == 0 && !awaiting {
			o.finish(r)
			return
		}

		select {
		case c := <-completions:
			inflight--
			if err := o.complete(r, c); err != nil {
				return
			}
		case d := <-r.reviewCh:
			if stop := o.decide(r, d); stop {
				return
			}
		case <-o.ctx.Done():
			return
		}
	}
}

// retire schedules eviction of a terminal run from the run table. Runs
// stopped by shutdown are not terminal and stay.
func (o *Orchestrator) retire(r *run) {
	if o.cfg.RunRetention <= 0 {
		return
	}
	r.mu.RLock()
	terminal := r.state.Terminal()
	r.mu.RUnlock()
	if !terminal {
		return
	}
	time.AfterFunc(o.cfg.RunRetention, func() {
		o.mu.Lock()
		delete(o.runs, r.id)
		o.mu.Unlock()
		o.logger.Debug("run evicted", zap.String("run_id", r.id.String()))
	})
}

// begin moves a ready task to Running and builds its input.
func (o *Orchestrator) begin(r *run, name string) (agent.Input, error) {
	now := o.now()
	r.mu.RLock()
	n := r.nodes[name]
	in := agent.Input{
		RunID:   r.id,
		TaskID:  n.task.ID,
		Query:   r.query,
		OwnerID: r.ownerID,
		Prior:   make(map[domain.AgentKind]agent.Output),
	}
	for _, a := range r.ancestors(name) {
		if out, ok := r.outputs[a]; ok {
			in.Prior[r.nodes[a].task.Kind] = out
		}
	}
	depHashes := r.dependencyHashes(name)
	r.mu.RUnlock()

	err := o.record(domain.ProvenanceEntry{
		RunID:     r.id,
		TaskID:    n.task.ID,
		AgentKind: n.task.Kind,
		State:     string(domain.TaskRunning),
		Attempt:   1,
		StartedAt: now,
		EndedAt:   now,
		InputHash: provenance.InputHash(r.query, depHashes, nil),
		TraceID:   r.traceID,
	})
	if err != nil {
		return agent.Input{}, err
	}

	o.apply(r, func(emit func(domain.TransitionEvent)) {
		n.task.StartedAt = &now
		setTask(r, n, domain.TaskRunning, now, emit)
	})
	return in, nil
}

// execute runs the agent on its own goroutine, retrying transient
// failures with the retry policy.
func (o *Orchestrator) execute(work context.Context, r *run, name string, in agent.Input, completions chan<- completion) {
	defer o.tasks.Done()
	r.mu.RLock()
	kind := r.nodes[name].task.Kind
	r.mu.RUnlock()

	c := completion{name: name, started: o.now()}
	maxAttempts := o.cfg.Retry.attempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.attempts = attempt
		r.mu.Lock()
		r.nodes[name].task.Attempts = attempt
		r.mu.Unlock()

		ctx, span := o.tracer.Start(work, "research.task", trace.WithAttributes(
			attribute.String("task_id", in.TaskID),
			attribute.String("agent_kind", string(kind)),
			attribute.Int("attempt", attempt),
		))
		c.out, c.err = o.runner.Run(ctx, kind, in)
		if c.err != nil {
			span.RecordError(c.err)
			span.SetStatus(codes.Error, c.err.Error())
		}
		span.End()

		if c.err == nil || !domain.IsTransient(c.err) || attempt == maxAttempts {
			break
		}
		delay := o.cfg.Retry.CalculateDelay(attempt - 1)
		o.logger.Warn("retrying task",
			zap.String("run_id", in.RunID.String()),
			zap.String("task_id", in.TaskID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(c.err))
		if err := sleep(work, delay); err != nil {
			c.err = err
			break
		}
	}
	c.ended = o.now()
	completions <- c
}

// complete applies the result of one execution. A non-nil error means the
// orchestrator is shutting down.
func (o *Orchestrator) complete(r *run, c completion) error {
	r.mu.RLock()
	n := r.nodes[c.name]
	discard := n.task.State != domain.TaskRunning || r.state.Terminal()
	depHashes := r.dependencyHashes(c.name)
	r.mu.RUnlock()
	if discard {
		o.logger.Debug("discarding result of cancelled task",
			zap.String("run_id", r.id.String()),
			zap.String("task_id", n.task.ID))
		return nil
	}
	if o.ctx.Err() != nil {
		return o.ctx.Err()
	}

	inputHash := provenance.InputHash(r.query, depHashes, c.out.Reads)
	switch {
	case c.err != nil:
		return o.fail(r, c, c.err, inputHash)
	case c.out.Hypothesis != nil && c.out.Hypothesis.ConfidenceScore < o.cfg.HITLThreshold:
		return o.hold(r, c, inputHash)
	default:
		return o.succeed(r, c, inputHash)
	}
}

func (o *Orchestrator) succeed(r *run, c completion, inputHash string) error {
	if err := o.commit(c.out); err != nil {
		if o.ctx.Err() != nil {
			return o.ctx.Err()
		}
		return o.fail(r, c, err, inputHash)
	}

	r.mu.RLock()
	n := r.nodes[c.name]
	r.mu.RUnlock()
	outputHash := provenance.OutputHash(c.out.Data)
	err := o.record(domain.ProvenanceEntry{
		RunID:      r.id,
		TaskID:     n.task.ID,
		AgentKind:  n.task.Kind,
		State:      string(domain.TaskSucceeded),
		Attempt:    c.attempts,
		StartedAt:  c.started,
		EndedAt:    c.ended,
		InputHash:  inputHash,
		OutputHash: outputHash,
		TraceID:    r.traceID,
	})
	if err != nil {
		return err
	}

	now := o.now()
	o.apply(r, func(emit func(domain.TransitionEvent)) {
		n.outputHash = outputHash
		n.task.EndedAt = &now
		r.outputs[c.name] = c.out
		r.results[c.name] = c.out.Data
		if c.out.Hypothesis != nil {
			h := *c.out.Hypothesis
			r.hypothesis = &h
		}
		setTask(r, n, domain.TaskSucceeded, now, emit)
		o.releaseReview(r, c.name, now, emit)
	})
	return nil
}

// hold parks a hypothesis below the confidence threshold. Its writes stay
// staged until a reviewer approves.
func (o *Orchestrator) hold(r *run, c completion, inputHash string) error {
	r.mu.RLock()
	n := r.nodes[c.name]
	r.mu.RUnlock()
	err := o.record(domain.ProvenanceEntry{
		RunID:      r.id,
		TaskID:     n.task.ID,
		AgentKind:  n.task.Kind,
		State:      string(domain.TaskAwaitingReview),
		Attempt:    c.attempts,
		StartedAt:  c.started,
		EndedAt:    c.ended,
		InputHash:  inputHash,
		OutputHash: provenance.OutputHash(c.out.Data),
		TraceID:    r.traceID,
	})
	if err != nil {
		return err
	}

	now := o.now()
	h := *c.out.Hypothesis
	o.apply(r, func(emit func(domain.TransitionEvent)) {
		r.held = &heldResult{completion: c, inputHash: inputHash}
		r.review = &domain.ReviewRequest{
			TaskID:          n.task.ID,
			ConfidenceScore: h.ConfidenceScore,
			Threshold:       o.cfg.HITLThreshold,
			Hypothesis:      &h,
		}
		setTask(r, n, domain.TaskAwaitingReview, now, emit)
		setRun(r, domain.RunAwaitingReview, now, emit)
	})
	o.logger.Info("hypothesis awaiting review",
		zap.String("run_id", r.id.String()),
		zap.String("task_id", n.task.ID),
		zap.Float64("confidence", h.ConfidenceScore),
		zap.Float64("threshold", o.cfg.HITLThreshold))
	return nil
}

// fail marks the task failed and every transitive dependent failed with
// dependency_failed pointing at it.
func (o *Orchestrator) fail(r *run, c completion, cause error, inputHash string) error {
	kind := domain.KindOf(cause)
	if errors.Is(cause, context.Canceled) {
		kind = domain.ErrKindCancelled
	}

	r.mu.RLock()
	n := r.nodes[c.name]
	var dependents []*taskNode
	for _, d := range r.dependents(c.name) {
		if r.nodes[d].task.State == domain.TaskPending {
			dependents = append(dependents, r.nodes[d])
		}
	}
	r.mu.RUnlock()

	err := o.record(domain.ProvenanceEntry{
		RunID:     r.id,
		TaskID:    n.task.ID,
		AgentKind: n.task.Kind,
		State:     string(domain.TaskFailed),
		Attempt:   c.attempts,
		StartedAt: c.started,
		EndedAt:   c.ended,
		InputHash: inputHash,
		TraceID:   r.traceID,
		ErrorKind: kind,
	})
	if err != nil {
		return err
	}
	for _, d := range dependents {
		now := o.now()
		err := o.record(domain.ProvenanceEntry{
			RunID:     r.id,
			TaskID:    d.task.ID,
			AgentKind: d.task.Kind,
			State:     string(domain.TaskFailed),
			StartedAt: now,
			EndedAt:   now,
			TraceID:   r.traceID,
			ErrorKind: domain.ErrKindDependency,
		})
		if err != nil {
			return err
		}
	}

	now := o.now()
	o.apply(r, func(emit func(domain.TransitionEvent)) {
		n.task.ErrorKind = kind
		n.task.Error = cause.Error()
		n.task.EndedAt = &now
		setTask(r, n, domain.TaskFailed, now, emit)
		if r.failure == nil {
			r.failure = &domain.Failure{Kind: kind, TaskID: n.task.ID, Message: cause.Error()}
		}
		for _, d := range dependents {
			dep := &domain.DependencyFailed{TaskID: d.task.ID, OriginTaskID: n.task.ID}
			d.task.ErrorKind = domain.ErrKindDependency
			d.task.Error = dep.Error()
			d.task.OriginTaskID = n.task.ID
			d.task.EndedAt = &now
			setTask(r, d, domain.TaskFailed, now, emit)
		}
		o.releaseReview(r, c.name, now, emit)
	})

	o.logger.Warn("task failed",
		zap.String("run_id", r.id.String()),
		zap.String("task_id", n.task.ID),
		zap.String("error_kind", string(kind)),
		zap.Int("attempts", c.attempts),
		zap.Int("dependents_failed", len(dependents)),
		zap.Error(cause))
	return nil
}

// releaseReview leaves the review gate once the held task has resolved.
// Caller holds mu.
func (o *Orchestrator) releaseReview(r *run, name string, now time.Time, emit func(domain.TransitionEvent)) {
	if r.held == nil || r.held.name != name {
		return
	}
	r.held = nil
	r.review = nil
	setRun(r, domain.RunRunning, now, emit)
}

// decide handles a reviewer decision and reports whether the driver
// should stop.
func (o *Orchestrator) decide(r *run, d reviewDecision) bool {
	r.mu.RLock()
	state := r.state
	held := r.held
	r.mu.RUnlock()

	if d.approve {
		if state != domain.RunAwaitingReview || held == nil {
			d.reply <- domain.ErrNotAwaitingReview
			return false
		}
		o.logger.Info("review approved",
			zap.String("run_id", r.id.String()),
			zap.String("task_id", r.nodes[held.name].task.ID))
		if err := o.succeed(r, held.completion, held.inputHash); err != nil {
			d.reply <- err
			return true
		}
		d.reply <- nil
		return false
	}

	if state.Terminal() {
		d.reply <- domain.ErrRunTerminal
		return false
	}
	if err := o.rejectRun(r); err != nil {
		d.reply <- err
		return true
	}
	d.reply <- nil
	return true
}

// rejectRun cancels every unfinished task in one visible step.
func (o *Orchestrator) rejectRun(r *run) error {
	r.mu.RLock()
	var open []*taskNode
	for _, name := range r.order {
		if n := r.nodes[name]; !n.task.State.Terminal() {
			open = append(open, n)
		}
	}
	reviewTask := ""
	if r.held != nil {
		reviewTask = r.nodes[r.held.name].task.ID
	}
	r.mu.RUnlock()

	now := o.now()
	for _, n := range open {
		err := o.record(domain.ProvenanceEntry{
			RunID:     r.id,
			TaskID:    n.task.ID,
			AgentKind: n.task.Kind,
			State:     string(domain.TaskCancelled),
			Attempt:   n.task.Attempts,
			StartedAt: now,
			EndedAt:   now,
			TraceID:   r.traceID,
			ErrorKind: domain.ErrKindRejected,
		})
		if err != nil {
			return err
		}
	}

	rejected := &domain.RejectedByReviewer{TaskID: reviewTask}
	o.apply(r, func(emit func(domain.TransitionEvent)) {
		for _, n := range open {
			n.task.ErrorKind = domain.ErrKindRejected
			n.task.EndedAt = &now
			setTask(r, n, domain.TaskCancelled, now, emit)
		}
		r.held = nil
		r.review = nil
		r.failure = &domain.Failure{Kind: domain.ErrKindRejected, TaskID: reviewTask, Message: rejected.Error()}
		setRun(r, domain.RunRejected, now, emit)
	})
	r.cancel()
	r.span.SetStatus(codes.Error, "rejected")

	o.logger.Info("run rejected",
		zap.String("run_id", r.id.String()),
		zap.Int("cancelled_tasks", len(open)))
	return nil
}

// finish settles the run once nothing is running or waiting.
func (o *Orchestrator) finish(r *run) {
	now := o.now()
	var final domain.RunState
	o.apply(r, func(emit func(domain.TransitionEvent)) {
		final = domain.RunSucceeded
		for _, name := range r.order {
			if r.nodes[name].task.State != domain.TaskSucceeded {
				final = domain.RunFailed
				break
			}
		}
		setRun(r, final, now, emit)
	})
	if final == domain.RunFailed {
		r.span.SetStatus(codes.Error, "run failed")
	}
	o.logger.Info("run finished",
		zap.String("run_id", r.id.String()),
		zap.String("state", string(final)))
}

// record appends a provenance entry, retrying until it is stored or the
// orchestrator stops.
func (o *Orchestrator) record(e domain.ProvenanceEntry) error {
	e.ID = uuid.New()
	for retry := 0; ; retry++ {
		err := o.stores.Provenance.Append(o.ctx, &e)
		if err == nil {
			return nil
		}
		if o.ctx.Err() != nil {
			return o.ctx.Err()
		}
		delay := o.cfg.Retry.CalculateDelay(retry)
		o.logger.Warn("provenance append failed, retrying",
			zap.String("run_id", e.RunID.String()),
			zap.String("task_id", e.TaskID),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := sleep(o.ctx, delay); err != nil {
			return err
		}
	}
}

// commit applies staged writes in memory, concept, edge, access order.
// Transient failures are retried until success or shutdown. Upserts and
// concept observations are idempotent; access reinforcement is one
// statement and runs last, so a retry never repeats it.
func (o *Orchestrator) commit(out agent.Output) error {
	for retry := 0; ; retry++ {
		err := o.commitOnce(o.ctx, out)
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		if o.ctx.Err() != nil {
			return o.ctx.Err()
		}
		delay := o.cfg.Retry.CalculateDelay(retry)
		o.logger.Warn("commit failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		if err := sleep(o.ctx, delay); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) commitOnce(ctx context.Context, out agent.Output) error {
	for i := range out.MemoryWrites {
		rec := out.MemoryWrites[i]
		if _, err := o.stores.Memory.Store(ctx, &rec); err != nil {
			return fmt.Errorf("commit memory %s: %w", rec.ID, err)
		}
	}
	for _, obs := range out.Observations {
		if _, err := o.stores.Graph.ObserveConcept(ctx, obs); err != nil {
			return fmt.Errorf("commit concept %s: %w", obs.Name, err)
		}
	}
	for i := range out.EdgeWrites {
		edge := out.EdgeWrites[i]
		if err := o.stores.Graph.UpsertEdge(ctx, &edge); err != nil {
			return fmt.Errorf("commit edge %s: %w", edge.Key(), err)
		}
	}
	if len(out.Accesses) > 0 {
		if err := o.stores.Memory.RecordAccess(ctx, out.Accesses, o.now()); err != nil {
			return fmt.Errorf("commit access reinforcement: %w", err)
		}
	}
	return nil
}

// apply runs mutate under the run lock, then forwards the events it
// emitted to the publisher.
func (o *Orchestrator) apply(r *run, mutate func(emit func(domain.TransitionEvent))) {
	var evs []domain.TransitionEvent
	r.mu.Lock()
	mutate(func(ev domain.TransitionEvent) {
		r.emit(ev)
		evs = append(evs, ev)
	})
	r.mu.Unlock()
	for _, ev := range evs {
		o.publish(ev)
	}
}

func (o *Orchestrator) publish(ev domain.TransitionEvent) {
	if o.outbox == nil {
		return
	}
	select {
	case o.outbox <- ev:
	default:
		o.logger.Warn("event outbox full, dropping external event",
			zap.String("run_id", ev.RunID.String()),
			zap.String("task_id", ev.TaskID))
	}
}

func (o *Orchestrator) forward() {
	defer close(o.publisherDone)
	for ev := range o.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := o.stores.Publisher.Publish(ctx, ev); err != nil {
			o.logger.Warn("publish transition failed",
				zap.String("run_id", ev.RunID.String()),
				zap.Error(err))
		}
		cancel()
	}
}

func setTask(r *run, n *taskNode, to domain.TaskState, at time.Time, emit func(domain.TransitionEvent)) {
	from := n.task.State
	n.task.State = to
	emit(domain.TransitionEvent{
		RunID:     r.id,
		TaskID:    n.task.ID,
		AgentKind: n.task.Kind,
		From:      string(from),
		To:        string(to),
		Attempt:   n.task.Attempts,
		ErrorKind: n.task.ErrorKind,
		At:        at,
	})
}

func setRun(r *run, to domain.RunState, at time.Time, emit func(domain.TransitionEvent)) {
	from := r.state
	r.state = to
	emit(domain.TransitionEvent{RunID: r.id, From: string(from), To: string(to), At: at})
}

// traceIDOf returns the span's trace id, or a random id of the same shape
// when no tracer provider is installed.
func traceIDOf(span trace.Span) string {
	if sc := span.SpanContext(); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
