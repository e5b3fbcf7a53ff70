package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmatic/engine/workflow/emit"
	"github.com/flowmatic/engine/workflow/handler"
)

// Engine is the entry point for workflow execution. It validates and stores
// definitions, initiates and starts executions, and answers status, log, and
// replay queries. One Engine serves many concurrent executions; each gets
// its own coordinator goroutine and tracker.
type Engine struct {
	store    Store
	registry *handler.Registry
	opts     Options
	emitter  emit.Emitter
	metrics  *Metrics
	logger   *slog.Logger

	mu   sync.Mutex
	live map[string]*liveRun
}

// liveRun is the engine's handle on an in-flight execution.
type liveRun struct {
	tracker *Tracker
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine builds an Engine over a store and a handler registry.
func NewEngine(store Store, registry *handler.Registry, options ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		emitter:  emit.NewNullEmitter(),
		logger:   slog.Default(),
		live:     make(map[string]*liveRun),
	}
	for _, opt := range options {
		opt(e)
	}
	e.opts = e.opts.withDefaults()
	return e
}

// SaveWorkflow validates a definition's graph and persists it.
func (e *Engine) SaveWorkflow(ctx context.Context, def *WorkflowDefinition) error {
	if _, err := BuildGraph(def); err != nil {
		return err
	}
	if err := e.store.SaveWorkflow(ctx, def); err != nil {
		return &SystemError{Op: "save workflow", Err: err}
	}
	return nil
}

// Workflow retrieves a stored definition.
func (e *Engine) Workflow(ctx context.Context, id string) (*WorkflowDefinition, error) {
	return e.store.LoadWorkflow(ctx, id)
}

// Initiate creates a PENDING execution for a stored workflow. The definition
// is snapshotted onto the record, so later edits to the workflow never
// affect an execution already created.
func (e *Engine) Initiate(ctx context.Context, workflowID string) (*ExecutionRecord, error) {
	def, err := e.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if _, err := BuildGraph(def); err != nil {
		return nil, err
	}

	rec := &ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     StatusPending,
		Definition: def,
		UpdatedAt:  time.Now(),
	}
	if err := e.store.SaveExecution(ctx, rec); err != nil {
		return nil, &SystemError{Op: "save execution", Err: err}
	}
	e.logger.Info("execution initiated", "execution_id", rec.ID, "workflow_id", workflowID)
	return rec.Clone(), nil
}

// Start moves a PENDING execution to QUEUED and launches its coordinator.
// Returns a StateError if the execution already left PENDING.
func (e *Engine) Start(ctx context.Context, executionID string) error {
	rec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if rec.Status != StatusPending {
		return &StateError{ExecutionID: executionID, Status: rec.Status, Message: "execution already started"}
	}

	graph, err := BuildGraph(rec.Definition)
	if err != nil {
		return err
	}
	plan := &replayPlan{
		sched:    graph,
		parent:   graph,
		seeds:    map[string]NodeExecutionRecord{},
		external: map[string]any{},
	}
	return e.launch(ctx, rec, plan)
}

// Replay creates and starts a new execution that re-runs fromNodeID and its
// descendants, feeding them the recorded outputs of untouched ancestors. An
// empty fromNodeID replays the whole workflow. The source execution must be
// terminal.
func (e *Engine) Replay(ctx context.Context, executionID, fromNodeID string) (*ExecutionRecord, error) {
	prior, err := e.terminalExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	plan, err := buildReplayPlan(prior.Definition, prior, fromNodeID)
	if err != nil {
		return nil, err
	}
	return e.derive(ctx, prior, plan)
}

// RetryFailed creates and starts a new execution of the whole workflow in
// which every previously successful node is reused without re-invoking its
// handler, so only failed nodes and the work their failures blocked run
// again. Returns ErrNothingToRetry when there is nothing to do.
func (e *Engine) RetryFailed(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	prior, err := e.terminalExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	plan, err := buildRetryPlan(prior.Definition, prior)
	if err != nil {
		return nil, err
	}
	return e.derive(ctx, prior, plan)
}

// Cancel requests cancellation of an execution. In-flight nodes are
// interrupted, unstarted nodes are skipped, and the run terminates as
// CANCELLED. A PENDING execution is cancelled directly; a terminal one
// yields a StateError.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	lr, ok := e.live[executionID]
	e.mu.Unlock()
	if ok {
		lr.cancel()
		return nil
	}

	rec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return &StateError{ExecutionID: executionID, Status: rec.Status, Message: "execution already finished"}
	}
	rec = rec.Clone()
	rec.Status = StatusCancelled
	rec.UpdatedAt = time.Now()
	if err := e.store.SaveExecution(ctx, rec); err != nil {
		return &SystemError{Op: "save execution", Err: err}
	}
	return nil
}

// Get returns the full execution record, preferring the live in-memory view
// over the stored snapshot.
func (e *Engine) Get(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	e.mu.Lock()
	lr, ok := e.live[executionID]
	e.mu.Unlock()
	if ok {
		return lr.tracker.Record(), nil
	}
	return e.store.LoadExecution(ctx, executionID)
}

// Status returns the cheap (id, status, updatedAt) fingerprint, suitable for
// high-frequency polling.
func (e *Engine) Status(ctx context.Context, executionID string) (Fingerprint, error) {
	e.mu.Lock()
	lr, ok := e.live[executionID]
	e.mu.Unlock()
	if ok {
		return lr.tracker.Fingerprint(), nil
	}
	return e.store.ExecutionFingerprint(ctx, executionID)
}

// List returns the fingerprints of a workflow's executions, most recent
// first.
func (e *Engine) List(ctx context.Context, workflowID string) ([]Fingerprint, error) {
	return e.store.ListExecutions(ctx, workflowID)
}

// Logs returns one page of an execution's log stream plus the total count.
func (e *Engine) Logs(ctx context.Context, executionID string, offset, limit int) ([]LogLine, int, error) {
	return e.store.Logs(ctx, executionID, offset, limit)
}

// Subscribe delivers a fingerprint on every committed status transition of a
// live execution. The returned cancel func releases the subscription. For
// executions that are not live the channel is closed immediately after one
// snapshot fingerprint.
func (e *Engine) Subscribe(ctx context.Context, executionID string) (<-chan Fingerprint, func(), error) {
	e.mu.Lock()
	lr, ok := e.live[executionID]
	e.mu.Unlock()
	if ok {
		ch, cancel := lr.tracker.Subscribe()
		return ch, cancel, nil
	}

	fp, err := e.store.ExecutionFingerprint(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Fingerprint, 1)
	ch <- fp
	close(ch)
	return ch, func() {}, nil
}

// TestNode invokes a single handler outside any workflow, for interactive
// node testing from a builder UI. No record is persisted.
func (e *Engine) TestNode(ctx context.Context, nodeType string, config map[string]any, input any) (NodeExecutionRecord, []string, error) {
	h, ok := e.registry.Get(nodeType)
	if !ok {
		return NodeExecutionRecord{}, nil, &ValidationError{
			Kind:    ValidationMalformed,
			Message: "no handler registered for node type " + nodeType,
		}
	}
	spec := NodeSpec{ID: "test", Type: nodeType, Config: config}
	resolved, _ := ResolveInput(spec, input)
	out := runNode(ctx, h, spec, resolved, e.opts.NodeTimeout)
	return out.record, out.logs, nil
}

// Wait blocks until the execution's coordinator goroutine exits. Returns
// immediately for executions that are not live. Intended for tests and
// graceful shutdown.
func (e *Engine) Wait(executionID string) {
	e.mu.Lock()
	lr, ok := e.live[executionID]
	e.mu.Unlock()
	if ok {
		<-lr.done
	}
}

// Shutdown cancels every live execution and waits for their coordinators to
// commit terminal status, or until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	runs := make([]*liveRun, 0, len(e.live))
	for _, lr := range e.live {
		runs = append(runs, lr)
	}
	e.mu.Unlock()

	for _, lr := range runs {
		lr.cancel()
	}
	for _, lr := range runs {
		select {
		case <-lr.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// terminalExecution loads an execution and requires it to be finished.
func (e *Engine) terminalExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	rec, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		return nil, &StateError{ExecutionID: executionID, Status: rec.Status, Message: "execution still in progress"}
	}
	if rec.Definition == nil {
		return nil, &ValidationError{Kind: ValidationMalformed, Message: "execution has no definition snapshot"}
	}
	return rec, nil
}

// derive creates a new QUEUED execution from a prior one and launches it.
func (e *Engine) derive(ctx context.Context, prior *ExecutionRecord, plan *replayPlan) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: prior.WorkflowID,
		Status:     StatusPending,
		Definition: prior.Definition,
		UpdatedAt:  time.Now(),
	}
	if err := e.store.SaveExecution(ctx, rec); err != nil {
		return nil, &SystemError{Op: "save execution", Err: err}
	}
	if err := e.launch(ctx, rec, plan); err != nil {
		return nil, err
	}
	return e.Get(ctx, rec.ID)
}

// launch commits QUEUED and starts the coordinator goroutine.
func (e *Engine) launch(ctx context.Context, rec *ExecutionRecord, plan *replayPlan) error {
	tracker := NewTracker(e.store, rec)
	if err := tracker.Mutate(ctx, func(r *ExecutionRecord) { r.Status = StatusQueued }); err != nil {
		return err
	}

	maxConc := e.opts.MaxConcurrency
	if rec.Definition.Settings.MaxConcurrency > 0 {
		maxConc = rec.Definition.Settings.MaxConcurrency
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lr := &liveRun{tracker: tracker, cancel: cancel, done: make(chan struct{})}
	e.mu.Lock()
	e.live[rec.ID] = lr
	e.mu.Unlock()

	c := &coordinator{
		graph:          plan.sched,
		parent:         plan.parent,
		registry:       e.registry,
		tracker:        tracker,
		emitter:        e.emitter,
		metrics:        e.metrics,
		logger:         e.logger,
		maxConcurrency: maxConc,
		nodeTimeout:    e.opts.NodeTimeout,
		seeds:          plan.seeds,
		external:       plan.external,
	}

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.live, rec.ID)
			e.mu.Unlock()
			cancel()
			close(lr.done)
		}()
		if err := c.Run(runCtx); err != nil {
			e.logger.Error("execution ended with system error",
				"execution_id", rec.ID, "error", err.Error())
		}
	}()
	return nil
}
