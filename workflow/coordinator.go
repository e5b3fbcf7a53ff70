package workflow

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/flowmatic/engine/workflow/emit"
	"github.com/flowmatic/engine/workflow/handler"
)

// coordinator walks one workflow graph and drives it to a terminal status.
//
// It is the single logical scheduler for its execution: all ExecutionRecord
// writes flow through it, node work is dispatched to a bounded worker pool,
// and the loop itself never blocks on node I/O. It reacts to one completion
// signal per dispatched node, or to cancellation.
type coordinator struct {
	graph    *Graph
	parent   *Graph // input-resolution topology; differs from graph under replay
	registry *handler.Registry
	tracker  *Tracker
	emitter  emit.Emitter
	metrics  *Metrics
	logger   *slog.Logger

	maxConcurrency int
	nodeTimeout    time.Duration

	// seeds are prior SUCCESS records reused as-is: the node is committed
	// without re-invoking its handler.
	seeds map[string]NodeExecutionRecord

	// external maps ancestors outside the scheduling graph to their recorded
	// outputs, for input resolution in restricted replays.
	external map[string]any

	// persist outlives run cancellation so terminal status still commits
	// after the run context is cancelled.
	persist context.Context

	// Scheduling state. Touched only from the Run goroutine.
	pendingEdges map[string]int
	liveIn       map[string]bool
	deadReason   map[string]SkipReason
	outputs      map[string]any
	nodeStatus   map[string]NodeStatus
	ready        []string
	inflight     int
	done         chan nodeOutcome
	started      bool
	aborted      bool
	cancelled    bool
	sysErr       *SystemError
	cancelRun    context.CancelFunc
}

// Run drives the execution to a terminal status. The returned error is only
// ever a *SystemError; node-level failures are captured on the record and
// never propagate out of the coordinator.
func (c *coordinator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancelRun = cancel
	c.persist = context.WithoutCancel(ctx)

	c.pendingEdges = make(map[string]int, c.graph.Len())
	c.liveIn = make(map[string]bool)
	c.deadReason = make(map[string]SkipReason)
	c.outputs = make(map[string]any, c.graph.Len())
	c.nodeStatus = make(map[string]NodeStatus, c.graph.Len())
	c.done = make(chan nodeOutcome)

	c.mutate(func(rec *ExecutionRecord) {
		rec.StartTime = time.Now()
		for _, id := range c.graph.NodeIDs() {
			spec, _ := c.graph.Node(id)
			rec.NodeExecutions = append(rec.NodeExecutions, NodeExecutionRecord{
				NodeID:   id,
				NodeType: spec.Type,
				Status:   NodePending,
			})
		}
	})
	c.emit(emit.Event{ExecutionID: c.tracker.Record().ID, Msg: "execution_started"})

	var roots []string
	for _, id := range c.graph.NodeIDs() {
		c.nodeStatus[id] = NodePending
		c.pendingEdges[id] = len(c.graph.Predecessors(id))
		if c.pendingEdges[id] == 0 {
			roots = append(roots, id)
		}
	}
	// Promoting a seeded root settles its outgoing edges immediately, which
	// may promote successors on its own; only the snapshotted roots may be
	// promoted from here, or those successors would be promoted twice.
	for _, id := range roots {
		c.liveIn[id] = true
		c.promote(id)
	}

	for {
		for c.inflight < c.maxConcurrency && len(c.ready) > 0 && !c.aborted && !c.cancelled {
			id := c.ready[0]
			c.ready = c.ready[1:]
			c.dispatch(runCtx, id)
		}
		c.metrics.readyQueue(len(c.ready))

		if c.inflight == 0 {
			break
		}

		if c.aborted || c.cancelled {
			// Only drain completions; nothing new gets dispatched.
			out := <-c.done
			c.handleCompletion(out)
			continue
		}

		select {
		case out := <-c.done:
			c.handleCompletion(out)
		case <-ctx.Done():
			c.cancelled = true
			cancel()
		}
	}
	if ctx.Err() != nil && !c.aborted {
		c.cancelled = true
	}

	c.finalize()
	if c.sysErr != nil {
		return c.sysErr
	}
	return nil
}

// dispatch resolves a node's input and hands it to the worker pool.
func (c *coordinator) dispatch(runCtx context.Context, id string) {
	spec, _ := c.graph.Node(id)
	execID := c.tracker.Record().ID

	if !c.started {
		c.started = true
		c.mutate(func(rec *ExecutionRecord) { rec.Status = StatusRunning })
	}

	h, ok := c.registry.Get(spec.Type)
	if !ok {
		c.inflight++
		c.metrics.nodeStarted()
		now := time.Now()
		c.handleCompletion(nodeOutcome{record: NodeExecutionRecord{
			NodeID:    id,
			NodeType:  spec.Type,
			Status:    NodeFailed,
			StartTime: now,
			EndTime:   now,
			Error: &ExecutionError{
				NodeID:  id,
				Message: "no handler registered for node type " + spec.Type,
				Cause:   CauseHandler,
			},
		}})
		return
	}

	input, resolved := c.resolveNodeInput(id, spec)
	if !resolved {
		c.logger.Warn("node has no value configured", "execution_id", execID, "node_id", id)
		if err := c.tracker.AppendLogs(c.persist, id, "warn", "node has no value configured"); err != nil {
			c.systemFailure(err)
		}
	}

	c.nodeStatus[id] = NodeRunning
	c.mutate(func(rec *ExecutionRecord) {
		node := rec.Node(id)
		node.Status = NodeRunning
		node.StartTime = time.Now()
		node.Inputs = input
	})
	c.emit(emit.Event{ExecutionID: execID, NodeID: id, Msg: "node_dispatched"})

	c.inflight++
	c.metrics.nodeStarted()
	go func() {
		c.done <- runNode(runCtx, h, spec, input, c.nodeTimeout)
	}()
}

// resolveNodeInput computes the input actually handed to a node's handler.
// With no upstream contribution the full static resolution chain applies.
// With upstream data, an already-evaluated config.value still wins, but the
// rest of the node's config stays a handler concern: the upstream outputs
// become the declared-input mapping and resolve under the mapping rules.
func (c *coordinator) resolveNodeInput(id string, spec NodeSpec) (any, bool) {
	declared := c.declaredFor(id, spec)
	if declared == nil {
		return ResolveInput(spec, nil)
	}
	if v, ok := spec.Config["value"]; ok {
		return v, true
	}
	stripped := spec
	stripped.Config = nil
	return ResolveInput(stripped, declared)
}

// declaredFor assembles a node's declared inputs from its statically declared
// set and the recorded outputs of its predecessors. Upstream outputs are
// keyed by source node ID and win over static entries of the same name.
// Returns nil when nothing upstream contributes, so sequence-shaped static
// inputs keep their legacy resolution rules.
func (c *coordinator) declaredFor(id string, spec NodeSpec) any {
	upstream := make(map[string]any)
	for _, edge := range c.parent.Predecessors(id) {
		if out, ok := c.outputs[edge.Source]; ok {
			upstream[edge.Source] = out
		} else if out, ok := c.external[edge.Source]; ok {
			upstream[edge.Source] = out
		}
	}
	if len(upstream) == 0 {
		return nil
	}

	merged := make(map[string]any)
	if seq, ok := asDeclaredSequence(spec.Inputs); ok {
		for _, in := range seq {
			merged[in.Name] = in.Value
		}
	} else if m, ok := spec.Inputs.(map[string]any); ok {
		for k, v := range m {
			merged[k] = v
		}
	}
	for k, v := range upstream {
		merged[k] = v
	}
	return merged
}

// handleCompletion commits one node result and recomputes readiness and
// branch liveness downstream.
func (c *coordinator) handleCompletion(out nodeOutcome) {
	c.inflight--
	id := out.record.NodeID
	execID := c.tracker.Record().ID
	spec, _ := c.graph.Node(id)

	c.nodeStatus[id] = out.record.Status
	c.metrics.nodeFinished(out.record.NodeType, out.record.Status, errCause(out.record.Error), out.record.Duration)

	c.mutate(func(rec *ExecutionRecord) {
		node := rec.Node(id)
		*node = out.record
		if out.record.Error != nil {
			rec.Errors = append(rec.Errors, *out.record.Error)
		}
	})
	if len(out.logs) > 0 {
		if err := c.tracker.AppendLogs(c.persist, id, "info", out.logs...); err != nil {
			c.systemFailure(err)
		}
	}

	if out.record.Status == NodeSuccess {
		c.outputs[id] = out.record.Outputs
		meta := map[string]any{
			"status":      string(NodeSuccess),
			"duration_ms": out.record.Duration.Milliseconds(),
		}
		if out.record.Branch != "" {
			meta["branch"] = out.record.Branch
		}
		c.emit(emit.Event{ExecutionID: execID, NodeID: id, Msg: "node_completed", Meta: meta})
		c.propagateSuccess(id, out.record.Branch)
		return
	}

	c.emit(emit.Event{ExecutionID: execID, NodeID: id, Msg: "node_failed", Meta: map[string]any{
		"status": string(NodeFailed),
		"error":  out.record.Error.Message,
		"cause":  out.record.Error.Cause,
	}})
	c.logger.Warn("node failed",
		"execution_id", execID, "node_id", id,
		"cause", out.record.Error.Cause, "error", out.record.Error.Message)

	if spec.ContinueOnFail && !c.cancelled {
		// Siblings proceed; this node's exclusive descendants get skipped
		// with a failed-ancestor reason so retry-failed picks them up.
		for _, edge := range c.graph.Outgoing(id) {
			c.resolveEdge(edge, false, SkipFailedAncestor)
		}
		return
	}

	if !c.aborted && !c.cancelled {
		c.aborted = true
		c.cancelRun()
	}
	reason := SkipFailedAncestor
	if c.cancelled && out.record.Error.Cause == CauseCancelled {
		reason = SkipCancelled
	}
	for _, edge := range c.graph.Outgoing(id) {
		c.resolveEdge(edge, false, reason)
	}
}

// propagateSuccess resolves every outgoing edge of a successful node.
// Branch-aware: with a discriminator, only matching (or unset) handles are
// live; the rest are dead and their exclusive descendants get skipped.
func (c *coordinator) propagateSuccess(id, branch string) {
	for _, edge := range c.graph.Outgoing(id) {
		live := branch == "" || edge.SourceHandle == "" || edge.SourceHandle == branch
		c.resolveEdge(edge, live, SkipBranchNotTaken)
	}
}

// resolveEdge marks one incoming edge of edge.Target as settled and promotes
// the target once all of its incoming edges are.
func (c *coordinator) resolveEdge(edge Edge, live bool, reason SkipReason) {
	c.pendingEdges[edge.Target]--
	if live {
		c.liveIn[edge.Target] = true
	} else {
		c.mergeDeadReason(edge.Target, reason)
	}
	if c.pendingEdges[edge.Target] == 0 {
		c.promote(edge.Target)
	}
}

// promote decides what happens to a node whose predecessors are all settled:
// reuse a seeded record, enter the ready set, or skip.
func (c *coordinator) promote(id string) {
	if !c.liveIn[id] {
		reason := c.deadReason[id]
		if reason == "" {
			reason = SkipBranchNotTaken
		}
		c.skip(id, reason)
		return
	}

	if seed, ok := c.seeds[id]; ok && seed.Status == NodeSuccess {
		c.commitSeed(id, seed)
		return
	}

	c.ready = append(c.ready, id)
	sort.Slice(c.ready, func(i, j int) bool {
		li, lj := c.graph.Layer(c.ready[i]), c.graph.Layer(c.ready[j])
		if li != lj {
			return li < lj
		}
		return c.ready[i] < c.ready[j]
	})
}

// commitSeed reuses a prior SUCCESS record without re-invoking the handler.
func (c *coordinator) commitSeed(id string, seed NodeExecutionRecord) {
	c.nodeStatus[id] = NodeSuccess
	c.outputs[id] = seed.Outputs
	c.mutate(func(rec *ExecutionRecord) {
		node := rec.Node(id)
		*node = seed
	})
	c.emit(emit.Event{ExecutionID: c.tracker.Record().ID, NodeID: id, Msg: "node_reused", Meta: map[string]any{
		"status": string(NodeSuccess),
	}})
	c.propagateSuccess(id, seed.Branch)
}

// skip marks a node SKIPPED and propagates deadness downstream.
func (c *coordinator) skip(id string, reason SkipReason) {
	c.nodeStatus[id] = NodeSkipped
	c.mutate(func(rec *ExecutionRecord) {
		node := rec.Node(id)
		node.Status = NodeSkipped
		node.SkipReason = reason
	})
	c.emit(emit.Event{ExecutionID: c.tracker.Record().ID, NodeID: id, Msg: "node_skipped", Meta: map[string]any{
		"status":      string(NodeSkipped),
		"skip_reason": string(reason),
	}})
	for _, edge := range c.graph.Outgoing(id) {
		c.resolveEdge(edge, false, reason)
	}
}

// mergeDeadReason keeps the strongest skip cause for a node with several
// dead incoming edges; failed-ancestor outranks the rest so retry-failed
// sees every node a failure prevented from running.
func (c *coordinator) mergeDeadReason(id string, reason SkipReason) {
	current := c.deadReason[id]
	if current == SkipFailedAncestor {
		return
	}
	if reason == SkipFailedAncestor || current == "" {
		c.deadReason[id] = reason
	}
}

// finalize skips whatever never started, aggregates the terminal status, and
// computes the final result.
func (c *coordinator) finalize() {
	for _, id := range c.graph.NodeIDs() {
		if !c.nodeStatus[id].Terminal() {
			reason := SkipCancelled
			if c.aborted && !c.cancelled {
				reason = SkipFailedAncestor
			}
			c.nodeStatus[id] = NodeSkipped
			c.mutate(func(rec *ExecutionRecord) {
				node := rec.Node(id)
				node.Status = NodeSkipped
				node.SkipReason = reason
			})
		}
	}

	terminal := StatusCompleted
	switch {
	case c.aborted || c.sysErr != nil:
		terminal = StatusFailed
	case c.cancelled:
		terminal = StatusCancelled
	}

	final := c.finalResult()
	c.mutate(func(rec *ExecutionRecord) {
		rec.Status = terminal
		rec.EndTime = time.Now()
		rec.Duration = rec.EndTime.Sub(rec.StartTime)
		rec.FinalResult = final
		if c.sysErr != nil {
			rec.Errors = append(rec.Errors, ExecutionError{
				Message: c.sysErr.Error(),
				Cause:   CauseSystem,
			})
		}
	})
	c.metrics.executionFinished(terminal)
	c.emit(emit.Event{ExecutionID: c.tracker.Record().ID, Msg: "execution_finished", Meta: map[string]any{
		"status": string(terminal),
	}})
	c.logger.Info("execution finished",
		"execution_id", c.tracker.Record().ID, "status", string(terminal))
}

// finalResult collects the outputs of leaf SUCCESS nodes, keyed by node ID
// and unwrapped when there is exactly one.
func (c *coordinator) finalResult() any {
	leaves := make(map[string]any)
	for _, id := range c.graph.NodeIDs() {
		if len(c.graph.Outgoing(id)) == 0 && c.nodeStatus[id] == NodeSuccess {
			leaves[id] = c.outputs[id]
		}
	}
	if len(leaves) == 0 {
		return nil
	}
	if len(leaves) == 1 {
		for _, v := range leaves {
			return v
		}
	}
	return leaves
}

// mutate commits a record change, downgrading persistence failures to a
// system-level run failure instead of crashing the loop.
func (c *coordinator) mutate(fn func(*ExecutionRecord)) {
	if err := c.tracker.Mutate(c.persist, fn); err != nil {
		c.systemFailure(err)
	}
}

func (c *coordinator) systemFailure(err error) {
	if c.sysErr != nil {
		return
	}
	if sys, ok := err.(*SystemError); ok {
		c.sysErr = sys
	} else {
		c.sysErr = &SystemError{Op: "commit", Err: err}
	}
	c.logger.Error("system failure during execution",
		"execution_id", c.tracker.Record().ID, "error", err.Error())
	c.aborted = true
	if c.cancelRun != nil {
		c.cancelRun()
	}
}

func (c *coordinator) emit(event emit.Event) {
	if c.emitter != nil {
		c.emitter.Emit(event)
	}
}

func errCause(err *ExecutionError) string {
	if err == nil {
		return ""
	}
	return err.Cause
}
