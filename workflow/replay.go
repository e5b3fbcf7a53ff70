package workflow

// replayPlan describes everything a coordinator needs to re-run part of a
// finished execution: the subgraph to schedule, the full topology for input
// resolution, prior records to reuse, and outputs of ancestors outside the
// scheduled set.
type replayPlan struct {
	sched    *Graph
	parent   *Graph
	seeds    map[string]NodeExecutionRecord
	external map[string]any
}

// buildReplayPlan restricts the workflow to fromID and its descendants; an
// empty fromID replays the whole graph. Every node in the restricted set
// re-runs; ancestors outside it contribute their recorded outputs so input
// resolution sees the same upstream data the original run did.
func buildReplayPlan(def *WorkflowDefinition, prior *ExecutionRecord, fromID string) (*replayPlan, error) {
	parent, err := BuildGraph(def)
	if err != nil {
		return nil, err
	}
	sched := parent
	if fromID != "" {
		sched, err = parent.Restrict(fromID)
		if err != nil {
			return nil, err
		}
	}

	external := make(map[string]any)
	for _, node := range prior.NodeExecutions {
		if _, inSet := sched.Node(node.NodeID); inSet {
			continue
		}
		if node.Status == NodeSuccess {
			external[node.NodeID] = node.Outputs
		}
	}

	return &replayPlan{
		sched:    sched,
		parent:   parent,
		seeds:    map[string]NodeExecutionRecord{},
		external: external,
	}, nil
}

// buildRetryPlan schedules the full workflow but seeds every prior SUCCESS
// node so only failed nodes and the nodes their failures blocked actually
// execute. Returns ErrNothingToRetry when no node qualifies.
func buildRetryPlan(def *WorkflowDefinition, prior *ExecutionRecord) (*replayPlan, error) {
	parent, err := BuildGraph(def)
	if err != nil {
		return nil, err
	}

	seeds := make(map[string]NodeExecutionRecord)
	retryable := 0
	for _, node := range prior.NodeExecutions {
		switch {
		case node.Status == NodeSuccess:
			seeds[node.NodeID] = node
		case node.Status == NodeFailed:
			retryable++
		case node.Status == NodeSkipped && node.SkipReason == SkipFailedAncestor:
			retryable++
		case node.Status == NodeSkipped && node.SkipReason == SkipCancelled:
			retryable++
		}
	}
	if retryable == 0 {
		return nil, ErrNothingToRetry
	}

	return &replayPlan{
		sched:    parent,
		parent:   parent,
		seeds:    seeds,
		external: map[string]any{},
	}, nil
}
