package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowmatic/engine/workflow/handler"
)

// nodeOutcome is the normalized result of one handler invocation.
type nodeOutcome struct {
	record NodeExecutionRecord
	logs   []string
}

// runNode invokes a node handler under a cancellable, timeout-bounded context
// and normalizes whatever happens into a NodeExecutionRecord.
//
// Timeout precedence: node override (NodeSpec.TimeoutMS) > engine default >
// none. On timeout or cancellation the record is FAILED with a distinguished
// cause and no partial output is kept.
func runNode(ctx context.Context, h handler.Handler, spec NodeSpec, input any, defaultTimeout time.Duration) nodeOutcome {
	record := NodeExecutionRecord{
		NodeID:    spec.ID,
		NodeType:  spec.Type,
		Status:    NodeRunning,
		StartTime: time.Now(),
		Inputs:    input,
	}

	timeout := defaultTimeout
	if spec.TimeoutMS > 0 {
		timeout = time.Duration(spec.TimeoutMS) * time.Millisecond
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	creds := make([]handler.CredentialRef, 0, len(spec.Credentials))
	for _, c := range spec.Credentials {
		creds = append(creds, handler.CredentialRef(c))
	}

	result, err := invoke(runCtx, h, handler.Request{
		NodeID:      spec.ID,
		NodeType:    spec.Type,
		Input:       input,
		Config:      spec.Config,
		Credentials: creds,
	})

	record.EndTime = time.Now()
	record.Duration = record.EndTime.Sub(record.StartTime)

	if err == nil {
		record.Status = NodeSuccess
		record.Outputs = result.Data
		record.Branch = result.Branch
		return nodeOutcome{record: record, logs: result.Logs}
	}

	record.Status = NodeFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded:
		record.Error = &ExecutionError{
			NodeID:  spec.ID,
			Message: fmt.Sprintf("node exceeded timeout of %v", timeout),
			Cause:   CauseTimeout,
		}
	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		record.Error = &ExecutionError{
			NodeID:  spec.ID,
			Message: "node execution cancelled",
			Cause:   CauseCancelled,
		}
	default:
		record.Error = &ExecutionError{
			NodeID:  spec.ID,
			Message: err.Error(),
			Cause:   CauseHandler,
		}
	}
	return nodeOutcome{record: record, logs: result.Logs}
}

// invoke calls the handler, converting a panic into an error so a misbehaving
// handler can never take down the scheduling loop.
func invoke(ctx context.Context, h handler.Handler, req handler.Request) (result handler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = handler.Result{}
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, req)
}
