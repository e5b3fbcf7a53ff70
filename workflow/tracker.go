package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker is the single-writer store of a live ExecutionRecord.
//
// Only the coordinator mutates the record, and every mutation replaces it
// atomically (copy-on-write), so concurrent readers never observe a
// half-updated record. Readers get either the cheap fingerprint or the full
// committed snapshot; pollers, the logs tail, and internal consumers all
// subscribe to the same fingerprint-diff stream instead of re-deriving their
// own change detection.
type Tracker struct {
	store Store

	current atomic.Pointer[ExecutionRecord]

	mu      sync.Mutex
	subs    map[int]chan Fingerprint
	nextSub int
	logSeq  int64
}

// NewTracker creates a tracker owning rec. The record is persisted to store
// on every committed mutation.
func NewTracker(store Store, rec *ExecutionRecord) *Tracker {
	t := &Tracker{
		store: store,
		subs:  make(map[int]chan Fingerprint),
	}
	t.current.Store(rec)
	return t
}

// Record returns the latest committed snapshot. The snapshot is immutable;
// callers must not modify it.
func (t *Tracker) Record() *ExecutionRecord {
	return t.current.Load()
}

// Fingerprint returns the cheap read shape of the latest snapshot.
func (t *Tracker) Fingerprint() Fingerprint {
	return t.current.Load().Fingerprint()
}

// Mutate applies fn to a copy of the current record, stamps UpdatedAt,
// publishes the copy, persists it, and notifies subscribers. Returns a
// *SystemError when persistence fails; the published in-memory state is kept
// so the caller can still surface the failure on the record itself.
func (t *Tracker) Mutate(ctx context.Context, fn func(*ExecutionRecord)) error {
	next := t.current.Load().Clone()
	fn(next)
	next.UpdatedAt = time.Now()
	t.current.Store(next)
	t.notify(next.Fingerprint())

	if err := t.store.SaveExecution(ctx, next); err != nil {
		return &SystemError{Op: "save execution", Err: err}
	}
	return nil
}

// Subscribe registers a fingerprint-diff listener. Every committed mutation
// delivers the new fingerprint; slow subscribers miss intermediate values
// but always receive the latest one eventually. The returned cancel function
// must be called to release the subscription.
func (t *Tracker) Subscribe() (<-chan Fingerprint, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan Fingerprint, 1)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (t *Tracker) notify(fp Fingerprint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		// Keep only the freshest fingerprint for laggy subscribers.
		select {
		case ch <- fp:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- fp:
			default:
			}
		}
	}
}

// AppendLogs appends node log lines to the execution's append-only stream.
// Sequence numbers are assigned here so ordering survives concurrent node
// completions.
func (t *Tracker) AppendLogs(ctx context.Context, nodeID, level string, messages ...string) error {
	if len(messages) == 0 {
		return nil
	}
	rec := t.current.Load()

	t.mu.Lock()
	lines := make([]LogLine, 0, len(messages))
	for _, msg := range messages {
		t.logSeq++
		lines = append(lines, LogLine{
			Seq:         t.logSeq,
			ExecutionID: rec.ID,
			NodeID:      nodeID,
			Level:       level,
			Message:     msg,
			Time:        time.Now(),
		})
	}
	t.mu.Unlock()

	if err := t.store.AppendLogs(ctx, rec.ID, lines); err != nil {
		return &SystemError{Op: "append logs", Err: err}
	}
	return nil
}
