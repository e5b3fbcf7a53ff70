package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowmatic/engine/workflow"
	"github.com/flowmatic/engine/workflow/store"
)

// storeFactories lists the backends exercised by the shared conformance
// tests. MySQL needs a live server and is covered separately.
func storeFactories(t *testing.T) map[string]func(t *testing.T) workflow.Store {
	t.Helper()
	return map[string]func(t *testing.T) workflow.Store{
		"memory": func(t *testing.T) workflow.Store {
			return store.NewMemStore()
		},
		"sqlite": func(t *testing.T) workflow.Store {
			s, err := store.NewSQLiteStore(":memory:")
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func sampleRecord(id, workflowID string, status workflow.Status, updated time.Time) *workflow.ExecutionRecord {
	return &workflow.ExecutionRecord{
		ID:         id,
		WorkflowID: workflowID,
		Status:     status,
		UpdatedAt:  updated,
		NodeExecutions: []workflow.NodeExecutionRecord{
			{NodeID: "a", NodeType: "noop", Status: workflow.NodeSuccess, Outputs: "out"},
		},
	}
}

func TestStoreWorkflowRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()

			if _, err := st.LoadWorkflow(ctx, "missing"); !errors.Is(err, workflow.ErrNotFound) {
				t.Errorf("missing workflow err = %v, want ErrNotFound", err)
			}

			def := &workflow.WorkflowDefinition{
				ID:   "wf-1",
				Name: "sample",
				Nodes: []workflow.NodeSpec{
					{ID: "a", Type: "noop", Config: map[string]any{"value": "x"}},
				},
				Settings: workflow.Settings{MaxConcurrency: 3},
			}
			if err := st.SaveWorkflow(ctx, def); err != nil {
				t.Fatal(err)
			}

			got, err := st.LoadWorkflow(ctx, "wf-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != "sample" || len(got.Nodes) != 1 || got.Settings.MaxConcurrency != 3 {
				t.Errorf("loaded workflow = %+v", got)
			}

			// Overwrite under the same ID.
			def.Name = "renamed"
			if err := st.SaveWorkflow(ctx, def); err != nil {
				t.Fatal(err)
			}
			got, err = st.LoadWorkflow(ctx, "wf-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != "renamed" {
				t.Errorf("name after overwrite = %q", got.Name)
			}
		})
	}
}

func TestStoreExecutionRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()

			if _, err := st.LoadExecution(ctx, "missing"); !errors.Is(err, workflow.ErrNotFound) {
				t.Errorf("missing execution err = %v, want ErrNotFound", err)
			}
			if _, err := st.ExecutionFingerprint(ctx, "missing"); !errors.Is(err, workflow.ErrNotFound) {
				t.Errorf("missing fingerprint err = %v, want ErrNotFound", err)
			}

			now := time.Now().UTC().Truncate(time.Millisecond)
			rec := sampleRecord("exec-1", "wf-1", workflow.StatusRunning, now)
			if err := st.SaveExecution(ctx, rec); err != nil {
				t.Fatal(err)
			}

			got, err := st.LoadExecution(ctx, "exec-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != workflow.StatusRunning || len(got.NodeExecutions) != 1 {
				t.Errorf("loaded execution = %+v", got)
			}

			fp, err := st.ExecutionFingerprint(ctx, "exec-1")
			if err != nil {
				t.Fatal(err)
			}
			if fp.ID != "exec-1" || fp.Status != workflow.StatusRunning || !fp.UpdatedAt.Equal(now) {
				t.Errorf("fingerprint = %+v, want updated %v", fp, now)
			}

			// Status transitions overwrite the snapshot.
			rec.Status = workflow.StatusCompleted
			rec.UpdatedAt = now.Add(time.Second)
			if err := st.SaveExecution(ctx, rec); err != nil {
				t.Fatal(err)
			}
			fp, err = st.ExecutionFingerprint(ctx, "exec-1")
			if err != nil {
				t.Fatal(err)
			}
			if fp.Status != workflow.StatusCompleted {
				t.Errorf("fingerprint after overwrite = %+v", fp)
			}
		})
	}
}

func TestStoreListExecutionsOrder(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Millisecond)

			for i, id := range []string{"old", "mid", "new"} {
				rec := sampleRecord(id, "wf-1", workflow.StatusCompleted, base.Add(time.Duration(i)*time.Second))
				if err := st.SaveExecution(ctx, rec); err != nil {
					t.Fatal(err)
				}
			}
			// An execution of another workflow must not leak into the list.
			other := sampleRecord("other", "wf-2", workflow.StatusCompleted, base)
			if err := st.SaveExecution(ctx, other); err != nil {
				t.Fatal(err)
			}

			fps, err := st.ListExecutions(ctx, "wf-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(fps) != 3 {
				t.Fatalf("list length = %d, want 3", len(fps))
			}
			wantOrder := []string{"new", "mid", "old"}
			for i, fp := range fps {
				if fp.ID != wantOrder[i] {
					t.Errorf("list[%d] = %s, want %s", i, fp.ID, wantOrder[i])
				}
			}
		})
	}
}

func TestStoreLogsPaging(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			var lines []workflow.LogLine
			for i := 1; i <= 5; i++ {
				lines = append(lines, workflow.LogLine{
					Seq:         int64(i),
					ExecutionID: "exec-1",
					NodeID:      "a",
					Level:       "info",
					Message:     "line",
					Time:        now,
				})
			}
			if err := st.AppendLogs(ctx, "exec-1", lines[:3]); err != nil {
				t.Fatal(err)
			}
			if err := st.AppendLogs(ctx, "exec-1", lines[3:]); err != nil {
				t.Fatal(err)
			}

			page, total, err := st.Logs(ctx, "exec-1", 1, 2)
			if err != nil {
				t.Fatal(err)
			}
			if total != 5 {
				t.Errorf("total = %d, want 5", total)
			}
			if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 3 {
				t.Errorf("page = %+v", page)
			}

			// Offset past the end yields an empty page with the true total.
			page, total, err = st.Logs(ctx, "exec-1", 10, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(page) != 0 || total != 5 {
				t.Errorf("past-end page = %+v total = %d", page, total)
			}

			// Unknown execution has no logs and zero total.
			page, total, err = st.Logs(ctx, "ghost", 0, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(page) != 0 || total != 0 {
				t.Errorf("ghost logs = %+v total = %d", page, total)
			}
		})
	}
}
