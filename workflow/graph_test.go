package workflow

import (
	"errors"
	"reflect"
	"testing"
)

func lineDef(ids ...string) *WorkflowDefinition {
	def := &WorkflowDefinition{ID: "wf"}
	for _, id := range ids {
		def.Nodes = append(def.Nodes, NodeSpec{ID: id, Type: "noop"})
	}
	for i := 1; i < len(ids); i++ {
		def.Edges = append(def.Edges, Edge{Source: ids[i-1], Target: ids[i]})
	}
	return def
}

func TestBuildGraphValidation(t *testing.T) {
	tests := []struct {
		name string
		def  *WorkflowDefinition
		kind ValidationKind
	}{
		{
			name: "empty node ID",
			def: &WorkflowDefinition{
				Nodes: []NodeSpec{{ID: "", Type: "noop"}},
			},
			kind: ValidationMalformed,
		},
		{
			name: "empty node type",
			def: &WorkflowDefinition{
				Nodes: []NodeSpec{{ID: "a"}},
			},
			kind: ValidationMalformed,
		},
		{
			name: "duplicate node ID",
			def: &WorkflowDefinition{
				Nodes: []NodeSpec{{ID: "a", Type: "noop"}, {ID: "a", Type: "noop"}},
			},
			kind: ValidationDuplicateNode,
		},
		{
			name: "dangling edge source",
			def: &WorkflowDefinition{
				Nodes: []NodeSpec{{ID: "a", Type: "noop"}},
				Edges: []Edge{{Source: "ghost", Target: "a"}},
			},
			kind: ValidationDanglingEdge,
		},
		{
			name: "dangling edge target",
			def: &WorkflowDefinition{
				Nodes: []NodeSpec{{ID: "a", Type: "noop"}},
				Edges: []Edge{{Source: "a", Target: "ghost"}},
			},
			kind: ValidationDanglingEdge,
		},
		{
			name: "two node cycle",
			def: &WorkflowDefinition{
				Nodes: []NodeSpec{{ID: "a", Type: "noop"}, {ID: "b", Type: "noop"}},
				Edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
			},
			kind: ValidationCycle,
		},
		{
			name: "self loop",
			def: &WorkflowDefinition{
				Nodes: []NodeSpec{{ID: "a", Type: "noop"}},
				Edges: []Edge{{Source: "a", Target: "a"}},
			},
			kind: ValidationCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.def)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", ve.Kind, tt.kind)
			}
		})
	}
}

func TestBuildGraphLayers(t *testing.T) {
	// Diamond: a -> b, a -> c, b -> d, c -> d.
	def := &WorkflowDefinition{
		Nodes: []NodeSpec{
			{ID: "a", Type: "noop"}, {ID: "b", Type: "noop"},
			{ID: "c", Type: "noop"}, {ID: "d", Type: "noop"},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"}, {Source: "a", Target: "c"},
			{Source: "b", Target: "d"}, {Source: "c", Target: "d"},
		},
	}
	g, err := BuildGraph(def)
	if err != nil {
		t.Fatal(err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(g.Layers(), want) {
		t.Errorf("Layers() = %v, want %v", g.Layers(), want)
	}
	if g.Layer("c") != 1 {
		t.Errorf("Layer(c) = %d, want 1", g.Layer("c"))
	}
}

func TestSuccessorsBranchFiltering(t *testing.T) {
	def := &WorkflowDefinition{
		Nodes: []NodeSpec{
			{ID: "cond", Type: "condition"},
			{ID: "yes", Type: "noop"},
			{ID: "no", Type: "noop"},
			{ID: "always", Type: "noop"},
		},
		Edges: []Edge{
			{Source: "cond", Target: "yes", SourceHandle: "true"},
			{Source: "cond", Target: "no", SourceHandle: "false"},
			{Source: "cond", Target: "always"},
		},
	}
	g, err := BuildGraph(def)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("true branch", func(t *testing.T) {
		targets := edgeTargets(g.Successors("cond", "true"))
		if !reflect.DeepEqual(targets, []string{"yes", "always"}) {
			t.Errorf("live targets = %v", targets)
		}
	})
	t.Run("false branch", func(t *testing.T) {
		targets := edgeTargets(g.Successors("cond", "false"))
		if !reflect.DeepEqual(targets, []string{"no", "always"}) {
			t.Errorf("live targets = %v", targets)
		}
	})
	t.Run("no discriminator", func(t *testing.T) {
		if got := len(g.Successors("cond", "")); got != 3 {
			t.Errorf("live edge count = %d, want 3", got)
		}
	})
}

func TestRestrict(t *testing.T) {
	// a -> b -> c, a -> d. Restricting to b keeps {b, c}.
	def := &WorkflowDefinition{
		Nodes: []NodeSpec{
			{ID: "a", Type: "noop"}, {ID: "b", Type: "noop"},
			{ID: "c", Type: "noop"}, {ID: "d", Type: "noop"},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "a", Target: "d"},
		},
	}
	g, err := BuildGraph(def)
	if err != nil {
		t.Fatal(err)
	}

	sub, err := g.Restrict("b")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sub.NodeIDs(), []string{"b", "c"}) {
		t.Errorf("restricted nodes = %v, want [b c]", sub.NodeIDs())
	}
	if len(sub.Predecessors("b")) != 0 {
		t.Errorf("expected b's external in-edge to be dropped")
	}
	if got := sub.ExternalPredecessors(g); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("ExternalPredecessors = %v, want [a]", got)
	}

	if _, err := g.Restrict("ghost"); err == nil {
		t.Error("expected error restricting to unknown node")
	}
}

func edgeTargets(edges []Edge) []string {
	targets := make([]string, 0, len(edges))
	for _, e := range edges {
		targets = append(targets, e.Target)
	}
	return targets
}
