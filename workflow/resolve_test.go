package workflow

import (
	"reflect"
	"testing"
)

func TestResolveInput(t *testing.T) {
	tests := []struct {
		name     string
		spec     NodeSpec
		declared any
		want     any
		resolved bool
	}{
		{
			name: "config value wins",
			spec: NodeSpec{Config: map[string]any{"value": 10}},
			want: 10, resolved: true,
		},
		{
			name: "config value wins over declared inputs",
			spec: NodeSpec{
				Config: map[string]any{"value": 10},
				Inputs: map[string]any{"myVar": 50},
			},
			want: 10, resolved: true,
		},
		{
			name: "single config key unwrapped",
			spec: NodeSpec{Config: map[string]any{"url": "https://example.com"}},
			want: "https://example.com", resolved: true,
		},
		{
			name: "multi-key config returned whole",
			spec: NodeSpec{Config: map[string]any{"url": "https://example.com", "method": "GET"}},
			want: map[string]any{"url": "https://example.com", "method": "GET"}, resolved: true,
		},
		{
			name: "single declared input unwrapped",
			spec: NodeSpec{Inputs: map[string]any{"myVar": 50}},
			want: 50, resolved: true,
		},
		{
			name: "declared value key wins over siblings",
			spec: NodeSpec{Inputs: map[string]any{"value": 100, "other": 200}},
			want: 100, resolved: true,
		},
		{
			name: "multiple declared inputs returned as mapping",
			spec: NodeSpec{Inputs: map[string]any{"a": 1, "b": 2}},
			want: map[string]any{"a": 1, "b": 2}, resolved: true,
		},
		{
			name: "sequence entry named value wins",
			spec: NodeSpec{Inputs: []any{
				map[string]any{"name": "value", "value": 99},
				map[string]any{"name": "other", "value": 1},
			}},
			want: 99, resolved: true,
		},
		{
			name: "sequence folded and single entry unwrapped",
			spec: NodeSpec{Inputs: []any{
				map[string]any{"name": "payload", "value": "data"},
			}},
			want: "data", resolved: true,
		},
		{
			name: "sequence folded to mapping",
			spec: NodeSpec{Inputs: []DeclaredInput{
				{Name: "a", Value: 1},
				{Name: "b", Value: 2},
			}},
			want: map[string]any{"a": 1, "b": 2}, resolved: true,
		},
		{
			name: "legacy node value",
			spec: NodeSpec{Value: "legacy"},
			want: "legacy", resolved: true,
		},
		{
			name: "empty inputs fall through to zero",
			spec: NodeSpec{Inputs: map[string]any{}},
			want: 0, resolved: false,
		},
		{
			name: "empty sequence falls through to zero",
			spec: NodeSpec{Inputs: []any{}},
			want: 0, resolved: false,
		},
		{
			name: "nothing configured",
			spec: NodeSpec{},
			want: 0, resolved: false,
		},
		{
			name:     "caller-declared mapping overrides node inputs",
			spec:     NodeSpec{Inputs: map[string]any{"stale": true}},
			declared: map[string]any{"fresh": "output"},
			want:     "output", resolved: true,
		},
		{
			name:     "caller-declared mapping with value key",
			spec:     NodeSpec{},
			declared: map[string]any{"value": 7, "extra": 8},
			want:     7, resolved: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, resolved := ResolveInput(tt.spec, tt.declared)
			if resolved != tt.resolved {
				t.Fatalf("resolved = %v, want %v", resolved, tt.resolved)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveInput() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestResolveInputFalseConfigValue(t *testing.T) {
	// A config value key that is present but falsy still wins.
	spec := NodeSpec{Config: map[string]any{"value": false}, Value: "legacy"}
	got, resolved := ResolveInput(spec, nil)
	if !resolved {
		t.Fatal("expected resolution")
	}
	if got != false {
		t.Errorf("ResolveInput() = %#v, want false", got)
	}
}
