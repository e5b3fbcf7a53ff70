package handler

import (
	"context"
	"reflect"
	"testing"
)

func TestPickHandler(t *testing.T) {
	h := NewPickHandler()

	t.Run("extracts field", func(t *testing.T) {
		res, err := h.Execute(context.Background(), Request{
			Input:  map[string]any{"total": 1500, "vendor": "ACME"},
			Config: map[string]any{"field": "total"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Data != 1500 {
			t.Errorf("data = %v, want 1500", res.Data)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := h.Execute(context.Background(), Request{
			Input:  map[string]any{"a": 1},
			Config: map[string]any{"field": "b"},
		})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("non-map input", func(t *testing.T) {
		_, err := h.Execute(context.Background(), Request{
			Input:  "scalar",
			Config: map[string]any{"field": "a"},
		})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("field required", func(t *testing.T) {
		_, err := h.Execute(context.Background(), Request{Input: map[string]any{}})
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestSetHandler(t *testing.T) {
	h := NewSetHandler()

	t.Run("merges into map input", func(t *testing.T) {
		res, err := h.Execute(context.Background(), Request{
			Input:  map[string]any{"kept": 1, "replaced": "old"},
			Config: map[string]any{"values": map[string]any{"replaced": "new", "added": true}},
		})
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]any{"kept": 1, "replaced": "new", "added": true}
		if !reflect.DeepEqual(res.Data, want) {
			t.Errorf("data = %#v, want %#v", res.Data, want)
		}
	})

	t.Run("wraps scalar input", func(t *testing.T) {
		res, err := h.Execute(context.Background(), Request{
			Input:  42,
			Config: map[string]any{"values": map[string]any{"tag": "x"}},
		})
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]any{"input": 42, "tag": "x"}
		if !reflect.DeepEqual(res.Data, want) {
			t.Errorf("data = %#v, want %#v", res.Data, want)
		}
	})

	t.Run("values required", func(t *testing.T) {
		if _, err := h.Execute(context.Background(), Request{Input: 1}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestPassthroughHandler(t *testing.T) {
	h := NewPassthroughHandler()
	res, err := h.Execute(context.Background(), Request{Input: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Data != "ping" {
		t.Errorf("data = %v, want ping", res.Data)
	}
}
