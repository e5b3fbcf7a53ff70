package handler

import (
	"context"
	"fmt"
)

// Builtin transform node types. These cover the common data-plumbing nodes a
// graph needs between external calls: extracting a field, injecting static
// values, and merging upstream outputs.

// PickHandler implements "transform.pick": extracts one field from a map
// input.
//
// Config keys:
//   - field: key to extract (required)
type PickHandler struct{}

// NewPickHandler creates a field-extraction handler.
func NewPickHandler() *PickHandler {
	return &PickHandler{}
}

// Execute implements Handler.
func (p *PickHandler) Execute(_ context.Context, req Request) (Result, error) {
	field := stringConfig(req.Config, "field")
	if field == "" {
		return Result{}, fmt.Errorf("transform.pick: field is required")
	}
	m, ok := req.Input.(map[string]any)
	if !ok {
		return Result{}, fmt.Errorf("transform.pick: map input required, got %T", req.Input)
	}
	v, ok := m[field]
	if !ok {
		return Result{}, fmt.Errorf("transform.pick: input has no field %q", field)
	}
	return Result{Data: v}, nil
}

// SetHandler implements "transform.set": merges static config values into a
// map input, creating the map when the input is not one. Keys under the
// "values" config map win over input keys.
type SetHandler struct{}

// NewSetHandler creates a static-value injection handler.
func NewSetHandler() *SetHandler {
	return &SetHandler{}
}

// Execute implements Handler.
func (s *SetHandler) Execute(_ context.Context, req Request) (Result, error) {
	values, _ := req.Config["values"].(map[string]any)
	if len(values) == 0 {
		return Result{}, fmt.Errorf("transform.set: values map is required")
	}

	out := make(map[string]any)
	if m, ok := req.Input.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	} else if req.Input != nil {
		out["input"] = req.Input
	}
	for k, v := range values {
		out[k] = v
	}
	return Result{Data: out}, nil
}

// PassthroughHandler implements "noop": returns its input unchanged. Useful
// as a join point for fan-in edges and in tests.
type PassthroughHandler struct{}

// NewPassthroughHandler creates a passthrough handler.
func NewPassthroughHandler() *PassthroughHandler {
	return &PassthroughHandler{}
}

// Execute implements Handler.
func (p *PassthroughHandler) Execute(_ context.Context, req Request) (Result, error) {
	return Result{Data: req.Input}, nil
}

// RegisterBuiltins registers the built-in handler set on a registry:
// http.request, condition, transform.pick, transform.set, noop.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Handler{
		"http.request":   NewHTTPHandler(),
		"condition":      NewConditionHandler(),
		"transform.pick": NewPickHandler(),
		"transform.set":  NewSetHandler(),
		"noop":           NewPassthroughHandler(),
	}
	for nodeType, h := range builtins {
		if err := r.Register(nodeType, h); err != nil {
			return err
		}
	}
	return nil
}
