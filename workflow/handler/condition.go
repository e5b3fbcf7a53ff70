package handler

import (
	"context"
	"fmt"
	"strconv"
)

// ConditionHandler implements the "condition" node type used for if/else
// branching. It evaluates a comparison against the node's resolved input and
// emits "true" or "false" as the branch discriminator; the engine then
// traverses only the outgoing edges whose sourceHandle matches.
//
// Config keys:
//   - field: key to extract from a map input before comparing (optional;
//     a scalar input is compared directly)
//   - operator: one of eq, ne, gt, gte, lt, lte (defaults to eq)
//   - than: right-hand side of the comparison
//
// The input data passes through unchanged so both branches receive it.
type ConditionHandler struct{}

// NewConditionHandler creates a condition handler.
func NewConditionHandler() *ConditionHandler {
	return &ConditionHandler{}
}

// Execute implements Handler.
func (c *ConditionHandler) Execute(_ context.Context, req Request) (Result, error) {
	left := req.Input
	if field := stringConfig(req.Config, "field"); field != "" {
		m, ok := req.Input.(map[string]any)
		if !ok {
			return Result{}, fmt.Errorf("condition: field %q requires a map input, got %T", field, req.Input)
		}
		v, ok := m[field]
		if !ok {
			return Result{}, fmt.Errorf("condition: input has no field %q", field)
		}
		left = v
	}

	operator := stringConfig(req.Config, "operator")
	if operator == "" {
		operator = "eq"
	}
	right := req.Config["than"]

	outcome, err := compare(left, operator, right)
	if err != nil {
		return Result{}, err
	}

	branch := "false"
	if outcome {
		branch = "true"
	}
	return Result{
		Data:   req.Input,
		Branch: branch,
		Logs:   []string{fmt.Sprintf("condition %v %s %v -> %s", left, operator, right, branch)},
	}, nil
}

func compare(left any, operator string, right any) (bool, error) {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch operator {
		case "eq":
			return lf == rf, nil
		case "ne":
			return lf != rf, nil
		case "gt":
			return lf > rf, nil
		case "gte":
			return lf >= rf, nil
		case "lt":
			return lf < rf, nil
		case "lte":
			return lf <= rf, nil
		}
		return false, fmt.Errorf("condition: unknown operator %q", operator)
	}

	ls := fmt.Sprintf("%v", left)
	rs := fmt.Sprintf("%v", right)
	switch operator {
	case "eq":
		return ls == rs, nil
	case "ne":
		return ls != rs, nil
	case "gt":
		return ls > rs, nil
	case "gte":
		return ls >= rs, nil
	case "lt":
		return ls < rs, nil
	case "lte":
		return ls <= rs, nil
	}
	return false, fmt.Errorf("condition: unknown operator %q", operator)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
