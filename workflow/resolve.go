package workflow

// DeclaredInput is the legacy ordered declared-input shape: a named value in
// a sequence. Old saved workflows carry inputs in this form.
type DeclaredInput struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ResolveInput computes a node's effective input from its static
// configuration and its declared inputs. Pure and deterministic; no I/O.
//
// declared is the declared-input set assembled by the caller (statically
// declared inputs, or upstream outputs folded into a mapping at runtime).
// When nil, the node's own Inputs field is used.
//
// The priority order below is load-bearing: node authors rely on it, and
// reordering silently corrupts every downstream node's data.
//
//  1. config.value defined -> returned verbatim
//  2. config otherwise non-empty -> single remaining key unwrapped, else the
//     whole config map
//  3. declared as an ordered {name, value} sequence -> entry named "value"
//     wins, else fold to a mapping and unwrap a single key
//  4. declared as a mapping -> "value" key wins, else unwrap a single key,
//     else the full mapping
//  5. legacy node-level value field
//  6. nothing matched -> numeric 0; the second return is false so the caller
//     can emit a "node has no value configured" diagnostic
func ResolveInput(spec NodeSpec, declared any) (any, bool) {
	// Rule 1: already-evaluated expression result.
	if v, ok := spec.Config["value"]; ok {
		return v, true
	}

	// Rule 2: static config, value key excluded by rule 1.
	if len(spec.Config) > 0 {
		if len(spec.Config) == 1 {
			for _, v := range spec.Config {
				return v, true
			}
		}
		return spec.Config, true
	}

	if declared == nil {
		declared = spec.Inputs
	}

	// Rules 3 and 4: declared inputs, legacy sequence first.
	if seq, ok := asDeclaredSequence(declared); ok && len(seq) > 0 {
		for _, in := range seq {
			if in.Name == "value" {
				return in.Value, true
			}
		}
		folded := make(map[string]any, len(seq))
		for _, in := range seq {
			folded[in.Name] = in.Value
		}
		if len(folded) == 1 {
			for _, v := range folded {
				return v, true
			}
		}
		return folded, true
	}
	if m, ok := declared.(map[string]any); ok && len(m) > 0 {
		if v, ok := m["value"]; ok {
			return v, true
		}
		if len(m) == 1 {
			for _, v := range m {
				return v, true
			}
		}
		return m, true
	}

	// Rule 5: legacy direct value field.
	if spec.Value != nil {
		return spec.Value, true
	}

	// Rule 6: nothing configured.
	return 0, false
}

// asDeclaredSequence normalizes the legacy list shape. JSON decoding yields
// []any of maps; callers constructing specs in Go may pass []DeclaredInput.
func asDeclaredSequence(declared any) ([]DeclaredInput, bool) {
	switch seq := declared.(type) {
	case []DeclaredInput:
		return seq, true
	case []any:
		out := make([]DeclaredInput, 0, len(seq))
		for _, item := range seq {
			switch entry := item.(type) {
			case DeclaredInput:
				out = append(out, entry)
			case map[string]any:
				name, _ := entry["name"].(string)
				out = append(out, DeclaredInput{Name: name, Value: entry["value"]})
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
