// Package handler defines the pluggable node-type handler contract.
//
// Every node type in a workflow (HTTP call, transform, condition, AI
// generation, ...) is implemented as a Handler registered under the node's
// type string. The execution engine resolves a node's input, looks up the
// handler for its type, and invokes it under a cancellable, timeout-bounded
// context. Handlers never see engine internals; they receive a Request and
// return a Result.
package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CredentialRef is an opaque identifier resolved by an external credential
// store. The engine never inspects secret contents; it only forwards the
// reference to the handler, which exchanges it for credentials out of band.
type CredentialRef string

// Request carries everything a handler needs to execute one node.
type Request struct {
	// NodeID is the node's identifier within the workflow.
	NodeID string

	// NodeType identifies which handler was selected.
	NodeType string

	// Input is the node's resolved effective input (see workflow.ResolveInput).
	Input any

	// Config is the node's static configuration, interpreted by the handler.
	Config map[string]any

	// Credentials are opaque references forwarded from the node spec.
	Credentials []CredentialRef
}

// Result is a handler's normalized return value.
type Result struct {
	// Data is the node's output, consumed by downstream nodes as input.
	Data any `json:"data"`

	// Branch is the discriminator emitted by conditional nodes (for example
	// "true" or "false"). Empty for non-branching nodes. Outgoing edges whose
	// sourceHandle does not match a non-empty Branch are not traversed.
	Branch string `json:"branch,omitempty"`

	// Logs are human-readable lines emitted during execution. The engine
	// appends them to the execution's log stream.
	Logs []string `json:"logs,omitempty"`
}

// Handler executes one node type.
//
// Implementations must respect ctx cancellation: the engine enforces per-node
// timeouts and run-level cancellation through the context. A returned error
// marks the node FAILED; the engine decides whether the run survives.
type Handler interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Execute implements Handler.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry maps node type strings to their handlers.
//
// Safe for concurrent use. Registration normally happens once at startup;
// lookups happen on every node dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a node type.
//
// Returns an error if nodeType is empty, h is nil, or the type is already
// registered. Duplicate registration is refused rather than silently
// overwritten so wiring mistakes surface at startup.
func (r *Registry) Register(nodeType string, h Handler) error {
	if nodeType == "" {
		return fmt.Errorf("handler: node type cannot be empty")
	}
	if h == nil {
		return fmt.Errorf("handler: handler for %q cannot be nil", nodeType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[nodeType]; exists {
		return fmt.Errorf("handler: duplicate registration for node type %q", nodeType)
	}
	r.handlers[nodeType] = h
	return nil
}

// Get returns the handler for a node type.
func (r *Registry) Get(nodeType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	return h, ok
}

// Types returns all registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
