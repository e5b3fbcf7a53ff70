package emit

// NullEmitter discards all events. Used when observability is disabled and
// as a safe default so callers never need nil checks.
type NullEmitter struct{}

// NewNullEmitter creates a discarding emitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit implements Emitter.
func (n *NullEmitter) Emit(_ Event) {}
