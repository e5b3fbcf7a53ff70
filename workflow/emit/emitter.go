package emit

// Emitter receives observability events from workflow executions.
//
// Implementations must be safe for concurrent use and must not block the
// scheduling loop: buffer, drop, or hand off asynchronously when the backend
// is slow. Emit must not panic.
type Emitter interface {
	Emit(event Event)
}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
