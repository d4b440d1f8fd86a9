package agent

type EventType string

const (
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventToken      EventType = "token"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one step of agent progress, emitted in generation order.
type Event struct {
	Type    EventType `json:"type"`
	Name    string    `json:"name,omitempty"`
	Args    string    `json:"args,omitempty"`
	Content string    `json:"content,omitempty"`
}

// Emitter receives events. A non-nil error aborts the turn.
type Emitter func(Event) error

// emitError marks failures coming from the caller's emitter so they are not
// reported as internal errors.
type emitError struct {
	err error
}

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }
