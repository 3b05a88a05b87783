package types

// Event is the generic attribute-map payload recorded in the ledger event log
// and exposed to observers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Copy returns a deep copy so stored events cannot be mutated by observers.
func (e *Event) Copy() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}
