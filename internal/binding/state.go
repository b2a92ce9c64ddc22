// Package binding provides the connector that attaches the shell to a long-lived
// background service and tracks the binding state machine.
package binding

// State is the binding state of a Connector.
type State int

// Binding states.
const (
	StateUnbound State = iota
	StateBinding
	StateBound
	StateDisconnected
)

// String returns the state name used in logs and health output.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBinding:
		return "binding"
	case StateBound:
		return "bound"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// canTransition reports whether from -> to is a valid transition.
func canTransition(from, to State) bool {
	switch to {
	case StateBinding:
		return from == StateUnbound
	case StateBound:
		return from == StateBinding || from == StateDisconnected
	case StateDisconnected:
		return from == StateBound
	case StateUnbound:
		return from != StateUnbound
	}
	return false
}
