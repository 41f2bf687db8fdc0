package dispatch

// State is the engine's lifecycle state.
type State int32

// Engine states in lifecycle order. StateAborted is reachable only from
// planning or provisioning.
const (
	StateIdle State = iota
	StatePlanning
	StateProvisioning
	StateDispatching
	StateFinalizing
	StateDone
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateProvisioning:
		return "provisioning"
	case StateDispatching:
		return "dispatching"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}
