package pipeline

// State is the lifecycle state of a Pipeline. Transitions are monotonic:
// Running -> Completing -> Completed, with Faulted reachable from Running
// and Completing. No state is ever revisited.
type State int32

const (
	StateRunning State = iota
	StateCompleting
	StateCompleted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
