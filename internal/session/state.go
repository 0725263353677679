package session

// State is the lifecycle state of a connection handle.
type State int

// Connection states.
const (
	Unauthenticated State = iota
	Resuming
	Authenticating
	Active
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Resuming:
		return "resuming"
	case Authenticating:
		return "authenticating"
	case Active:
		return "active"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
