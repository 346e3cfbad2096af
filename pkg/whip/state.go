package whip

// State tracks where the session is in its lifecycle. Values are ordered:
// the candidate callback uses the ordering to reject trickles before an
// offer exists.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnectionError
	StateConnected
	StatePublishing
	StateOfferPrepared
	StateStarted
	StateAPIError
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnectionError:
		return "connection_error"
	case StateConnected:
		return "connected"
	case StatePublishing:
		return "publishing"
	case StateOfferPrepared:
		return "offer_prepared"
	case StateStarted:
		return "started"
	case StateAPIError:
		return "api_error"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
