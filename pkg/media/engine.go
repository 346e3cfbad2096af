// Package media is the boundary between WHIP signaling and the WebRTC
// stack. The signaling state machine only ever sees the Engine interface
// and its event stream; everything touching tracks, encryption or transport
// lives behind it.
package media

import (
	"context"
)

type EventKind int

const (
	// EventNegotiationNeeded fires when the engine wants a new offer sent.
	EventNegotiationNeeded EventKind = iota
	// EventOfferReady delivers the completed local offer (or the error that
	// prevented it).
	EventOfferReady
	// EventConnectionState reports peer connection state changes.
	EventConnectionState
	// EventICEConnectionState reports ICE connection state changes.
	EventICEConnectionState
	// EventGatheringComplete fires once local candidate gathering is done.
	EventGatheringComplete
	// EventDTLSState reports DTLS transport state changes.
	EventDTLSState
	// EventEndOfStream fires when a media source runs out.
	EventEndOfStream
)

// Event is a single occurrence delivered on the engine's event channel.
// Only the fields relevant for the Kind are set.
type Event struct {
	Kind EventKind

	// EventOfferReady
	SDP string
	Err error

	// connection state kinds
	State  string
	Failed bool
	Closed bool
}

// CandidateFunc receives locally discovered ICE candidates. It may be
// invoked from the engine's own goroutines, so implementations must only
// touch thread-safe state.
type CandidateFunc func(mLineIndex int, candidate string)

type Engine interface {
	// OnLocalCandidate registers the candidate callback. Must be called
	// before Start.
	OnLocalCandidate(fn CandidateFunc)

	// AddRelayServer records a stun://, turn:// or turns:// server for the
	// session. Must be called before Start. Returns false if the uri could
	// not be used.
	AddRelayServer(uri string) bool

	// Events returns the channel the engine delivers its events on. The
	// consumer is expected to process one event fully before the next.
	Events() <-chan Event

	Start(ctx context.Context) error

	// RequestOffer asks the engine to create and apply a local offer.
	// Completion is delivered as an EventOfferReady event.
	RequestOffer()

	SetRemoteDescription(sdpText string) error
	AddICECandidate(mLineIndex int, candidate string) error

	Close() error
}
