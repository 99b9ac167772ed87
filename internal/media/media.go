// Package media abstracts the platform peer-connection and device
// primitives behind small interfaces. The call engine talks only to the
// Adapter; platform bindings implement PeerConnection and Devices.
package media

import (
	"context"
	"errors"
)

// Track kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// ErrPermissionDenied is returned by Devices when the user refuses a
// microphone or camera prompt.
var ErrPermissionDenied = errors.New("media: permission denied")

// SignalingState mirrors the peer connection signaling state values the
// call engine branches on.
type SignalingState string

const (
	SignalingStable          SignalingState = "stable"
	SignalingHaveLocalOffer  SignalingState = "have-local-offer"
	SignalingHaveRemoteOffer SignalingState = "have-remote-offer"
	SignalingClosed          SignalingState = "closed"
)

// ConnectionState mirrors the peer connection transport state.
type ConnectionState string

const (
	ConnectionNew        ConnectionState = "new"
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionConnected  ConnectionState = "connected"
	ConnectionFailed     ConnectionState = "failed"
	ConnectionClosed     ConnectionState = "closed"
)

// Description is a session description (SDP).
type Description struct {
	Type string // "offer" or "answer"
	SDP  string
}

// Candidate is an ICE candidate.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// Track is a single audio or video track.
type Track interface {
	ID() string
	Kind() string // KindAudio or KindVideo
}

// Stream is a set of local capture tracks.
type Stream interface {
	Tracks() []Track
	// Release stops capture and frees the devices.
	Release()
}

// PeerConnection abstracts the platform peer-connection primitive.
// Implementations must invoke the registered callbacks from a single
// goroutine at a time.
type PeerConnection interface {
	CreateOffer(iceRestart bool) (Description, error)
	CreateAnswer() (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddICECandidate(Candidate) error
	SignalingState() SignalingState
	AddTrack(Track) error
	OnTrack(func(Track))
	OnICECandidate(func(Candidate))
	OnConnectionStateChange(func(ConnectionState))
	Close() error
}

// Devices abstracts permission prompts and local media capture.
type Devices interface {
	// RequestPermissions prompts for microphone and, when video is set,
	// camera access. Returns ErrPermissionDenied on refusal.
	RequestPermissions(ctx context.Context, video bool) error
	GetLocalStream(ctx context.Context, video bool) (Stream, error)
}

// Factory creates peer connections. Injected by the platform binding.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}
