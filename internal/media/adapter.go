package media

import "sync"

// Adapter wraps one peer connection for the lifetime of a call. It
// forwards the three events the call engine cares about (remote track,
// local candidate, connection failure) and keeps the aggregated remote
// stream's track bookkeeping.
type Adapter struct {
	pc PeerConnection

	mu     sync.Mutex
	remote map[string]Track // kind -> currently attached track

	onTrack     func(Track)
	onCandidate func(Candidate)
	onFailed    func()
	onConnected func()
}

// NewAdapter wraps the given peer connection.
func NewAdapter(pc PeerConnection) *Adapter {
	a := &Adapter{
		pc:     pc,
		remote: make(map[string]Track),
	}
	pc.OnTrack(a.handleTrack)
	pc.OnICECandidate(func(c Candidate) {
		a.mu.Lock()
		h := a.onCandidate
		a.mu.Unlock()
		if h != nil {
			h(c)
		}
	})
	pc.OnConnectionStateChange(a.handleConnectionState)
	return a
}

// Bind registers the engine's event hooks. Must be called before
// negotiation starts.
func (a *Adapter) Bind(onTrack func(Track), onCandidate func(Candidate), onConnected, onFailed func()) {
	a.mu.Lock()
	a.onTrack = onTrack
	a.onCandidate = onCandidate
	a.onConnected = onConnected
	a.onFailed = onFailed
	a.mu.Unlock()
}

// handleTrack applies the replacement rule: a new track of a given kind
// detaches any previously attached track of the same kind with a
// different id. The old track is not stopped; renegotiation may replace
// a track while the old one is still flowing.
func (a *Adapter) handleTrack(t Track) {
	a.mu.Lock()
	prev, ok := a.remote[t.Kind()]
	if ok && prev.ID() == t.ID() {
		// Same track re-announced; nothing to do.
		a.mu.Unlock()
		return
	}
	a.remote[t.Kind()] = t
	h := a.onTrack
	a.mu.Unlock()
	if h != nil {
		h(t)
	}
}

func (a *Adapter) handleConnectionState(st ConnectionState) {
	a.mu.Lock()
	connected, failed := a.onConnected, a.onFailed
	a.mu.Unlock()
	switch st {
	case ConnectionConnected:
		if connected != nil {
			connected()
		}
	case ConnectionFailed:
		if failed != nil {
			failed()
		}
	}
}

// RemoteTracks returns the currently attached remote tracks.
func (a *Adapter) RemoteTracks() []Track {
	a.mu.Lock()
	defer a.mu.Unlock()
	tracks := make([]Track, 0, len(a.remote))
	for _, t := range a.remote {
		tracks = append(tracks, t)
	}
	return tracks
}

// CreateOffer delegates to the wrapped connection.
func (a *Adapter) CreateOffer(iceRestart bool) (Description, error) {
	return a.pc.CreateOffer(iceRestart)
}

// CreateAnswer delegates to the wrapped connection.
func (a *Adapter) CreateAnswer() (Description, error) {
	return a.pc.CreateAnswer()
}

// SetLocalDescription delegates to the wrapped connection.
func (a *Adapter) SetLocalDescription(d Description) error {
	return a.pc.SetLocalDescription(d)
}

// SetRemoteDescription delegates to the wrapped connection.
func (a *Adapter) SetRemoteDescription(d Description) error {
	return a.pc.SetRemoteDescription(d)
}

// AddICECandidate delegates to the wrapped connection.
func (a *Adapter) AddICECandidate(c Candidate) error {
	return a.pc.AddICECandidate(c)
}

// SignalingState delegates to the wrapped connection.
func (a *Adapter) SignalingState() SignalingState {
	return a.pc.SignalingState()
}

// AddTrack attaches a local capture track.
func (a *Adapter) AddTrack(t Track) error {
	return a.pc.AddTrack(t)
}

// Close tears down the wrapped connection and clears remote bookkeeping.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.remote = make(map[string]Track)
	a.onTrack, a.onCandidate, a.onConnected, a.onFailed = nil, nil, nil, nil
	a.mu.Unlock()
	return a.pc.Close()
}
