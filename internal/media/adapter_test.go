package media

import "testing"

type fakeTrack struct {
	id   string
	kind string
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }

type fakePC struct {
	signaling SignalingState
	onTrack   func(Track)
	onCand    func(Candidate)
	onState   func(ConnectionState)
	closed    bool
}

func (p *fakePC) CreateOffer(iceRestart bool) (Description, error) {
	return Description{Type: "offer", SDP: "v=0 offer"}, nil
}
func (p *fakePC) CreateAnswer() (Description, error) {
	return Description{Type: "answer", SDP: "v=0 answer"}, nil
}
func (p *fakePC) SetLocalDescription(Description) error  { return nil }
func (p *fakePC) SetRemoteDescription(Description) error { return nil }
func (p *fakePC) AddICECandidate(Candidate) error        { return nil }
func (p *fakePC) SignalingState() SignalingState         { return p.signaling }
func (p *fakePC) AddTrack(Track) error                   { return nil }
func (p *fakePC) OnTrack(f func(Track))                  { p.onTrack = f }
func (p *fakePC) OnICECandidate(f func(Candidate))       { p.onCand = f }
func (p *fakePC) OnConnectionStateChange(f func(ConnectionState)) {
	p.onState = f
}
func (p *fakePC) Close() error { p.closed = true; return nil }

func TestTrackReplacementSameKind(t *testing.T) {
	pc := &fakePC{}
	a := NewAdapter(pc)

	var seen []string
	a.Bind(func(tr Track) { seen = append(seen, tr.ID()) }, nil, nil, nil)

	pc.onTrack(&fakeTrack{id: "v1", kind: KindVideo})
	pc.onTrack(&fakeTrack{id: "a1", kind: KindAudio})
	// Renegotiation replaces the video track.
	pc.onTrack(&fakeTrack{id: "v2", kind: KindVideo})

	tracks := a.RemoteTracks()
	if len(tracks) != 2 {
		t.Fatalf("got %d attached tracks, want 2 (one per kind)", len(tracks))
	}
	byKind := map[string]string{}
	for _, tr := range tracks {
		byKind[tr.Kind()] = tr.ID()
	}
	if byKind[KindVideo] != "v2" {
		t.Errorf("video track = %q, want v2 (old detached)", byKind[KindVideo])
	}
	if byKind[KindAudio] != "a1" {
		t.Errorf("audio track = %q, want a1", byKind[KindAudio])
	}
	if len(seen) != 3 {
		t.Errorf("hook fired %d times, want 3", len(seen))
	}
}

func TestTrackReannounceIgnored(t *testing.T) {
	pc := &fakePC{}
	a := NewAdapter(pc)

	var fired int
	a.Bind(func(Track) { fired++ }, nil, nil, nil)

	tr := &fakeTrack{id: "a1", kind: KindAudio}
	pc.onTrack(tr)
	pc.onTrack(tr)

	if fired != 1 {
		t.Errorf("hook fired %d times, want 1 (same id re-announced)", fired)
	}
	if len(a.RemoteTracks()) != 1 {
		t.Errorf("got %d tracks, want 1", len(a.RemoteTracks()))
	}
}

func TestConnectionStateHooks(t *testing.T) {
	pc := &fakePC{}
	a := NewAdapter(pc)

	var connected, failed int
	a.Bind(nil, nil, func() { connected++ }, func() { failed++ })

	pc.onState(ConnectionConnecting)
	pc.onState(ConnectionConnected)
	pc.onState(ConnectionFailed)

	if connected != 1 || failed != 1 {
		t.Errorf("connected=%d failed=%d, want 1 and 1", connected, failed)
	}
}

func TestCandidateHook(t *testing.T) {
	pc := &fakePC{}
	a := NewAdapter(pc)

	var got []Candidate
	a.Bind(nil, func(c Candidate) { got = append(got, c) }, nil, nil)

	pc.onCand(Candidate{Candidate: "candidate:1"})
	pc.onCand(Candidate{Candidate: "candidate:2"})

	if len(got) != 2 || got[0].Candidate != "candidate:1" {
		t.Errorf("candidates = %+v", got)
	}
}

func TestCloseClearsBookkeeping(t *testing.T) {
	pc := &fakePC{}
	a := NewAdapter(pc)
	pc.onTrack(&fakeTrack{id: "a1", kind: KindAudio})

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if !pc.closed {
		t.Error("underlying connection not closed")
	}
	if len(a.RemoteTracks()) != 0 {
		t.Error("remote tracks not cleared on close")
	}
}
