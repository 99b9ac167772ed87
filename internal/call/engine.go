// Package call implements the call signaling state machine: one call at
// a time, offer/answer exchange over the realtime transport, glare and
// renegotiation precedence, ICE candidate buffering, and a single
// automatic ICE restart on connection failure. Every failure path
// resolves back to Idle.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pcarvalho-dev/pigeon/internal/bus"
	"github.com/pcarvalho-dev/pigeon/internal/media"
	"github.com/pcarvalho-dev/pigeon/internal/protocol"
	"github.com/pcarvalho-dev/pigeon/internal/rest"
	"go.uber.org/zap"
)

// Call directions for history logging.
const (
	directionOutgoing = "outgoing"
	directionIncoming = "incoming"
)

// Sender sends a signaling frame to the server.
type Sender interface {
	Send(frame any) error
}

// Incoming is the payload of a call.incoming event.
type Incoming struct {
	ConversationID string
	Video          bool
}

// Error is the payload of a call.error event, the single user-facing
// alert a failed call setup produces.
type Error struct {
	ConversationID string
	Message        string
}

// session is the per-call mutable state. Exactly one exists while the
// machine is outside Idle.
type session struct {
	peer       string
	direction  string
	video      bool
	adapter    *media.Adapter
	local      media.Stream
	offer      *media.Description // inbound offer held while ringing
	candidates []media.Candidate  // buffered until the remote description is set
	remoteSet  bool
	restarted  bool
	endedSent  bool
	minimized  bool
	startedAt  time.Time
}

// Engine drives call signaling. All entry points serialize on one mutex,
// so no two transitions ever interleave.
type Engine struct {
	bus     *bus.Bus
	sender  Sender
	factory media.Factory
	devices media.Devices
	api     *rest.Client
	logger  *zap.Logger

	mu      sync.Mutex
	machine *Machine
	sess    *session

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates a call engine. api may be nil to disable history.
func NewEngine(b *bus.Bus, sender Sender, factory media.Factory, devices media.Devices, api *rest.Client, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		bus:     b,
		sender:  sender,
		factory: factory,
		devices: devices,
		api:     api,
		logger:  logger,
		machine: NewMachine(b),
	}
}

// State returns the current signaling state.
func (e *Engine) State() State {
	return e.machine.Current()
}

// Start subscribes the engine to inbound signaling frames.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("frame.webrtc_", 64)
	ended, endedUnsub := e.bus.Subscribe("frame.call_ended", 8)

	go func() {
		defer unsub()
		defer endedUnsub()
		for {
			select {
			case evt := <-ch:
				e.handleFrame(evt)
			case evt := <-ended:
				if p, ok := evt.Payload.(*protocol.CallEnded); ok {
					e.HandleRemoteEnd(p)
				}
			case <-e.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop terminates any active call and stops the engine.
func (e *Engine) Stop() {
	e.Terminate()
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleFrame(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case *protocol.WebRTCOffer:
		e.HandleOffer(p)
	case *protocol.WebRTCAnswer:
		e.HandleAnswer(p)
	case *protocol.WebRTCICECandidate:
		e.HandleCandidate(p)
	}
}

// Originate starts an outgoing call. Permissions are acquired before any
// media or connection setup; denial aborts back to Idle with a
// user-facing error and nothing to clean up.
func (e *Engine) Originate(ctx context.Context, conversationID string, video bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.machine.Transition(Originating); err != nil {
		return err
	}
	if err := e.devices.RequestPermissions(ctx, video); err != nil {
		e.failLocked(conversationID, permissionMessage(err, "could not start call"))
		return err
	}

	sess := &session{
		peer:      conversationID,
		direction: directionOutgoing,
		video:     video,
		startedAt: time.Now(),
	}
	if err := e.setupMediaLocked(ctx, sess); err != nil {
		e.failLocked(conversationID, "could not start call")
		return err
	}
	e.sess = sess

	offer, err := sess.adapter.CreateOffer(false)
	if err == nil {
		err = sess.adapter.SetLocalDescription(offer)
	}
	if err == nil {
		err = e.sender.Send(protocol.NewWebRTCOffer(conversationID, offer.SDP, video, false))
	}
	if err != nil {
		e.teardownLocked()
		e.failLocked(conversationID, "could not start call")
		return err
	}
	return e.machine.Transition(Offering)
}

// Accept answers the currently ringing call.
func (e *Engine) Accept(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil || sess.offer == nil {
		return errors.New("call: no ringing call to accept")
	}
	if err := e.machine.Transition(Accepting); err != nil {
		return err
	}
	if err := e.devices.RequestPermissions(ctx, sess.video); err != nil {
		e.terminateLocked()
		e.publishError(sess.peer, permissionMessage(err, "could not answer call"))
		return err
	}
	if err := e.setupMediaLocked(ctx, sess); err != nil {
		e.terminateLocked()
		e.publishError(sess.peer, "could not answer call")
		return err
	}

	err := sess.adapter.SetRemoteDescription(*sess.offer)
	if err == nil {
		sess.offer = nil
		e.applyRemoteLocked(sess)
		var answer media.Description
		answer, err = sess.adapter.CreateAnswer()
		if err == nil {
			err = sess.adapter.SetLocalDescription(answer)
		}
		if err == nil {
			err = e.sender.Send(protocol.NewWebRTCAnswer(sess.peer, answer.SDP))
		}
	}
	if err != nil {
		e.terminateLocked()
		e.publishError(sess.peer, "could not answer call")
		return err
	}
	return e.machine.Transition(Connecting)
}

// Reject declines the currently ringing call.
func (e *Engine) Reject() {
	e.Terminate()
}

// HandleOffer processes an inbound offer: a new incoming call, a glare
// collision, or a renegotiation.
func (e *Engine) HandleOffer(offer *protocol.WebRTCOffer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sess := e.sess; sess != nil {
		if sess.peer != offer.ConversationID {
			// Glare with another peer: the existing call is
			// authoritative. Tear it down and ignore the offer; no
			// call is established with the new peer.
			e.logger.Warn("conflicting offer during call, tearing down",
				zap.String("active_peer", sess.peer),
				zap.String("offer_peer", offer.ConversationID))
			e.terminateLocked()
			return
		}
		e.renegotiateLocked(sess, offer)
		return
	}

	if err := e.machine.Transition(Ringing); err != nil {
		e.logger.Warn("offer in unexpected state, ignoring",
			zap.String("state", string(e.machine.Current())))
		return
	}
	e.sess = &session{
		peer:      offer.ConversationID,
		direction: directionIncoming,
		video:     offer.Video,
		offer:     &media.Description{Type: "offer", SDP: offer.SDP},
		startedAt: time.Now(),
	}
	e.publish("call.incoming", Incoming{ConversationID: offer.ConversationID, Video: offer.Video})
}

// renegotiateLocked handles a same-peer offer against an established
// session. It is accepted only when the signaling state can absorb a
// remote offer; anything else is a collision and the offer is dropped.
func (e *Engine) renegotiateLocked(sess *session, offer *protocol.WebRTCOffer) {
	if sess.adapter == nil {
		e.logger.Warn("renegotiation offer before setup, dropping",
			zap.String("peer", sess.peer))
		return
	}
	st := sess.adapter.SignalingState()
	if st != media.SignalingStable && st != media.SignalingHaveLocalOffer {
		e.logger.Warn("renegotiation collision, dropping offer",
			zap.String("peer", sess.peer),
			zap.String("signaling_state", string(st)))
		return
	}

	err := sess.adapter.SetRemoteDescription(media.Description{Type: "offer", SDP: offer.SDP})
	if err == nil {
		e.applyRemoteLocked(sess)
		var answer media.Description
		answer, err = sess.adapter.CreateAnswer()
		if err == nil {
			err = sess.adapter.SetLocalDescription(answer)
		}
		if err == nil {
			err = e.sender.Send(protocol.NewWebRTCAnswer(sess.peer, answer.SDP))
		}
	}
	if err != nil {
		e.logger.Error("renegotiation failed", zap.String("peer", sess.peer), zap.Error(err))
		e.terminateLocked()
	}
}

// HandleAnswer applies the peer's answer and flushes buffered candidates.
func (e *Engine) HandleAnswer(answer *protocol.WebRTCAnswer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil || sess.peer != answer.ConversationID || sess.adapter == nil {
		e.logger.Debug("answer without matching call, discarding",
			zap.String("peer", answer.ConversationID))
		return
	}
	if err := sess.adapter.SetRemoteDescription(media.Description{Type: "answer", SDP: answer.SDP}); err != nil {
		e.logger.Error("apply answer failed", zap.String("peer", sess.peer), zap.Error(err))
		e.terminateLocked()
		return
	}
	e.applyRemoteLocked(sess)
	if e.machine.Current() == Offering {
		_ = e.machine.Transition(Connecting)
	}
}

// applyRemoteLocked marks the remote description set and flushes the
// candidate buffer exactly once, in arrival order.
func (e *Engine) applyRemoteLocked(sess *session) {
	sess.remoteSet = true
	for _, c := range sess.candidates {
		if err := sess.adapter.AddICECandidate(c); err != nil {
			e.logger.Warn("buffered candidate rejected", zap.Error(err))
		}
	}
	sess.candidates = nil
}

// HandleCandidate applies or buffers an inbound ICE candidate.
// Candidates for a call that no longer exists are silently discarded.
func (e *Engine) HandleCandidate(frame *protocol.WebRTCICECandidate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil || sess.peer != frame.ConversationID {
		return
	}
	c := media.Candidate{
		Candidate:     frame.Candidate.Candidate,
		SDPMid:        frame.Candidate.SDPMid,
		SDPMLineIndex: frame.Candidate.SDPMLineIndex,
	}
	if !sess.remoteSet {
		sess.candidates = append(sess.candidates, c)
		return
	}
	if err := sess.adapter.AddICECandidate(c); err != nil {
		e.logger.Warn("candidate rejected", zap.Error(err))
	}
}

// HandleRemoteEnd processes a peer-initiated hangup.
func (e *Engine) HandleRemoteEnd(p *protocol.CallEnded) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil || sess.peer != p.ConversationID {
		return
	}
	// The peer initiated; do not echo a terminate frame back.
	sess.endedSent = true
	e.terminateLocked()
}

// Terminate ends the current call. It is safe to call from any state and
// is idempotent: after the first call the machine is Idle and further
// calls are no-ops.
func (e *Engine) Terminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminateLocked()
}

// Minimize flags the call as minimized. Pure UI projection; media and
// signaling are untouched.
func (e *Engine) Minimize() {
	e.setMinimized(true)
}

// Restore clears the minimized flag.
func (e *Engine) Restore() {
	e.setMinimized(false)
}

// Minimized reports whether the current call is minimized.
func (e *Engine) Minimized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.minimized
}

func (e *Engine) setMinimized(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || e.sess.minimized == v {
		return
	}
	e.sess.minimized = v
	e.publish("call.minimized", v)
}

// setupMediaLocked acquires the local stream and builds the peer
// connection with the engine's hooks bound.
func (e *Engine) setupMediaLocked(ctx context.Context, sess *session) error {
	stream, err := e.devices.GetLocalStream(ctx, sess.video)
	if err != nil {
		return err
	}
	pc, err := e.factory.NewPeerConnection()
	if err != nil {
		stream.Release()
		return err
	}
	adapter := media.NewAdapter(pc)
	peer := sess.peer
	adapter.Bind(
		func(t media.Track) { e.publish("call.track", t) },
		func(c media.Candidate) {
			if err := e.sender.Send(protocol.NewWebRTCICECandidate(peer, protocol.ICECandidate{
				Candidate:     c.Candidate,
				SDPMid:        c.SDPMid,
				SDPMLineIndex: c.SDPMLineIndex,
			})); err != nil {
				e.logger.Warn("candidate send failed", zap.Error(err))
			}
		},
		func() { e.onConnected() },
		func() { e.onConnectionFailed() },
	)
	for _, t := range stream.Tracks() {
		if err := adapter.AddTrack(t); err != nil {
			stream.Release()
			_ = adapter.Close()
			return err
		}
	}
	sess.local = stream
	sess.adapter = adapter
	return nil
}

func (e *Engine) onConnected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return
	}
	if e.machine.Current() == Connecting {
		_ = e.machine.Transition(Active)
	}
}

// onConnectionFailed fires one automatic ICE restart. A second failure
// ends the call.
func (e *Engine) onConnectionFailed() {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sess
	if sess == nil || sess.adapter == nil {
		return
	}
	if sess.restarted {
		e.logger.Error("connection failed after restart, ending call",
			zap.String("peer", sess.peer))
		e.terminateLocked()
		return
	}
	sess.restarted = true
	sess.remoteSet = false

	offer, err := sess.adapter.CreateOffer(true)
	if err == nil {
		err = sess.adapter.SetLocalDescription(offer)
	}
	if err == nil {
		err = e.sender.Send(protocol.NewWebRTCOffer(sess.peer, offer.SDP, sess.video, true))
	}
	if err != nil {
		e.logger.Error("ice restart failed", zap.String("peer", sess.peer), zap.Error(err))
		e.terminateLocked()
		return
	}
	if e.machine.Current() == Active {
		_ = e.machine.Transition(Connecting)
	}
	e.logger.Info("ice restart issued", zap.String("peer", sess.peer))
}

// terminateLocked releases media, clears buffered state, notifies the
// peer at most once, and returns the machine to Idle.
func (e *Engine) terminateLocked() {
	sess := e.sess
	if sess == nil {
		return
	}
	st := e.machine.Current()
	if st != Idle && st != Terminating {
		_ = e.machine.Transition(Terminating)
	}

	e.teardownLocked()

	if !sess.endedSent {
		sess.endedSent = true
		if err := e.sender.Send(protocol.NewCallEnded(sess.peer)); err != nil {
			e.logger.Warn("call_ended send failed", zap.Error(err))
		}
	}
	e.logHistory(sess)
	e.sess = nil

	if e.machine.Current() == Terminating {
		_ = e.machine.Transition(Idle)
	}
	e.publish("call.ended", sess.peer)
}

// teardownLocked releases the session's media resources.
func (e *Engine) teardownLocked() {
	sess := e.sess
	if sess == nil {
		return
	}
	if sess.local != nil {
		sess.local.Release()
		sess.local = nil
	}
	if sess.adapter != nil {
		_ = sess.adapter.Close()
		sess.adapter = nil
	}
	sess.candidates = nil
	sess.offer = nil
}

// failLocked resolves a failed setup back to Idle and surfaces the error.
func (e *Engine) failLocked(peer, msg string) {
	if e.machine.Current() != Idle {
		_ = e.machine.Transition(Terminating)
		_ = e.machine.Transition(Idle)
	}
	e.sess = nil
	e.publishError(peer, msg)
}

func permissionMessage(err error, fallback string) string {
	if errors.Is(err, media.ErrPermissionDenied) {
		return "microphone or camera permission denied"
	}
	return fallback
}

func (e *Engine) publishError(peer, msg string) {
	e.publish("call.error", Error{ConversationID: peer, Message: msg})
}

func (e *Engine) logHistory(sess *session) {
	if e.api == nil {
		return
	}
	rec := rest.CallRecord{
		ConversationID: sess.peer,
		Direction:      sess.direction,
		Video:          sess.video,
		StartedAt:      sess.startedAt.UnixMilli(),
		EndedAt:        time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.api.LogCall(ctx, rec); err != nil {
			e.logger.Warn("call history log failed", zap.Error(err))
		}
	}()
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
