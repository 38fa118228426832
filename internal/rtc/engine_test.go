package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"interview-platform/internal/calls"
	"interview-platform/internal/signaling"
)

type fakePeer struct {
	localSDP   *SessionDescription
	remoteSDP  *SessionDescription
	candidates []ICECandidate

	offerCalls  int
	answerCalls int
	iceRestarts int
	closed      bool
	stable      bool
	forceStable bool

	onCand func(*ICECandidate)
	onConn func(ConnState)
}

func (f *fakePeer) CreateOffer(iceRestart bool) (SessionDescription, error) {
	f.offerCalls++
	if iceRestart {
		f.iceRestarts++
	}
	return SessionDescription{Type: "offer", SDP: fmt.Sprintf("offer-%d", f.offerCalls)}, nil
}

func (f *fakePeer) CreateAnswer() (SessionDescription, error) {
	f.answerCalls++
	return SessionDescription{Type: "answer", SDP: fmt.Sprintf("answer-%d", f.answerCalls)}, nil
}

// Mirrors the signaling state machine: applying an offer leaves the
// exchange open, applying an answer settles it.
func (f *fakePeer) SetLocalDescription(sd SessionDescription) error {
	f.localSDP = &sd
	f.stable = sd.Type != "offer"
	return nil
}

func (f *fakePeer) SetRemoteDescription(sd SessionDescription) error {
	if sd.Type == "offer" && !f.stable && f.localSDP != nil && f.localSDP.Type == "offer" {
		return errors.New("remote offer in state have-local-offer")
	}
	f.remoteSDP = &sd
	f.stable = sd.Type != "offer"
	return nil
}

func (f *fakePeer) AddICECandidate(c ICECandidate) error {
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakePeer) SignalingStateStable() bool {
	return f.forceStable || f.stable
}

func (f *fakePeer) HasRemoteDescription() bool { return f.remoteSDP != nil }

func (f *fakePeer) OnICECandidate(fn func(*ICECandidate)) { f.onCand = fn }

func (f *fakePeer) OnConnectionStateChange(fn func(ConnState)) { f.onConn = fn }

func (f *fakePeer) Close() error {
	f.closed = true
	return nil
}

type fakeMedia struct {
	acquireErr error
	acquired   bool
	released   bool
	sharing    bool
	shareErr   error
}

func (f *fakeMedia) Acquire(context.Context) error {
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired = true
	return nil
}

func (f *fakeMedia) StartScreenCapture() error {
	if f.shareErr != nil {
		return f.shareErr
	}
	f.sharing = true
	return nil
}

func (f *fakeMedia) StopScreenCapture() error {
	f.sharing = false
	return nil
}

func (f *fakeMedia) Release() { f.released = true }

type sentSignal struct {
	event   string
	payload any
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentSignal
	ch   chan sentSignal
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{ch: make(chan sentSignal, 16)}
}

func (f *fakeSignaler) Signal(event string, payload any) error {
	f.mu.Lock()
	f.sent = append(f.sent, sentSignal{event: event, payload: payload})
	f.mu.Unlock()
	select {
	case f.ch <- sentSignal{event: event, payload: payload}:
	default:
	}
	return nil
}

func (f *fakeSignaler) signals() []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSignal(nil), f.sent...)
}

type engineFixture struct {
	engine   *Engine
	peer     *fakePeer
	media    *fakeMedia
	signaler *fakeSignaler
	updates  *[]Update
}

// newFixture builds an engine past media acquisition so tests can drive the
// state machine synchronously through dispatch/execute.
func newFixture(t *testing.T, opts Options) engineFixture {
	t.Helper()
	peer := &fakePeer{}
	media := &fakeMedia{acquired: true}
	signaler := newFakeSignaler()

	var updates []Update
	base := opts.OnStateChange
	opts.OnStateChange = func(u Update) {
		updates = append(updates, u)
		if base != nil {
			base(u)
		}
	}

	e := NewEngine(peer, media, signaler, opts)
	e.setState(StateHaveLocalMedia)
	return engineFixture{engine: e, peer: peer, media: media, signaler: signaler, updates: &updates}
}

func step(t *testing.T, e *Engine, m message) error {
	t.Helper()
	cmds, err := e.dispatch(m)
	e.execute(cmds)
	return err
}

func signalMsg(t *testing.T, event string, payload any) message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return message{kind: msgSignal, event: event, data: data}
}

func TestOfferRequested_ProducesOffer(t *testing.T) {
	fx := newFixture(t, Options{})

	if err := step(t, fx.engine, signalMsg(t, signaling.EventOfferRequested, struct{}{})); err != nil {
		t.Fatalf("offerRequested: %v", err)
	}

	sent := fx.signaler.signals()
	if len(sent) != 1 || sent[0].event != signaling.EventWebRTCOffer {
		t.Fatalf("expected one webrtcOffer, got %+v", sent)
	}
	if fx.peer.localSDP == nil || fx.peer.localSDP.Type != "offer" {
		t.Fatalf("local description not set to offer: %+v", fx.peer.localSDP)
	}
	if got := fx.engine.State(); got != StateNegotiating {
		t.Fatalf("expected negotiating, got %s", got)
	}
}

type acceptedPayload struct {
	ApplicationID string `json:"applicationId"`
	By            string `json:"by"`
}

func TestCallAccepted_OnlyAcceptorOffers(t *testing.T) {
	caller := newFixture(t, Options{Role: "provider"})
	acceptor := newFixture(t, Options{Role: "seeker"})

	// Acceptance is broadcast to the whole room; both engines hear it.
	accepted := acceptedPayload{ApplicationID: "A1", By: "seeker"}
	if err := step(t, caller.engine, signalMsg(t, calls.EventNameCallAccepted, accepted)); err != nil {
		t.Fatalf("caller callAccepted: %v", err)
	}
	if err := step(t, acceptor.engine, signalMsg(t, calls.EventNameCallAccepted, accepted)); err != nil {
		t.Fatalf("acceptor callAccepted: %v", err)
	}

	if sent := caller.signaler.signals(); len(sent) != 0 {
		t.Fatalf("caller must wait for the offer, sent %+v", sent)
	}
	sent := acceptor.signaler.signals()
	if len(sent) != 1 || sent[0].event != signaling.EventWebRTCOffer {
		t.Fatalf("expected one webrtcOffer from the acceptor, got %+v", sent)
	}
}

func TestCallAccepted_BothEnginesNegotiateToStable(t *testing.T) {
	caller := newFixture(t, Options{Role: "provider"})
	acceptor := newFixture(t, Options{Role: "seeker"})

	accepted := acceptedPayload{ApplicationID: "A1", By: "seeker"}
	if err := step(t, acceptor.engine, signalMsg(t, calls.EventNameCallAccepted, accepted)); err != nil {
		t.Fatalf("acceptor callAccepted: %v", err)
	}
	if err := step(t, caller.engine, signalMsg(t, calls.EventNameCallAccepted, accepted)); err != nil {
		t.Fatalf("caller callAccepted: %v", err)
	}

	// Cross-deliver the acceptor's offer to the caller.
	offers := acceptor.signaler.signals()
	if len(offers) != 1 || offers[0].event != signaling.EventWebRTCOffer {
		t.Fatalf("expected acceptor offer, got %+v", offers)
	}
	if err := step(t, caller.engine, signalMsg(t, signaling.EventWebRTCOffer, offers[0].payload)); err != nil {
		t.Fatalf("caller remote offer: %v", err)
	}

	// And the caller's answer back to the acceptor.
	answers := caller.signaler.signals()
	if len(answers) != 1 || answers[0].event != signaling.EventWebRTCAnswer {
		t.Fatalf("expected caller answer, got %+v", answers)
	}
	if err := step(t, acceptor.engine, signalMsg(t, signaling.EventWebRTCAnswer, answers[0].payload)); err != nil {
		t.Fatalf("acceptor remote answer: %v", err)
	}

	if caller.peer.offerCalls != 0 || acceptor.peer.offerCalls != 1 {
		t.Fatalf("offer counts caller=%d acceptor=%d", caller.peer.offerCalls, acceptor.peer.offerCalls)
	}
	if caller.peer.answerCalls != 1 || acceptor.peer.answerCalls != 0 {
		t.Fatalf("answer counts caller=%d acceptor=%d", caller.peer.answerCalls, acceptor.peer.answerCalls)
	}
	if !caller.peer.SignalingStateStable() || !acceptor.peer.SignalingStateStable() {
		t.Fatalf("negotiation did not settle: caller=%v acceptor=%v",
			caller.peer.SignalingStateStable(), acceptor.peer.SignalingStateStable())
	}
}

func TestRemoteOffer_AnswersAndFlushesBufferedCandidates(t *testing.T) {
	fx := newFixture(t, Options{})

	// Candidates race ahead of the offer; they must be held, not dropped.
	for _, cand := range []string{"cand-1", "cand-2"} {
		msg := signalMsg(t, signaling.EventICECandidate, ICECandidate{Candidate: cand})
		if err := step(t, fx.engine, msg); err != nil {
			t.Fatalf("candidate %s: %v", cand, err)
		}
	}
	if len(fx.peer.candidates) != 0 {
		t.Fatalf("candidates applied before remote description: %+v", fx.peer.candidates)
	}

	offer := SessionDescription{Type: "offer", SDP: "remote-offer"}
	if err := step(t, fx.engine, signalMsg(t, signaling.EventWebRTCOffer, offer)); err != nil {
		t.Fatalf("remote offer: %v", err)
	}

	if fx.peer.remoteSDP == nil || fx.peer.remoteSDP.SDP != "remote-offer" {
		t.Fatalf("remote description not set: %+v", fx.peer.remoteSDP)
	}
	if len(fx.peer.candidates) != 2 || fx.peer.candidates[0].Candidate != "cand-1" || fx.peer.candidates[1].Candidate != "cand-2" {
		t.Fatalf("buffered candidates not flushed in order: %+v", fx.peer.candidates)
	}
	sent := fx.signaler.signals()
	if len(sent) != 1 || sent[0].event != signaling.EventWebRTCAnswer {
		t.Fatalf("expected webrtcAnswer, got %+v", sent)
	}
	if fx.engine.pending != nil {
		t.Fatalf("pending buffer not cleared")
	}
}

func TestRemoteOffer_NoAnswerWhenSignalingStable(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.peer.forceStable = true

	offer := SessionDescription{Type: "offer", SDP: "remote-offer"}
	if err := step(t, fx.engine, signalMsg(t, signaling.EventWebRTCOffer, offer)); err != nil {
		t.Fatalf("remote offer: %v", err)
	}

	if fx.peer.answerCalls != 0 {
		t.Fatalf("answered despite stable signaling state")
	}
	if sent := fx.signaler.signals(); len(sent) != 0 {
		t.Fatalf("unexpected outbound signals: %+v", sent)
	}
}

func TestRemoteAnswer_DuplicateDropped(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.peer.forceStable = true

	answer := SessionDescription{Type: "answer", SDP: "remote-answer"}
	if err := step(t, fx.engine, signalMsg(t, signaling.EventWebRTCAnswer, answer)); err != nil {
		t.Fatalf("duplicate answer must not error: %v", err)
	}
	if fx.peer.remoteSDP != nil {
		t.Fatalf("duplicate answer applied: %+v", fx.peer.remoteSDP)
	}
}

func TestLocalCandidate_SentUntilGatheringComplete(t *testing.T) {
	fx := newFixture(t, Options{})

	cand := ICECandidate{Candidate: "local-1"}
	if err := step(t, fx.engine, message{kind: msgLocalCandidate, candidate: &cand}); err != nil {
		t.Fatalf("local candidate: %v", err)
	}
	// nil candidate marks gathering complete, nothing goes out.
	if err := step(t, fx.engine, message{kind: msgLocalCandidate, candidate: nil}); err != nil {
		t.Fatalf("gathering complete: %v", err)
	}

	sent := fx.signaler.signals()
	if len(sent) != 1 || sent[0].event != signaling.EventICECandidate {
		t.Fatalf("expected exactly one iceCandidate, got %+v", sent)
	}
}

func TestConnFailed_RestartsICEThenGivesUp(t *testing.T) {
	fx := newFixture(t, Options{MaxICERestarts: 2})
	var scheduled []func()
	fx.engine.schedule = func(_ time.Duration, fn func()) {
		scheduled = append(scheduled, fn)
	}

	if err := step(t, fx.engine, message{kind: msgConnChange, conn: ConnConnected}); err != nil {
		t.Fatalf("connected: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := step(t, fx.engine, message{kind: msgConnChange, conn: ConnFailed}); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
		if err := step(t, fx.engine, message{kind: msgRestartICE}); err != nil {
			t.Fatalf("restart %d: %v", i+1, err)
		}
	}
	if len(scheduled) != 2 {
		t.Fatalf("expected 2 scheduled restarts, got %d", len(scheduled))
	}
	if fx.peer.iceRestarts != 2 {
		t.Fatalf("expected 2 ice-restart offers, got %d", fx.peer.iceRestarts)
	}

	// Budget exhausted: the next failure is terminal.
	if err := step(t, fx.engine, message{kind: msgConnChange, conn: ConnFailed}); err != nil {
		t.Fatalf("terminal failure: %v", err)
	}
	if got := fx.engine.State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if !fx.peer.closed || !fx.media.released {
		t.Fatalf("transport not torn down: closed=%v released=%v", fx.peer.closed, fx.media.released)
	}
	last := (*fx.updates)[len(*fx.updates)-1]
	if last.State != StateFailed || !errors.Is(last.Err, ErrTransportFailed) {
		t.Fatalf("expected failed update with ErrTransportFailed, got %+v", last)
	}
}

func TestConnConnected_ResetsRetryBudget(t *testing.T) {
	fx := newFixture(t, Options{MaxICERestarts: 1})
	fx.engine.schedule = func(_ time.Duration, fn func()) {}

	_ = step(t, fx.engine, message{kind: msgConnChange, conn: ConnConnected})
	_ = step(t, fx.engine, message{kind: msgConnChange, conn: ConnFailed})
	if fx.engine.restarts != 1 {
		t.Fatalf("expected one restart consumed, got %d", fx.engine.restarts)
	}

	_ = step(t, fx.engine, message{kind: msgConnChange, conn: ConnConnected})
	if fx.engine.restarts != 0 {
		t.Fatalf("reconnect must reset the retry budget, got %d", fx.engine.restarts)
	}
	if got := fx.engine.State(); got != StateConnected {
		t.Fatalf("expected connected, got %s", got)
	}
}

func TestScreenShare_ToggleSignalsPeer(t *testing.T) {
	fx := newFixture(t, Options{})

	if err := step(t, fx.engine, message{kind: msgStartShare}); err != nil {
		t.Fatalf("start share: %v", err)
	}
	if !fx.media.sharing {
		t.Fatalf("screen capture not started")
	}
	// Second start is a no-op, no duplicate advisory event.
	if err := step(t, fx.engine, message{kind: msgStartShare}); err != nil {
		t.Fatalf("repeat start share: %v", err)
	}

	if err := step(t, fx.engine, message{kind: msgStopShare}); err != nil {
		t.Fatalf("stop share: %v", err)
	}
	if err := step(t, fx.engine, message{kind: msgStopShare}); !errors.Is(err, ErrNotSharingScreen) {
		t.Fatalf("expected ErrNotSharingScreen, got %v", err)
	}

	sent := fx.signaler.signals()
	if len(sent) != 2 ||
		sent[0].event != signaling.EventScreenShareStarted ||
		sent[1].event != signaling.EventScreenShareStopped {
		t.Fatalf("expected started then stopped, got %+v", sent)
	}
}

func TestCallEnded_TerminatesTransportOnly(t *testing.T) {
	fx := newFixture(t, Options{})

	if err := step(t, fx.engine, signalMsg(t, calls.EventNameCallEnded, struct{}{})); err != nil {
		t.Fatalf("callEnded: %v", err)
	}

	if got := fx.engine.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
	if !fx.peer.closed || !fx.media.released {
		t.Fatalf("transport not released: closed=%v released=%v", fx.peer.closed, fx.media.released)
	}
}

func TestStart_MediaDeniedIsFatal(t *testing.T) {
	peer := &fakePeer{}
	media := &fakeMedia{acquireErr: fmt.Errorf("webcam busy: %w", ErrMediaAccessDenied)}
	e := NewEngine(peer, media, newFakeSignaler(), Options{})

	err := e.Start(context.Background())
	if !errors.Is(err, ErrMediaAccessDenied) {
		t.Fatalf("expected ErrMediaAccessDenied, got %v", err)
	}
	if got := e.State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestStart_RunLoopDeliversSignals(t *testing.T) {
	peer := &fakePeer{}
	media := &fakeMedia{}
	signaler := newFakeSignaler()
	e := NewEngine(peer, media, signaler, Options{})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Close()

	if peer.onCand == nil || peer.onConn == nil {
		t.Fatalf("peer callbacks not registered")
	}

	e.Deliver(signaling.EventOfferRequested, nil)

	select {
	case got := <-signaler.ch:
		if got.event != signaling.EventWebRTCOffer {
			t.Fatalf("expected webrtcOffer, got %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no offer produced by run loop")
	}
}
