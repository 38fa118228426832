// Package rtc implements the client-side peer negotiation engine for
// interview calls. The engine is a single-consumer state machine: every
// signaling event, media command, and connection change is funneled through
// one inbound queue and handled by one goroutine, so no transition races
// another. Handlers return command lists that the loop executes.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"interview-platform/internal/calls"
	"interview-platform/internal/signaling"
)

// State is the lifecycle phase of one engine instance.
type State string

const (
	StateUninitialized  State = "uninitialized"
	StateHaveLocalMedia State = "have-local-media"
	StateNegotiating    State = "negotiating"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
	StateFailed         State = "failed"
)

var (
	// ErrMediaAccessDenied means the user or OS refused camera/microphone
	// access. Fatal to the instance; construct a new engine to retry.
	ErrMediaAccessDenied = errors.New("rtc: media access denied")

	ErrEngineClosed     = errors.New("rtc: engine closed")
	ErrAlreadyStarted   = errors.New("rtc: engine already started")
	ErrTransportFailed  = errors.New("rtc: transport failed after retries")
	ErrNotSharingScreen = errors.New("rtc: screen share not active")
)

// SessionDescription mirrors the SDP half of the wire payload so the state
// machine never depends on pion types directly.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the trickle payload.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ConnState is the subset of peer connection states the engine reacts to.
type ConnState string

const (
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// PeerConnection abstracts the pion peer connection so the state machine is
// testable with fakes. Implemented by pionPeer.
type PeerConnection interface {
	CreateOffer(iceRestart bool) (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(sd SessionDescription) error
	SetRemoteDescription(sd SessionDescription) error
	AddICECandidate(c ICECandidate) error
	SignalingStateStable() bool
	HasRemoteDescription() bool
	OnICECandidate(fn func(*ICECandidate))
	OnConnectionStateChange(fn func(ConnState))
	Close() error
}

// MediaSource abstracts local capture. Acquire runs once during Start;
// screen capture swaps the outgoing video track without renegotiation.
type MediaSource interface {
	Acquire(ctx context.Context) error
	StartScreenCapture() error
	StopScreenCapture() error
	Release()
}

// Signaler delivers an event envelope to the peer via the interview room.
type Signaler interface {
	Signal(event string, payload any) error
}

// Update is pushed to the OnStateChange observer after each transition.
type Update struct {
	State State
	Err   error
	At    time.Time
}

const inboundQueueSize = 32

type msgKind int

const (
	msgSignal msgKind = iota
	msgLocalCandidate
	msgConnChange
	msgStartShare
	msgStopShare
	msgRestartICE
)

type message struct {
	kind      msgKind
	event     string
	data      json.RawMessage
	candidate *ICECandidate
	conn      ConnState
}

type cmdKind int

const (
	cmdSignal cmdKind = iota
	cmdNotify
)

type command struct {
	kind    cmdKind
	event   string
	payload any
	update  Update
}

// Options tunes an engine. Zero value takes defaults.
type Options struct {
	Log           *slog.Logger
	OnStateChange func(Update)

	// Role is the side this engine plays in the application (provider or
	// seeker). Call acceptance is broadcast to the whole room; the engine
	// whose role matches the accepting side produces the offer, the other
	// waits for it.
	Role string

	MaxICERestarts int
	Clock          func() time.Time
}

const defaultMaxICERestarts = 3

// Engine drives one peer connection through the negotiation lifecycle.
type Engine struct {
	pc       PeerConnection
	media    MediaSource
	signaler Signaler
	log      *slog.Logger
	onState  func(Update)
	clock    func() time.Time
	role     string

	inbound chan message
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	state State

	// Owned by the run goroutine, no locking needed.
	pending     []ICECandidate
	sharing     bool
	restarts    int
	maxRestarts int
	restartWait backoff.BackOff

	// Replaced in tests to make retry timing synchronous.
	schedule func(d time.Duration, fn func())
}

func NewEngine(pc PeerConnection, media MediaSource, signaler Signaler, opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxICERestarts <= 0 {
		opts.MaxICERestarts = defaultMaxICERestarts
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0

	return &Engine{
		pc:          pc,
		media:       media,
		signaler:    signaler,
		log:         opts.Log.With("component", "rtc_engine"),
		onState:     opts.OnStateChange,
		clock:       opts.Clock,
		role:        opts.Role,
		inbound:     make(chan message, inboundQueueSize),
		done:        make(chan struct{}),
		state:       StateUninitialized,
		maxRestarts: opts.MaxICERestarts,
		restartWait: bo,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// State reports the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Start acquires local media and begins consuming the inbound queue. A
// media permission failure is fatal; build a new engine to retry.
func (e *Engine) Start(ctx context.Context) error {
	if e.State() != StateUninitialized {
		return ErrAlreadyStarted
	}

	if err := e.media.Acquire(ctx); err != nil {
		e.setState(StateFailed)
		if errors.Is(err, ErrMediaAccessDenied) {
			return err
		}
		return fmt.Errorf("acquire local media: %w", err)
	}
	e.setState(StateHaveLocalMedia)

	e.pc.OnICECandidate(func(c *ICECandidate) {
		e.enqueue(message{kind: msgLocalCandidate, candidate: c})
	})
	e.pc.OnConnectionStateChange(func(s ConnState) {
		e.enqueue(message{kind: msgConnChange, conn: s})
	})

	go e.run()
	e.notify(Update{State: StateHaveLocalMedia, At: e.clock()})
	return nil
}

// Deliver feeds a signaling envelope from the interview room into the
// queue. Safe to call from the websocket read goroutine.
func (e *Engine) Deliver(event string, data json.RawMessage) {
	e.enqueue(message{kind: msgSignal, event: event, data: data})
}

// StartScreenShare swaps the outgoing video track to screen capture.
func (e *Engine) StartScreenShare() { e.enqueue(message{kind: msgStartShare}) }

// StopScreenShare restores the camera track.
func (e *Engine) StopScreenShare() { e.enqueue(message{kind: msgStopShare}) }

// Close tears the engine down: peer connection closed, tracks released.
// Idempotent.
func (e *Engine) Close() {
	e.once.Do(func() {
		close(e.done)
		if err := e.pc.Close(); err != nil {
			e.log.Warn("peer connection close", "err", err)
		}
		e.media.Release()
		if e.State() != StateFailed {
			e.setState(StateClosed)
		}
	})
}

func (e *Engine) enqueue(m message) {
	select {
	case e.inbound <- m:
	case <-e.done:
	}
}

func (e *Engine) notify(u Update) {
	if e.onState != nil {
		e.onState(u)
	}
}

func (e *Engine) run() {
	for {
		select {
		case <-e.done:
			return
		case m := <-e.inbound:
			cmds, err := e.dispatch(m)
			if err != nil {
				e.log.Warn("transition failed", "kind", int(m.kind), "event", m.event, "err", err)
			}
			e.execute(cmds)
		}
	}
}

func (e *Engine) execute(cmds []command) {
	for _, c := range cmds {
		switch c.kind {
		case cmdSignal:
			if err := e.signaler.Signal(c.event, c.payload); err != nil {
				// The ws client reconnects on its own; negotiation resumes
				// from the next inbound event.
				e.log.Warn("signal send failed", "event", c.event, "err", err)
			}
		case cmdNotify:
			e.notify(c.update)
		}
	}
}

func (e *Engine) dispatch(m message) ([]command, error) {
	switch m.kind {
	case msgSignal:
		return e.dispatchSignal(m)
	case msgLocalCandidate:
		return e.handleLocalCandidate(m.candidate)
	case msgConnChange:
		return e.handleConnChange(m.conn)
	case msgRestartICE:
		return e.makeOffer(true)
	case msgStartShare:
		return e.handleStartShare()
	case msgStopShare:
		return e.handleStopShare()
	}
	return nil, nil
}

func (e *Engine) dispatchSignal(m message) ([]command, error) {
	switch m.event {
	case signaling.EventOfferRequested:
		// The peer explicitly asked this side to offer.
		return e.makeOffer(false)
	case calls.EventNameCallAccepted:
		// The acceptance broadcast reaches both engines; only the accepting
		// side offers, otherwise both produce offers and neither can answer.
		var acc struct {
			By string `json:"by"`
		}
		if err := json.Unmarshal(m.data, &acc); err != nil {
			return nil, fmt.Errorf("decode call accepted: %w", err)
		}
		if acc.By == "" || acc.By != e.role {
			e.log.Debug("call accepted by peer, awaiting offer", "by", acc.By)
			return nil, nil
		}
		return e.makeOffer(false)
	case signaling.EventWebRTCOffer:
		var sd SessionDescription
		if err := json.Unmarshal(m.data, &sd); err != nil {
			return nil, fmt.Errorf("decode remote offer: %w", err)
		}
		return e.handleRemoteOffer(sd)
	case signaling.EventWebRTCAnswer:
		var sd SessionDescription
		if err := json.Unmarshal(m.data, &sd); err != nil {
			return nil, fmt.Errorf("decode remote answer: %w", err)
		}
		return e.handleRemoteAnswer(sd)
	case signaling.EventICECandidate:
		var c ICECandidate
		if err := json.Unmarshal(m.data, &c); err != nil {
			return nil, fmt.Errorf("decode remote candidate: %w", err)
		}
		return e.handleRemoteCandidate(c)
	case signaling.EventScreenShareStarted, signaling.EventScreenShareStopped:
		// Advisory only; remote track replacement is transparent to us.
		e.log.Debug("peer screen share toggled", "event", m.event)
		return nil, nil
	case calls.EventNameCallEnded, calls.EventNameCallRejected:
		return e.terminate(StateClosed, nil), nil
	default:
		e.log.Debug("ignoring signaling event", "event", m.event)
		return nil, nil
	}
}

func (e *Engine) makeOffer(iceRestart bool) ([]command, error) {
	offer, err := e.pc.CreateOffer(iceRestart)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	e.setState(StateNegotiating)
	return []command{
		{kind: cmdSignal, event: signaling.EventWebRTCOffer, payload: offer},
		{kind: cmdNotify, update: Update{State: StateNegotiating, At: e.clock()}},
	}, nil
}

func (e *Engine) handleRemoteOffer(sd SessionDescription) ([]command, error) {
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	e.flushPending()

	// Double-answer protection: a stable signaling state means this side
	// already completed the exchange for the current description.
	if e.pc.SignalingStateStable() {
		e.log.Debug("skipping answer, signaling state stable")
		return nil, nil
	}

	answer, err := e.pc.CreateAnswer()
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	e.setState(StateNegotiating)
	return []command{
		{kind: cmdSignal, event: signaling.EventWebRTCAnswer, payload: answer},
		{kind: cmdNotify, update: Update{State: StateNegotiating, At: e.clock()}},
	}, nil
}

func (e *Engine) handleRemoteAnswer(sd SessionDescription) ([]command, error) {
	if e.pc.SignalingStateStable() {
		e.log.Debug("dropping duplicate answer")
		return nil, nil
	}
	if err := e.pc.SetRemoteDescription(sd); err != nil {
		return nil, fmt.Errorf("set remote answer: %w", err)
	}
	e.flushPending()
	return nil, nil
}

// handleRemoteCandidate buffers candidates that race ahead of the remote
// description; the buffer is flushed after SetRemoteDescription succeeds.
func (e *Engine) handleRemoteCandidate(c ICECandidate) ([]command, error) {
	if !e.pc.HasRemoteDescription() {
		e.pending = append(e.pending, c)
		return nil, nil
	}
	if err := e.pc.AddICECandidate(c); err != nil {
		return nil, fmt.Errorf("add remote candidate: %w", err)
	}
	return nil, nil
}

func (e *Engine) flushPending() {
	for _, c := range e.pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			e.log.Warn("flush buffered candidate", "err", err)
		}
	}
	e.pending = nil
}

func (e *Engine) handleLocalCandidate(c *ICECandidate) ([]command, error) {
	if c == nil {
		// Gathering complete marker, no message goes out.
		e.log.Debug("ice gathering complete")
		return nil, nil
	}
	return []command{
		{kind: cmdSignal, event: signaling.EventICECandidate, payload: *c},
	}, nil
}

func (e *Engine) handleConnChange(s ConnState) ([]command, error) {
	switch s {
	case ConnConnected:
		e.restarts = 0
		e.restartWait.Reset()
		e.setState(StateConnected)
		return []command{
			{kind: cmdNotify, update: Update{State: StateConnected, At: e.clock()}},
		}, nil

	case ConnDisconnected, ConnFailed:
		cur := e.State()
		if cur != StateNegotiating && cur != StateConnected {
			return nil, nil
		}
		if e.restarts >= e.maxRestarts {
			return e.terminate(StateFailed, ErrTransportFailed), nil
		}
		e.restarts++
		wait := e.restartWait.NextBackOff()
		e.log.Info("scheduling ice restart", "attempt", e.restarts, "wait", wait)
		e.schedule(wait, func() {
			e.enqueue(message{kind: msgRestartICE})
		})
		e.setState(StateNegotiating)
		return []command{
			{kind: cmdNotify, update: Update{State: StateNegotiating, At: e.clock()}},
		}, nil

	case ConnClosed:
		return nil, nil
	}
	return nil, nil
}

func (e *Engine) handleStartShare() ([]command, error) {
	if e.sharing {
		return nil, nil
	}
	if err := e.media.StartScreenCapture(); err != nil {
		return nil, fmt.Errorf("start screen capture: %w", err)
	}
	e.sharing = true
	return []command{
		{kind: cmdSignal, event: signaling.EventScreenShareStarted, payload: struct{}{}},
	}, nil
}

func (e *Engine) handleStopShare() ([]command, error) {
	if !e.sharing {
		return nil, ErrNotSharingScreen
	}
	if err := e.media.StopScreenCapture(); err != nil {
		return nil, fmt.Errorf("stop screen capture: %w", err)
	}
	e.sharing = false
	return []command{
		{kind: cmdSignal, event: signaling.EventScreenShareStopped, payload: struct{}{}},
	}, nil
}

// terminate releases the transport. The persisted call session is never
// touched here; only the call controller ends calls.
func (e *Engine) terminate(s State, cause error) []command {
	e.setState(s)
	e.once.Do(func() {
		close(e.done)
		if err := e.pc.Close(); err != nil {
			e.log.Warn("peer connection close", "err", err)
		}
		e.media.Release()
	})
	return []command{
		{kind: cmdNotify, update: Update{State: s, Err: cause, At: e.clock()}},
	}
}
