package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"interview-platform/internal/calls"
)

// SessionConfig builds one pion-backed peer session.
type SessionConfig struct {
	ICEServers []string
	CallType   calls.CallType
	Log        *slog.Logger
}

// NewPeerSession wires a pion peer connection and its capture source. The
// two share one underlying connection: the capture source owns the local
// tracks and the RTP senders, the peer adapter owns SDP and ICE.
func NewPeerSession(cfg SessionConfig) (PeerConnection, MediaSource, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if !cfg.CallType.Valid() {
		return nil, nil, fmt.Errorf("%w: call type %q", calls.ErrInvalidArgument, cfg.CallType)
	}

	selector, err := newCodecSelector()
	if err != nil {
		return nil, nil, err
	}

	mediaEngine := &webrtc.MediaEngine{}
	selector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Generous disconnect timeout: NAT rebinds and wifi roaming cause short
	// outages that ICE can ride out without an engine-level restart.
	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settings),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.ICEServers}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	peer := &pionPeer{pc: pc}
	media := &captureSource{
		pc:       pc,
		selector: selector,
		callType: cfg.CallType,
		log:      cfg.Log.With("component", "rtc_media"),
	}
	return peer, media, nil
}

// pionPeer adapts *webrtc.PeerConnection to the engine's PeerConnection.
type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer(iceRestart bool) (SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return SessionDescription{}, err
	}
	return fromPionSDP(offer), nil
}

func (p *pionPeer) CreateAnswer() (SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}
	return fromPionSDP(answer), nil
}

func (p *pionPeer) SetLocalDescription(sd SessionDescription) error {
	return p.pc.SetLocalDescription(toPionSDP(sd))
}

func (p *pionPeer) SetRemoteDescription(sd SessionDescription) error {
	return p.pc.SetRemoteDescription(toPionSDP(sd))
}

func (p *pionPeer) AddICECandidate(c ICECandidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (p *pionPeer) SignalingStateStable() bool {
	return p.pc.SignalingState() == webrtc.SignalingStateStable
}

func (p *pionPeer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *pionPeer) OnICECandidate(fn func(*ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(ConnState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			fn(ConnConnected)
		case webrtc.PeerConnectionStateDisconnected:
			fn(ConnDisconnected)
		case webrtc.PeerConnectionStateFailed:
			fn(ConnFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(ConnClosed)
		}
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

func fromPionSDP(sd webrtc.SessionDescription) SessionDescription {
	return SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toPionSDP(sd SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(sd.Type), SDP: sd.SDP}
}
