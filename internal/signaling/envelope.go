package signaling

import "encoding/json"

// Envelope is the wire frame for every hub message, inbound and outbound.
// Data is kept raw so the hub can relay payloads it does not interpret.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names owned by the hub protocol. Call lifecycle and chat event
// names are defined next to the services that emit them; the hub treats
// those as opaque.
const (
	EventJoinRoom           = "joinRoom"
	EventRoomJoined         = "roomJoined"
	EventError              = "error"
	EventWebRTCOffer        = "webrtcOffer"
	EventWebRTCAnswer       = "webrtcAnswer"
	EventICECandidate       = "iceCandidate"
	EventOfferRequested     = "offerRequested"
	EventScreenShareStarted = "screenShareStarted"
	EventScreenShareStopped = "screenShareStopped"
)

// relayable lists the client-originated events the hub forwards to room
// peers verbatim. Everything else inbound is a protocol error.
var relayable = map[string]bool{
	EventWebRTCOffer:        true,
	EventWebRTCAnswer:       true,
	EventICECandidate:       true,
	EventOfferRequested:     true,
	EventScreenShareStarted: true,
	EventScreenShareStopped: true,
}

type joinRoomPayload struct {
	ApplicationID string `json:"applicationId"`
}

type roomJoinedPayload struct {
	ApplicationID string `json:"applicationId"`
	PrincipalID   string `json:"principalId"`
	Role          string `json:"role"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func mustEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
