package signaling

import (
	"encoding/json"
	"testing"
)

func inbound(event string, payload any) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Event: event, Data: data}
}

func TestHandleInbound_JoinRoomRequiresApplicationID(t *testing.T) {
	h := newTestHub(t)
	c := testClient(h, "rec-1", "provider")

	c.handleInbound(inbound(EventJoinRoom, joinRoomPayload{}))

	got := drain(t, c)
	if len(got) != 1 || got[0].Event != EventError {
		t.Fatalf("expected error frame, got %+v", got)
	}
	if h.RoomSize("") != 0 {
		t.Fatalf("empty application id must not create a room")
	}
}

func TestHandleInbound_JoinRoomRegistersWithHub(t *testing.T) {
	h := newTestHub(t)
	c := testClient(h, "rec-1", "provider")

	c.handleInbound(inbound(EventJoinRoom, joinRoomPayload{ApplicationID: "A1"}))

	if h.RoomSize("A1") != 1 {
		t.Fatalf("expected client registered in room, size %d", h.RoomSize("A1"))
	}
	got := drain(t, c)
	if len(got) != 1 || got[0].Event != EventRoomJoined {
		t.Fatalf("expected roomJoined ack, got %+v", got)
	}
}

func TestHandleInbound_SignalBeforeJoinRejected(t *testing.T) {
	h := newTestHub(t)
	c := testClient(h, "rec-1", "provider")

	c.handleInbound(inbound(EventWebRTCOffer, map[string]string{"sdp": "x"}))

	got := drain(t, c)
	if len(got) != 1 || got[0].Event != EventError {
		t.Fatalf("expected error frame, got %+v", got)
	}
}

func TestHandleInbound_RelayableEventReachesPeer(t *testing.T) {
	h := newTestHub(t)
	a := testClient(h, "rec-1", "provider")
	b := testClient(h, "cand-1", "seeker")

	if err := h.Join(a, "A1"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if err := h.Join(b, "A1"); err != nil {
		t.Fatalf("join b: %v", err)
	}
	drain(t, a)
	drain(t, b)

	a.handleInbound(inbound(EventICECandidate, map[string]string{"candidate": "c0"}))

	got := drain(t, b)
	if len(got) != 1 || got[0].Event != EventICECandidate {
		t.Fatalf("expected relayed candidate for b, got %+v", got)
	}
	if extra := drain(t, a); len(extra) != 0 {
		t.Fatalf("sender must not receive its own frame: %+v", extra)
	}
}

func TestHandleInbound_UnknownEventRejected(t *testing.T) {
	h := newTestHub(t)
	c := testClient(h, "rec-1", "provider")

	c.handleInbound(inbound("muteAll", nil))

	got := drain(t, c)
	if len(got) != 1 || got[0].Event != EventError {
		t.Fatalf("expected error frame, got %+v", got)
	}
}
