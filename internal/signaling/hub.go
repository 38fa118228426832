package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"interview-platform/pkg/utils"
)

var (
	ErrRoomFull    = errors.New("signaling: room full")
	ErrHubClosed   = errors.New("signaling: hub is shut down")
	ErrInvalidJoin = errors.New("signaling: invalid join request")
)

// Hub is the process-wide room registry. One instance per process,
// constructor-injected where needed (never a package global), with an
// explicit Shutdown that releases every room.
//
// Rooms are transient: nothing here survives a restart and clients are
// expected to rejoin. A room holds at most the two application participants;
// a rejoining principal replaces its previous connection, a third distinct
// principal is rejected.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	closed bool
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms: map[string]map[*Client]struct{}{},
		log:   log,
	}
}

// Join adds the connection to the application's room and acks roomJoined to
// the caller only. Idempotent for a connection already in the room.
func (h *Hub) Join(c *Client, applicationID string) error {
	if applicationID == "" || c.principalID == "" {
		return ErrInvalidJoin
	}

	var replaced *Client

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}

	room := h.rooms[applicationID]
	if room == nil {
		room = map[*Client]struct{}{}
		h.rooms[applicationID] = room
		utils.OpenRooms.Inc()
	}

	if _, ok := room[c]; ok {
		h.mu.Unlock()
		return c.sendEnvelope(EventRoomJoined, roomJoinedPayload{
			ApplicationID: applicationID,
			PrincipalID:   c.principalID,
			Role:          c.role,
		})
	}

	distinct := map[string]struct{}{}
	for m := range room {
		if m.principalID == c.principalID {
			// Stale/duplicate reconnect: the newest connection wins.
			replaced = m
			continue
		}
		distinct[m.principalID] = struct{}{}
	}
	if len(distinct) >= 2 {
		h.mu.Unlock()
		_ = c.sendEnvelope(EventError, errorPayload{Message: "room already has two participants"})
		return ErrRoomFull
	}

	if replaced != nil {
		delete(room, replaced)
	}
	room[c] = struct{}{}
	c.applicationID = applicationID
	h.mu.Unlock()

	if replaced != nil {
		h.log.Info("replacing stale room connection",
			"application_id", applicationID, "principal_id", c.principalID)
		replaced.close()
	}

	return c.sendEnvelope(EventRoomJoined, roomJoinedPayload{
		ApplicationID: applicationID,
		PrincipalID:   c.principalID,
		Role:          c.role,
	})
}

// Relay delivers payload tagged with event to every other connection in the
// room. Never delivers to the sender; fire-and-forget with no queuing for
// absent members.
func (h *Hub) Relay(applicationID string, sender *Client, event string, data []byte) {
	frame, err := mustEnvelope(event, json.RawMessage(data))
	if err != nil {
		h.log.Error("relay marshal failed", "event", event, "err", err)
		return
	}
	h.fanOut(applicationID, sender, frame, event)
}

// Broadcast is the server-originated variant used by the call and chat
// services: no sender to exclude, since the HTTP caller may not hold a live
// connection at all.
func (h *Hub) Broadcast(ctx context.Context, applicationID, event string, payload any) error {
	frame, err := mustEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s: %w", event, err)
	}
	h.fanOut(applicationID, nil, frame, event)
	return nil
}

func (h *Hub) fanOut(applicationID string, sender *Client, frame []byte, event string) {
	h.mu.RLock()
	room := h.rooms[applicationID]
	targets := make([]*Client, 0, len(room))
	for m := range room {
		if m != sender {
			targets = append(targets, m)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		// Acceptable loss: persisted call/chat state is the recovery path.
		h.log.Debug("relay to empty room", "application_id", applicationID, "event", event)
		return
	}

	for _, m := range targets {
		if !m.trySend(frame) {
			h.log.Warn("dropping slow client",
				"application_id", applicationID, "principal_id", m.principalID)
			h.Disconnect(m)
			m.close()
		}
	}
	utils.RelayedEvents.WithLabelValues(event).Add(float64(len(targets)))
}

// Disconnect removes the connection from its room; empty rooms are deleted.
// No notification to peers beyond what explicit call events already carry.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[c.applicationID]
	if room == nil {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.applicationID)
		utils.OpenRooms.Dec()
	}
}

// Shutdown closes every connection and releases all rooms. Joins after
// Shutdown fail with ErrHubClosed.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	var all []*Client
	for appID, room := range h.rooms {
		for m := range room {
			all = append(all, m)
		}
		delete(h.rooms, appID)
		utils.OpenRooms.Dec()
	}
	h.mu.Unlock()

	for _, m := range all {
		m.close()
	}
}

// RoomSize reports current member count; used by tests and health output.
func (h *Hub) RoomSize(applicationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[applicationID])
}
