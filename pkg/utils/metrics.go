package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_open_rooms",
		Help: "Number of interview rooms with at least one live connection",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signaling_connected_clients",
		Help: "Number of live websocket connections registered with the hub",
	})

	RelayedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signaling_relayed_events_total",
		Help: "Signaling events fanned out to room peers, by event name",
	}, []string{"event"})

	CallTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_transitions_total",
		Help: "Successful call session transitions, by event type",
	}, []string{"type"})

	ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Chat messages persisted and broadcast",
	})
)
