package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"interview-platform/internal/apps"
	"interview-platform/internal/auth"
	"interview-platform/pkg/logger"
	"interview-platform/pkg/utils"

	"github.com/google/uuid"
)

// Notifier fans a server-originated event out to the application's room.
// Implementations must be non-blocking; delivery is best-effort and loss to
// disconnected peers is acceptable because session state is recoverable via
// Status.
type Notifier interface {
	Broadcast(ctx context.Context, applicationID, event string, payload any) error
}

// StartLimiter bounds how often a call can be started per application.
type StartLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Service is the call controller: it owns every session transition.
// Persist first, notify after; a store failure means the transition did not
// happen and no event leaves the process.
type Service struct {
	repo      Repository
	directory apps.Directory
	notifier  Notifier
	limiter   StartLimiter
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(repo Repository, directory apps.Directory, notifier Notifier, limiter StartLimiter) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		notifier:  notifier,
		limiter:   limiter,
		clock:     time.Now,
	}
}

// Wire event names shared with the signaling hub.
const (
	EventNameIncomingCall = "incomingCall"
	EventNameCallAccepted = "callAccepted"
	EventNameCallRejected = "callRejected"
	EventNameCallEnded    = "callEnded"
)

type incomingCallPayload struct {
	ApplicationID string   `json:"applicationId"`
	CallType      CallType `json:"callType"`
	Initiator     string   `json:"initiator"`
}

type callEventPayload struct {
	ApplicationID string `json:"applicationId"`
	Reason        string `json:"reason,omitempty"`

	// By names the side that performed the transition. Peer engines use it
	// on acceptance to decide which of them produces the SDP offer.
	By string `json:"by,omitempty"`
}

func (s *Service) Start(ctx context.Context, p auth.Principal, applicationID string, callType CallType) (Session, error) {
	if applicationID == "" || !callType.Valid() {
		return Session{}, ErrInvalidArgument
	}
	role, parts, err := s.participantRole(ctx, p, applicationID)
	if err != nil {
		return Session{}, err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "call_start:"+applicationID)
		if err != nil {
			// Throttling is advisory; the CAS guard below is the invariant.
			logger.From(ctx).Warn("call start limiter unavailable", "err", err)
		} else if !ok {
			return Session{}, ErrRateLimited
		}
	}

	now := s.clock().UTC()
	sess := Session{
		SessionID:     uuid.NewString(),
		ApplicationID: applicationID,
		RecruiterRef:  parts.RecruiterRef,
		CandidateRef:  parts.CandidateRef,
		CallType:      callType,
		Status:        StatusRinging,
		StartedAt:     now,
	}
	ev := Event{
		ID:        uuid.NewString(),
		SessionID: sess.SessionID,
		Type:      EventStarted,
		ByRole:    role,
		At:        now,
	}

	if err := s.repo.BeginRinging(ctx, sess, ev); err != nil {
		return Session{}, err
	}
	sess.Events = []Event{ev}

	utils.CallTransitions.WithLabelValues(string(EventStarted)).Inc()
	s.notify(ctx, applicationID, EventNameIncomingCall, incomingCallPayload{
		ApplicationID: applicationID,
		CallType:      callType,
		Initiator:     role,
	})
	return sess, nil
}

func (s *Service) Accept(ctx context.Context, p auth.Principal, applicationID string) (Session, error) {
	sess, err := s.transition(ctx, p, applicationID, []Status{StatusRinging}, StatusOngoing, EventAccepted, "")
	if err != nil {
		return Session{}, err
	}
	s.notify(ctx, applicationID, EventNameCallAccepted, callEventPayload{ApplicationID: applicationID, By: p.Role})
	return sess, nil
}

func (s *Service) Reject(ctx context.Context, p auth.Principal, applicationID, reason string) (Session, error) {
	sess, err := s.transition(ctx, p, applicationID, []Status{StatusRinging}, StatusEnded, EventRejected, strings.TrimSpace(reason))
	if err != nil {
		return Session{}, err
	}
	s.notify(ctx, applicationID, EventNameCallRejected, callEventPayload{ApplicationID: applicationID, Reason: reason})
	return sess, nil
}

func (s *Service) End(ctx context.Context, p auth.Principal, applicationID string) (Session, error) {
	sess, err := s.transition(ctx, p, applicationID, []Status{StatusRinging, StatusOngoing}, StatusEnded, EventEnded, "")
	if err != nil {
		return Session{}, err
	}
	s.notify(ctx, applicationID, EventNameCallEnded, callEventPayload{ApplicationID: applicationID})
	return sess, nil
}

// Status is a pure read: the latest session plus event history.
func (s *Service) Status(ctx context.Context, p auth.Principal, applicationID string) (Session, error) {
	if applicationID == "" {
		return Session{}, ErrInvalidArgument
	}
	if _, _, err := s.participantRole(ctx, p, applicationID); err != nil {
		return Session{}, err
	}
	return s.repo.Latest(ctx, applicationID)
}

func (s *Service) transition(ctx context.Context, p auth.Principal, applicationID string, expected []Status, next Status, evType EventType, reason string) (Session, error) {
	if applicationID == "" {
		return Session{}, ErrInvalidArgument
	}
	role, _, err := s.participantRole(ctx, p, applicationID)
	if err != nil {
		return Session{}, err
	}

	ev := Event{
		ID:     uuid.NewString(),
		Type:   evType,
		ByRole: role,
		At:     s.clock().UTC(),
		Reason: reason,
	}

	sess, err := s.repo.Transition(ctx, applicationID, expected, next, ev)
	if err != nil {
		return Session{}, err
	}
	utils.CallTransitions.WithLabelValues(string(evType)).Inc()
	return sess, nil
}

// participantRole authorizes the principal against the application and
// returns the side it plays. Unauthorized callers get no event and no
// notification.
func (s *Service) participantRole(ctx context.Context, p auth.Principal, applicationID string) (string, apps.Participants, error) {
	parts, err := s.directory.Participants(ctx, applicationID)
	if errors.Is(err, apps.ErrUnknownApplication) {
		return "", apps.Participants{}, ErrNotFound
	}
	if err != nil {
		return "", apps.Participants{}, fmt.Errorf("calls: participant lookup %s: %w", applicationID, err)
	}
	role := parts.RoleOf(p.UserID)
	if role == "" || role != p.Role {
		return "", apps.Participants{}, ErrUnauthorized
	}
	return role, parts, nil
}

// notify is fire-and-forget: relay failure is logged, never surfaced, and
// never rolls a committed transition back.
func (s *Service) notify(ctx context.Context, applicationID, event string, payload any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Broadcast(ctx, applicationID, event, payload); err != nil {
		logger.From(ctx).Warn("call notify failed", "application_id", applicationID, "event", event, "err", err)
	}
}
