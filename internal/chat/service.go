package chat

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

// Notifier fans the persisted message out to the application's room.
// Delivery is best-effort; the transcript is the durable source of truth
// and disconnected peers catch up via Fetch.
type Notifier interface {
	Broadcast(ctx context.Context, applicationID, event string, payload any) error
}

// SendLimiter throttles a single sender. Keyed per sender ref.
type SendLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

const EventNameReceiveMessage = "receiveMessage"

type receiveMessagePayload struct {
	ApplicationID string  `json:"applicationId"`
	Message       Message `json:"message"`
}

// Service is the chat relay: persist first, broadcast after.
type Service struct {
	repo       Repository
	directory  apps.Directory
	notifier   Notifier
	limiter    SendLimiter
	fetchLimit int
	clock      func() time.Time
}

func NewService(repo Repository, directory apps.Directory, notifier Notifier, limiter SendLimiter, fetchLimit int) *Service {
	return &Service{
		repo:       repo,
		directory:  directory,
		notifier:   notifier,
		limiter:    limiter,
		fetchLimit: fetchLimit,
		clock:      time.Now,
	}
}

func (s *Service) Send(ctx context.Context, p auth.Principal, applicationID, text string) (Message, error) {
	if applicationID == "" {
		return Message{}, ErrInvalidArgument
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	role, parts, err := s.participantRole(ctx, p, applicationID)
	if err != nil {
		return Message{}, err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "chat_send:"+p.UserID)
		if err != nil {
			logger.From(ctx).Warn("chat limiter unavailable", "err", err)
		} else if !ok {
			return Message{}, ErrRateLimited
		}
	}

	now := s.clock().UTC()
	msg := Message{
		ID:            uuid.NewString(),
		ApplicationID: applicationID,
		SenderRole:    role,
		SenderRef:     p.UserID,
		Text:          text,
		CreatedAt:     now,
	}
	thread := Thread{
		ApplicationID: applicationID,
		RecruiterRef:  parts.RecruiterRef,
		CandidateRef:  parts.CandidateRef,
		CreatedAt:     now,
	}

	if err := s.repo.Append(ctx, thread, msg); err != nil {
		return Message{}, err
	}

	utils.ChatMessagesSent.Inc()
	if s.notifier != nil {
		if err := s.notifier.Broadcast(ctx, applicationID, EventNameReceiveMessage, receiveMessagePayload{
			ApplicationID: applicationID,
			Message:       msg,
		}); err != nil {
			logger.From(ctx).Warn("chat broadcast failed", "application_id", applicationID, "err", err)
		}
	}
	return msg, nil
}

// Fetch returns the transcript in creation order, bounded by the configured
// fetch limit. Pagination is the extension point once transcripts outgrow it.
func (s *Service) Fetch(ctx context.Context, p auth.Principal, applicationID string) ([]Message, error) {
	if applicationID == "" {
		return nil, ErrInvalidArgument
	}

	if _, _, err := s.participantRole(ctx, p, applicationID); err != nil {
		return nil, err
	}

	return s.repo.Messages(ctx, applicationID, s.fetchLimit)
}

// participantRole authorizes the principal against the application. Only a
// missing application maps to ErrNotFound; a directory outage surfaces as
// the wrapped store error.
func (s *Service) participantRole(ctx context.Context, p auth.Principal, applicationID string) (string, apps.Participants, error) {
	parts, err := s.directory.Participants(ctx, applicationID)
	if errors.Is(err, apps.ErrUnknownApplication) {
		return "", apps.Participants{}, ErrNotFound
	}
	if err != nil {
		return "", apps.Participants{}, fmt.Errorf("chat: participant lookup %s: %w", applicationID, err)
	}
	role := parts.RoleOf(p.UserID)
	if role == "" || role != p.Role {
		return "", apps.Participants{}, ErrUnauthorized
	}
	return role, parts, nil
}
