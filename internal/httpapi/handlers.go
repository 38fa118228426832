package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"interview-platform/internal/auth"
	"interview-platform/internal/calls"
	"interview-platform/internal/chat"
	"interview-platform/internal/config"
	"interview-platform/pkg/utils"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Calls *calls.Service
	Chat  *chat.Service
	ICE   config.ICEConfig
	DB    *sql.DB
	Redis *redis.Client
}

const healthTimeout = 2 * time.Second

// --- Health ---

func (h Handlers) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	status := gin.H{"status": "ok"}
	code := http.StatusOK

	if h.DB != nil {
		if err := utils.HealthCheck(ctx, h.DB, healthTimeout); err != nil {
			status["postgres"] = "down"
			code = http.StatusServiceUnavailable
		} else {
			status["postgres"] = "up"
		}
	}
	if h.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		defer cancel()
		if err := h.Redis.Ping(pingCtx).Err(); err != nil {
			status["redis"] = "down"
			code = http.StatusServiceUnavailable
		} else {
			status["redis"] = "up"
		}
	}
	if code != http.StatusOK {
		status["status"] = "degraded"
	}
	c.JSON(code, status)
}

// --- Calls ---

type startCallRequest struct {
	CallType string `json:"call_type"`
}

type rejectCallRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) StartCall(c *gin.Context) {
	p, appID, ok := h.principalAndApp(c)
	if !ok {
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess, err := h.Calls.Start(c.Request.Context(), p, appID, calls.CallType(req.CallType))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	p, appID, ok := h.principalAndApp(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Accept(c.Request.Context(), p, appID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) RejectCall(c *gin.Context) {
	p, appID, ok := h.principalAndApp(c)
	if !ok {
		return
	}
	var req rejectCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	sess, err := h.Calls.Reject(c.Request.Context(), p, appID, req.Reason)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) EndCall(c *gin.Context) {
	p, appID, ok := h.principalAndApp(c)
	if !ok {
		return
	}
	sess, err := h.Calls.End(c.Request.Context(), p, appID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) GetCall(c *gin.Context) {
	p, appID, ok := h.principalAndApp(c)
	if !ok {
		return
	}
	sess, err := h.Calls.Status(c.Request.Context(), p, appID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// --- Chat ---

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (h Handlers) SendChatMessage(c *gin.Context) {
	p, appID, ok := h.principalAndApp(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	msg, err := h.Chat.Send(c.Request.Context(), p, appID, req.Text)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h Handlers) FetchChatMessages(c *gin.Context) {
	p, appID, ok := h.principalAndApp(c)
	if !ok {
		return
	}
	msgs, err := h.Chat.Fetch(c.Request.Context(), p, appID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// --- RTC ---

// ICEServers hands clients the STUN/TURN set before they build a peer
// connection. TURN credentials come from config, never minted per call.
func (h Handlers) ICEServers(c *gin.Context) {
	servers := []gin.H{{"urls": h.ICE.STUNURLs}}
	if h.ICE.TURNURL != "" {
		servers = append(servers, gin.H{
			"urls":       []string{h.ICE.TURNURL},
			"username":   h.ICE.TURNUsername,
			"credential": h.ICE.TURNPassword,
		})
	}
	c.JSON(http.StatusOK, gin.H{"iceServers": servers})
}

// --- Shared plumbing ---

func (h Handlers) principalAndApp(c *gin.Context) (auth.Principal, string, bool) {
	p, err := auth.PrincipalFrom(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return auth.Principal{}, "", false
	}
	appID := c.Param("id")
	if appID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "application id required"})
		return auth.Principal{}, "", false
	}
	return p, appID, true
}

func abortWithServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound), errors.Is(err, chat.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrUnauthorized), errors.Is(err, chat.ErrUnauthorized):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant of this application"})
	case errors.Is(err, calls.ErrRateLimited), errors.Is(err, chat.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, chat.ErrInvalidArgument), errors.Is(err, chat.ErrEmptyMessage):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
