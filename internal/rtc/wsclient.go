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
	"github.com/gorilla/websocket"

	"interview-platform/internal/signaling"
)

// ErrSignalingOffline means the websocket is between reconnect attempts.
// Outbound signals are not queued; the peers resync from the next event.
var ErrSignalingOffline = errors.New("rtc: signaling connection down")

const (
	wsWriteWait   = 10 * time.Second
	wsHandshake   = 10 * time.Second
	wsMaxInterval = 30 * time.Second
)

// WSClientConfig configures the signaling connection for one interview.
type WSClientConfig struct {
	// URL is the full ws endpoint including the access_token query param.
	URL           string
	ApplicationID string
	Log           *slog.Logger
	// OnEvent receives every envelope from the room. Called from the read
	// goroutine; implementations must not block.
	OnEvent func(event string, data json.RawMessage)
}

// WSClient maintains the room websocket with backoff reconnects. It rejoins
// the interview room after every reconnect; while down, no signaling flows
// and the persisted call state is untouched.
type WSClient struct {
	cfg WSClientConfig
	log *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	done chan struct{}
	once sync.Once
}

func NewWSClient(cfg WSClientConfig) (*WSClient, error) {
	if cfg.URL == "" || cfg.ApplicationID == "" {
		return nil, errors.New("rtc: ws client needs url and application id")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &WSClient{
		cfg:  cfg,
		log:  cfg.Log.With("component", "rtc_ws", "application_id", cfg.ApplicationID),
		done: make(chan struct{}),
	}, nil
}

// Run dials, joins the room, and pumps inbound envelopes until ctx is
// cancelled or Close is called. Reconnects with exponential backoff.
func (c *WSClient) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = wsMaxInterval
	bo.MaxElapsedTime = 0

	dialer := &websocket.Dialer{HandshakeTimeout: wsHandshake}

	for {
		if err := c.stopped(ctx); err != nil {
			if errors.Is(err, errClientClosed) {
				return nil
			}
			return err
		}

		conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			wait := bo.NextBackOff()
			c.log.Warn("signaling dial failed", "wait", wait, "err", err)
			if err := c.sleep(ctx, wait); err != nil {
				if errors.Is(err, errClientClosed) {
					return nil
				}
				return err
			}
			continue
		}
		bo.Reset()
		c.setConn(conn)

		if err := c.Signal(signaling.EventJoinRoom, joinPayload{ApplicationID: c.cfg.ApplicationID}); err != nil {
			c.log.Warn("room join failed", "err", err)
			c.dropConn()
			continue
		}
		c.log.Info("signaling connected")

		c.readLoop(conn)
		c.dropConn()
		c.log.Info("signaling connection lost, reconnecting")
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env signaling.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("malformed envelope", "err", err)
			continue
		}
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(env.Event, env.Data)
		}
	}
}

// Signal implements Signaler. Not retried; negotiation recovers from the
// next inbound event once the connection is back.
func (c *WSClient) Signal(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrSignalingOffline
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(signaling.Envelope{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Close ends the connection permanently; Run returns.
func (c *WSClient) Close() {
	c.once.Do(func() {
		close(c.done)
		c.dropConn()
	})
}

func (c *WSClient) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *WSClient) dropConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *WSClient) stopped(ctx context.Context) error {
	select {
	case <-c.done:
		return errClientClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (c *WSClient) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errClientClosed
	}
}

var errClientClosed = errors.New("rtc: ws client closed")

type joinPayload struct {
	ApplicationID string `json:"applicationId"`
}
