// Command client is a reference interview endpoint: it joins the signaling
// room for one application, runs the peer negotiation engine against real
// capture devices, and optionally places the call. Intended for manual
// end-to-end testing against a running api process.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"interview-platform/internal/calls"
	"interview-platform/internal/rtc"
	"interview-platform/pkg/logger"
)

type options struct {
	server        string
	token         string
	applicationID string
	callType      string
	role          string
	place         bool
	env           string
}

func main() {
	var opts options
	flag.StringVar(&opts.server, "server", "http://localhost:8080", "api base url")
	flag.StringVar(&opts.token, "token", "", "access token (required)")
	flag.StringVar(&opts.applicationID, "application", "", "application id (required)")
	flag.StringVar(&opts.callType, "call-type", "video", "video or audio")
	flag.StringVar(&opts.role, "role", "", "side this client plays: provider or seeker (required)")
	flag.BoolVar(&opts.place, "place-call", false, "start the call after joining the room")
	flag.StringVar(&opts.env, "env", "development", "log environment")
	flag.Parse()

	log := logger.New(opts.env)
	slog.SetDefault(log)

	if opts.token == "" || opts.applicationID == "" || opts.role == "" {
		log.Error("-token, -application and -role are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, opts); err != nil {
		log.Error("client exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, opts options) error {
	iceServers, err := fetchICEServers(ctx, opts)
	if err != nil {
		return fmt.Errorf("fetch ice servers: %w", err)
	}
	log.Info("ice servers resolved", "count", len(iceServers))

	peer, media, err := rtc.NewPeerSession(rtc.SessionConfig{
		ICEServers: iceServers,
		CallType:   calls.CallType(opts.callType),
		Log:        log,
	})
	if err != nil {
		return fmt.Errorf("build peer session: %w", err)
	}

	var engine *rtc.Engine
	ws, err := rtc.NewWSClient(rtc.WSClientConfig{
		URL:           wsURL(opts),
		ApplicationID: opts.applicationID,
		Log:           log,
		OnEvent: func(event string, data json.RawMessage) {
			engine.Deliver(event, data)
		},
	})
	if err != nil {
		return fmt.Errorf("build ws client: %w", err)
	}
	defer ws.Close()

	terminal := make(chan struct{})
	var terminalOnce sync.Once
	var connectedAt time.Time
	engine = rtc.NewEngine(peer, media, ws, rtc.Options{
		Log:  log,
		Role: opts.role,
		OnStateChange: func(u rtc.Update) {
			switch u.State {
			case rtc.StateConnected:
				connectedAt = u.At
				log.Info("call connected")
			case rtc.StateClosed, rtc.StateFailed:
				if !connectedAt.IsZero() {
					log.Info("call over", "state", string(u.State), "duration", u.At.Sub(connectedAt).Round(time.Second))
				} else {
					log.Info("call over", "state", string(u.State), "err", u.Err)
				}
				terminalOnce.Do(func() { close(terminal) })
			default:
				log.Info("engine state", "state", string(u.State))
			}
		},
	})

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer engine.Close()

	wsDone := make(chan error, 1)
	go func() { wsDone <- ws.Run(ctx) }()

	if opts.place {
		if err := placeCall(ctx, opts); err != nil {
			return fmt.Errorf("place call: %w", err)
		}
		log.Info("call placed, waiting for the other side")
	}

	select {
	case <-ctx.Done():
		return nil
	case <-terminal:
		return nil
	case err := <-wsDone:
		return err
	}
}

func wsURL(opts options) string {
	base := strings.Replace(opts.server, "http", "ws", 1)
	return base + "/ws?access_token=" + url.QueryEscape(opts.token)
}

func fetchICEServers(ctx context.Context, opts options) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.server+"/v1/rtc/ice-servers", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+opts.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	var urls []string
	for _, s := range body.ICEServers {
		urls = append(urls, s.URLs...)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("server returned no ice servers")
	}
	return urls, nil
}

func placeCall(ctx context.Context, opts options) error {
	payload, err := json.Marshal(map[string]string{"call_type": opts.callType})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/v1/applications/%s/call/start", opts.server, url.PathEscape(opts.applicationID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+opts.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
