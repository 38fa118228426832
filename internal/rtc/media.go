package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	// Driver registration; capture fails silently without these.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"

	"interview-platform/internal/calls"
)

const (
	iceDisconnectedTimeout = 10 * time.Second
	iceFailedTimeout       = 30 * time.Second
	iceKeepaliveInterval   = 2 * time.Second

	videoBitRate = 1_500_000
	audioBitRate = 32_000
)

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = videoBitRate
	vpxParams.KeyFrameInterval = 15

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	opusParams.BitRate = audioBitRate
	opusParams.Latency = opus.Latency20ms

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// captureSource is the pion-backed MediaSource. It owns the local tracks
// and the video RTP sender used for screen share swaps.
type captureSource struct {
	pc       *webrtc.PeerConnection
	selector *mediadevices.CodecSelector
	callType calls.CallType
	log      *slog.Logger

	tracks      []mediadevices.Track
	cameraTrack mediadevices.Track
	videoSender *webrtc.RTPSender
	screenTrack mediadevices.Track
}

func (c *captureSource) Acquire(ctx context.Context) error {
	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
	if c.callType == calls.CallTypeVideo {
		constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
			// MJPEG camera nodes can emit malformed frames that poison the
			// VP8 encoder; raw formats only.
			mt.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatRGBA,
			}
			mt.Width = prop.IntRanged{Max: 1280}
			mt.Height = prop.IntRanged{Max: 720}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}
	if err := ctx.Err(); err != nil {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return err
	}

	for _, track := range stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				c.log.Warn("local track ended", "kind", track.Kind().String(), "err", err)
			}
		})
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			c.release()
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		c.tracks = append(c.tracks, track)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			c.cameraTrack = track
			c.videoSender = sender
		}
	}

	c.log.Info("local media captured", "call_type", string(c.callType), "tracks", len(c.tracks))
	return nil
}

// StartScreenCapture swaps the outgoing video to a display track via
// ReplaceTrack; no renegotiation round-trip. The camera stays open so
// StopScreenCapture restores it instantly.
func (c *captureSource) StartScreenCapture() error {
	if c.videoSender == nil {
		return errors.New("no video sender on this call")
	}
	if c.screenTrack != nil {
		return nil
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Codec: c.selector,
		Video: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}

	videos := stream.GetVideoTracks()
	if len(videos) == 0 {
		return errors.New("display capture produced no video track")
	}
	track := videos[0]

	if err := c.videoSender.ReplaceTrack(track); err != nil {
		track.Close()
		return fmt.Errorf("replace track with screen: %w", err)
	}
	c.screenTrack = track
	return nil
}

func (c *captureSource) StopScreenCapture() error {
	if c.screenTrack == nil {
		return ErrNotSharingScreen
	}
	if err := c.videoSender.ReplaceTrack(c.cameraTrack); err != nil {
		return fmt.Errorf("restore camera track: %w", err)
	}
	if err := c.screenTrack.Close(); err != nil {
		c.log.Warn("screen track close", "err", err)
	}
	c.screenTrack = nil
	return nil
}

func (c *captureSource) Release() { c.release() }

func (c *captureSource) release() {
	if c.screenTrack != nil {
		_ = c.screenTrack.Close()
		c.screenTrack = nil
	}
	for _, t := range c.tracks {
		_ = t.Close()
	}
	c.tracks = nil
	c.cameraTrack = nil
	c.videoSender = nil
}
