// Package media defines the audio capture and playback capabilities the
// client consumes. Device I/O lives behind the Source and Sink interfaces;
// this package owns the track plumbing and the push-to-talk gate.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/parlorvoice/parlor/internal/util"
)

// FrameDuration is the audio frame cadence fed into the outgoing track.
const FrameDuration = 20 * time.Millisecond

// Source produces encoded audio frames from a capture device.
type Source interface {
	// Open claims the device. It fails when the device is unavailable or
	// access is denied.
	Open() error

	// ReadFrame blocks until the next encoded frame is available.
	ReadFrame() (media.Sample, error)

	// Close releases the device. Safe to call after a failed Open.
	Close() error
}

// Capture is the local capture capability the connection supervisor
// consumes: a scoped device acquisition plus a mute gate on the outgoing
// track.
type Capture interface {
	// Acquire claims the device and starts feeding the outgoing track,
	// muted. Failure means no device; the caller must abort its join.
	Acquire(ctx context.Context) error

	// Release stops the feed and returns the device. Idempotent.
	Release()

	// SetEnabled opens or closes the mute gate on the outgoing track.
	SetEnabled(enabled bool)

	// Track is the outgoing audio track to attach to every peer link.
	Track() webrtc.TrackLocal
}

// SampleCapture pumps frames from a Source into a TrackLocalStaticSample.
// While the gate is closed frames are read and discarded, keeping the
// device draining without emitting audio.
type SampleCapture struct {
	source  Source
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool

	mu       sync.Mutex
	acquired bool
	cancel   context.CancelFunc
}

// NewSampleCapture creates a capture around the given source. The track is
// created eagerly so it can be attached to peer links before Acquire.
func NewSampleCapture(source Source) (*SampleCapture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "parlor",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &SampleCapture{source: source, track: track}, nil
}

// Acquire claims the device, mutes the gate, and starts the pump goroutine.
func (c *SampleCapture) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acquired {
		return errors.New("capture already acquired")
	}
	if err := c.source.Open(); err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}

	c.enabled.Store(false)

	pumpCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.acquired = true
	go c.pump(pumpCtx)

	return nil
}

// Release stops the pump and closes the device. Safe on every teardown path,
// including repeated calls.
func (c *SampleCapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acquired {
		return
	}
	c.cancel()
	if err := c.source.Close(); err != nil {
		util.LogWarning("capture: close device: %v", err)
	}
	c.acquired = false
}

// SetEnabled toggles the push-to-talk gate.
func (c *SampleCapture) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Track returns the outgoing audio track.
func (c *SampleCapture) Track() webrtc.TrackLocal {
	return c.track
}

// pump moves frames from the source to the track until the context ends.
// Frame read errors end the pump; the session-level teardown releases the
// device.
func (c *SampleCapture) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sample, err := c.source.ReadFrame()
		if err != nil {
			util.LogWarning("capture: read frame: %v", err)
			return
		}
		if !c.enabled.Load() {
			continue
		}
		if err := c.track.WriteSample(sample); err != nil {
			util.LogDebug("capture: write sample: %v", err)
		}
	}
}

// SilenceSource is a Source that produces silent frames at the standard
// cadence. It stands in when no capture device integration is wired, keeping
// the negotiation and track plumbing fully functional.
type SilenceSource struct {
	closed atomic.Bool
}

// Open claims nothing; silence is always available.
func (s *SilenceSource) Open() error {
	s.closed.Store(false)
	return nil
}

func (s *SilenceSource) ReadFrame() (media.Sample, error) {
	if s.closed.Load() {
		return media.Sample{}, errors.New("source closed")
	}
	time.Sleep(FrameDuration)
	return media.Sample{Data: make([]byte, 3), Duration: FrameDuration}, nil
}

func (s *SilenceSource) Close() error {
	s.closed.Store(true)
	return nil
}
