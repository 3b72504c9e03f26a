package media

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/parlorvoice/parlor/internal/util"
)

// Sink renders one remote participant's audio. The playback device lives
// behind this interface.
type Sink interface {
	// Play consumes one RTP packet of remote audio.
	Play(pkt *rtp.Packet) error

	// Close releases the playback resource for this participant.
	Close() error
}

// SinkFactory creates a Sink for a remote participant when its first track
// arrives.
type SinkFactory func(participant string) Sink

// PlayTrack pumps RTP packets from a remote track into sink until the track
// ends or ctx is cancelled. The sink is closed on the way out, so playback
// resources never outlive the peer link.
func PlayTrack(ctx context.Context, track *webrtc.TrackRemote, sink Sink) {
	defer func() {
		if err := sink.Close(); err != nil {
			util.LogWarning("sink: close: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("sink: read track: %v", err)
			}
			return
		}
		if err := sink.Play(pkt); err != nil {
			util.LogDebug("sink: play: %v", err)
			return
		}
	}
}

// DiscardSink drops all audio. It stands in when no playback device
// integration is wired.
type DiscardSink struct{}

func (DiscardSink) Play(*rtp.Packet) error { return nil }
func (DiscardSink) Close() error           { return nil }
