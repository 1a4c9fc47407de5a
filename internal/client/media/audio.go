package media

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RTPSource yields encoded audio packets ready for the wire, one per call.
// Implementations return io.EOF when the underlying capture ends.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, error)
	Close() error
}

// AudioSender pumps packets from an RTPSource into the outbound Opus track.
// Audio has no switching story; the track lives for the whole call.
type AudioSender struct {
	track  *webrtc.TrackLocalStaticRTP
	source RTPSource

	enabled  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func NewAudioSender(source RTPSource) (*AudioSender, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "pairlink",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	s := &AudioSender{
		track:  track,
		source: source,
		done:   make(chan struct{}),
	}
	s.enabled.Store(true)
	go s.pump()
	return s, nil
}

func (s *AudioSender) Track() webrtc.TrackLocal { return s.track }

// SetEnabled mutes or unmutes the microphone. The pump keeps draining the
// source while muted so capture timing is undisturbed; packets are dropped
// instead of written.
func (s *AudioSender) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Enabled reports whether the microphone is live.
func (s *AudioSender) Enabled() bool { return s.enabled.Load() }

func (s *AudioSender) pump() {
	defer close(s.done)
	for {
		pkt, err := s.source.ReadRTP()
		if err != nil {
			return
		}
		if !s.enabled.Load() {
			continue
		}
		if err := s.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return
		}
	}
}

func (s *AudioSender) Close() error {
	var err error
	s.stopOnce.Do(func() {
		err = s.source.Close()
		<-s.done
	})
	return err
}
