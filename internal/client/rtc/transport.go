package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vantu-dev/pairlink/internal/client/media"
	"github.com/vantu-dev/pairlink/internal/client/quality"
	"github.com/vantu-dev/pairlink/internal/client/session"
)

// Config carries the ICE servers fetched from the /ice endpoint.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// Transport wraps one pion PeerConnection behind the session's transport
// contract.
type Transport struct {
	pc          *webrtc.PeerConnection
	videoSender *webrtc.RTPSender
}

// Factory adapts NewTransport to the session's factory signature. onTrack
// receives remote media; nil is fine for callers that only signal.
func Factory(cfg Config, onTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) session.TransportFactory {
	return func(events session.TransportEvents, tracks []webrtc.TrackLocal) (session.Transport, error) {
		return NewTransport(cfg, events, tracks, onTrack)
	}
}

func NewTransport(cfg Config, events session.TransportEvents, tracks []webrtc.TrackLocal, onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) (*Transport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &Transport{pc: pc}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo && t.videoSender == nil {
			t.videoSender = sender
		}
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering; nothing to relay for it.
		if candidate == nil || events.OnCandidate == nil {
			return
		}
		events.OnCandidate(candidate.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if events.OnConnectionState != nil {
			events.OnConnectionState(state)
		}
	})

	if onTrack != nil {
		pc.OnTrack(onTrack)
	}

	return t, nil
}

func (t *Transport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

func (t *Transport) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (t *Transport) ApplyAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (t *Transport) AddCandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *Transport) VideoSender() media.TrackSender {
	if t.videoSender == nil {
		return nil
	}
	return t.videoSender
}

// Stats maps pion's report onto the classifier's inputs: inbound video for
// loss and jitter, the succeeded candidate pair for round-trip time.
func (t *Transport) Stats() (quality.Metrics, error) {
	var m quality.Metrics

	for _, entry := range t.pc.GetStats() {
		switch stats := entry.(type) {
		case webrtc.InboundRTPStreamStats:
			if stats.Kind != "video" {
				continue
			}
			m.PacketsReceived = uint64(stats.PacketsReceived)
			if stats.PacketsLost > 0 {
				m.PacketsLost = uint64(stats.PacketsLost)
			}
			m.Jitter = time.Duration(stats.Jitter * float64(time.Second))
		case webrtc.ICECandidatePairStats:
			if stats.State == webrtc.StatsICECandidatePairStateSucceeded {
				m.RTT = time.Duration(stats.CurrentRoundTripTime * float64(time.Second))
			}
		}
	}

	return m, nil
}

func (t *Transport) Close() error {
	return t.pc.Close()
}
