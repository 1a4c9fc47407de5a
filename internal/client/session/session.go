package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/client/media"
	"github.com/vantu-dev/pairlink/internal/client/quality"
	"github.com/vantu-dev/pairlink/internal/client/record"
	"github.com/vantu-dev/pairlink/internal/signal"
)

// State tracks where a call is in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingPeer
	StateOffering
	StateAnswering
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPeer:
		return "awaiting-peer"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotIdle       = errors.New("session already joined a room")
	ErrSessionClosed = errors.New("session is closed")
	ErrRoomRejected  = errors.New("room rejected the join")
)

// Signaler sends envelopes toward the relay. *signaling.Client satisfies it.
type Signaler interface {
	Send(msg *signal.Message) error
}

// Transport is one peer connection. CreateAnswer and ApplyAnswer install the
// remote description as a side effect; candidates may only be added after
// one of them succeeded.
type Transport interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	AddCandidate(candidate webrtc.ICECandidateInit) error
	VideoSender() media.TrackSender
	Stats() (quality.Metrics, error)
	Close() error
}

// TransportEvents are delivered from transport-owned goroutines; the session
// serializes them internally.
type TransportEvents struct {
	OnCandidate       func(candidate webrtc.ICECandidateInit)
	OnConnectionState func(state webrtc.PeerConnectionState)
}

// TransportFactory builds a fresh peer connection carrying the given local
// tracks. Called at join time and again after a peer departs.
type TransportFactory func(events TransportEvents, tracks []webrtc.TrackLocal) (Transport, error)

// Config wires a session together. NewMedia runs at Join; when it fails the
// session stays idle so the caller can retry with different devices.
type Config struct {
	RoomID   string
	UserID   string
	Username string

	Signaler     Signaler
	NewTransport TransportFactory
	NewMedia     func() (*media.Pipeline, error)

	// AudioTrack is optional; video-only sessions leave it nil.
	AudioTrack webrtc.TrackLocal

	// Recorder is optional. The session stops an active recording during
	// teardown.
	Recorder *record.Recorder

	QualityInterval time.Duration

	OnStateChange func(state State)
	OnQuality     func(sample quality.Sample)
	OnChat        func(chat signal.ChatPayload)
	OnPeerJoined  func(userID string)
	OnPeerLeft    func(userID string)

	// OnRemoteScreenShare is advisory UI state; media keeps flowing on the
	// same track either way.
	OnRemoteScreenShare func(active bool)
}

// Session is one end of a two-party call: it drives the signaling exchange,
// owns the peer connection, the media pipeline, the quality monitor, and the
// recorder shutdown.
type Session struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	state        State
	closed       bool
	transport    Transport
	transportGen int
	pipeline     *media.Pipeline
	monitor      *quality.Monitor
	remoteReady  bool
	pendingCands []webrtc.ICECandidateInit
	hangupOnce   sync.Once
	leaveOnce    sync.Once

	// stateCh feeds a single dispatcher goroutine so OnStateChange observes
	// transitions in the order they happened. Nil when no callback is set.
	stateCh chan State
}

func New(cfg Config) (*Session, error) {
	if cfg.RoomID == "" || cfg.UserID == "" {
		return nil, errors.New("session requires a room id and a user id")
	}
	if cfg.Signaler == nil || cfg.NewTransport == nil || cfg.NewMedia == nil {
		return nil, errors.New("session requires a signaler, a transport factory and a media factory")
	}

	s := &Session{
		cfg: cfg,
		log: slog.With(slog.String(constant.RoomID, cfg.RoomID), slog.String(constant.UserID, cfg.UserID)),
	}
	if cfg.OnStateChange != nil {
		s.stateCh = make(chan State, 16)
		go func(states <-chan State) {
			for state := range states {
				cfg.OnStateChange(state)
			}
		}(s.stateCh)
	}
	return s, nil
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pipeline exposes the media pipeline for source switching. Nil until Join
// succeeded.
func (s *Session) Pipeline() *media.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// Join acquires media, builds the peer connection, and asks the relay for a
// seat in the room. On media failure nothing is sent and the session stays
// idle.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.state != StateIdle {
		return ErrNotIdle
	}

	pipeline, err := s.cfg.NewMedia()
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	transport, err := s.newTransportLocked(pipeline)
	if err != nil {
		_ = pipeline.Close()
		return err
	}

	s.pipeline = pipeline
	s.transport = transport

	if err := s.send(signal.TypeJoinRoom, nil); err != nil {
		_ = transport.Close()
		_ = pipeline.Close()
		s.pipeline = nil
		s.transport = nil
		return err
	}

	s.setStateLocked(StateAwaitingPeer)
	return nil
}

func (s *Session) newTransportLocked(pipeline *media.Pipeline) (Transport, error) {
	tracks := []webrtc.TrackLocal{pipeline.CameraTrack()}
	if s.cfg.AudioTrack != nil {
		tracks = append(tracks, s.cfg.AudioTrack)
	}

	// Events are bound to this transport's generation so a replaced
	// transport cannot tear down its successor with a late disconnect.
	s.transportGen++
	gen := s.transportGen
	events := TransportEvents{
		OnCandidate: s.sendCandidate,
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			s.connectionStateChanged(gen, state)
		},
	}

	transport, err := s.cfg.NewTransport(events, tracks)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	if sender := transport.VideoSender(); sender != nil {
		pipeline.AttachSender(sender)
	}

	return transport, nil
}

// Handle dispatches one relay message. Messages echoing the session's own
// user id are dropped; the relay should never produce them, the guard is
// against misbehaving peers.
func (s *Session) Handle(ctx context.Context, msg *signal.Message) error {
	if msg.Sender == s.cfg.UserID {
		return nil
	}

	switch msg.Type {
	case signal.TypeUserConnected:
		return s.handlePeerConnected(ctx, msg)
	case signal.TypeOffer:
		return s.handleOffer(ctx, msg)
	case signal.TypeAnswer:
		return s.handleAnswer(ctx, msg)
	case signal.TypeICECandidate:
		return s.handleCandidate(msg)
	case signal.TypeUserDisconnected, signal.TypeLeave:
		return s.handlePeerLeft(msg)
	case signal.TypeChatMessage:
		return s.handleChat(msg)
	case signal.TypeScreenShareStart:
		s.notifyRemoteScreenShare(true)
		return nil
	case signal.TypeScreenShareStop:
		s.notifyRemoteScreenShare(false)
		return nil
	case signal.TypeError:
		return s.handleError(msg)
	default:
		s.log.Debug("ignoring unknown message", slog.String("type", msg.Type))
		return nil
	}
}

// handlePeerConnected fires on the side that was already in the room; that
// side initiates the offer.
func (s *Session) handlePeerConnected(ctx context.Context, msg *signal.Message) error {
	var presence signal.PresencePayload
	if err := msg.UnmarshalData(&presence); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateAwaitingPeer || s.transport == nil {
		s.mu.Unlock()
		s.log.Debug("peer announcement outside awaiting state", slog.String(constant.State, s.state.String()))
		return nil
	}
	transport := s.transport
	s.setStateLocked(StateOffering)
	s.mu.Unlock()

	if s.cfg.OnPeerJoined != nil {
		s.cfg.OnPeerJoined(presence.UserID)
	}

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		s.fail(fmt.Errorf("create offer: %w", err))
		return err
	}

	return s.send(signal.TypeOffer, signal.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP})
}

func (s *Session) handleOffer(ctx context.Context, msg *signal.Message) error {
	var sdp signal.SDPPayload
	if err := msg.UnmarshalData(&sdp); err != nil {
		return err
	}

	s.mu.Lock()
	if s.transport == nil {
		s.mu.Unlock()
		return errors.New("offer before join")
	}
	transport := s.transport
	s.setStateLocked(StateAnswering)
	s.mu.Unlock()

	answer, err := transport.CreateAnswer(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp.SDP,
	})
	if err != nil {
		s.fail(fmt.Errorf("create answer: %w", err))
		return err
	}

	if err := s.send(signal.TypeAnswer, signal.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}); err != nil {
		return err
	}

	s.flushCandidates(transport)
	return nil
}

func (s *Session) handleAnswer(ctx context.Context, msg *signal.Message) error {
	var sdp signal.SDPPayload
	if err := msg.UnmarshalData(&sdp); err != nil {
		return err
	}

	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return errors.New("answer before join")
	}

	if err := transport.ApplyAnswer(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp.SDP,
	}); err != nil {
		s.fail(fmt.Errorf("apply answer: %w", err))
		return err
	}

	s.flushCandidates(transport)
	return nil
}

// handleCandidate buffers candidates that race ahead of the remote
// description and replays them in arrival order once it lands.
func (s *Session) handleCandidate(msg *signal.Message) error {
	var payload signal.CandidatePayload
	if err := msg.UnmarshalData(&payload); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.remoteReady || s.transport == nil {
		s.pendingCands = append(s.pendingCands, payload.Candidate)
		s.mu.Unlock()
		return nil
	}
	transport := s.transport
	s.mu.Unlock()

	if err := transport.AddCandidate(payload.Candidate); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// flushCandidates marks the remote description installed and drains the
// buffer in the order candidates arrived.
func (s *Session) flushCandidates(transport Transport) {
	s.mu.Lock()
	s.remoteReady = true
	pending := s.pendingCands
	s.pendingCands = nil
	s.mu.Unlock()

	for _, cand := range pending {
		if err := transport.AddCandidate(cand); err != nil {
			s.log.Warn("flush buffered candidate", slog.Any(constant.Error, err))
		}
	}
}

// handlePeerLeft rebuilds the peer connection and goes back to waiting, so a
// new peer can take the vacated seat.
func (s *Session) handlePeerLeft(msg *signal.Message) error {
	var presence signal.PresencePayload
	if len(msg.Data) > 0 {
		_ = msg.UnmarshalData(&presence)
	}

	s.stopMonitor()
	s.stopRecording()

	s.mu.Lock()
	if s.closed || s.transport == nil {
		s.mu.Unlock()
		return nil
	}

	old := s.transport
	s.transport = nil
	s.remoteReady = false
	s.pendingCands = nil

	fresh, err := s.newTransportLocked(s.pipeline)
	if err == nil {
		s.transport = fresh
		s.setStateLocked(StateAwaitingPeer)
	} else {
		s.setStateLocked(StateFailed)
	}
	s.mu.Unlock()

	_ = old.Close()

	if s.cfg.OnPeerLeft != nil {
		s.cfg.OnPeerLeft(presence.UserID)
	}

	if err != nil {
		return fmt.Errorf("rebuild transport: %w", err)
	}
	return nil
}

func (s *Session) handleChat(msg *signal.Message) error {
	var chat signal.ChatPayload
	if err := msg.UnmarshalData(&chat); err != nil {
		return err
	}
	if s.cfg.OnChat != nil {
		s.cfg.OnChat(chat)
	}
	return nil
}

func (s *Session) handleError(msg *signal.Message) error {
	var payload signal.ErrorPayload
	if err := msg.UnmarshalData(&payload); err != nil {
		return err
	}

	s.fail(fmt.Errorf("%w: %s", ErrRoomRejected, payload.Message))
	return fmt.Errorf("%w: %s", ErrRoomRejected, payload.Message)
}

func (s *Session) notifyRemoteScreenShare(active bool) {
	if s.cfg.OnRemoteScreenShare != nil {
		s.cfg.OnRemoteScreenShare(active)
	}
}

// HandleConnectionState reacts to transport connectivity. Connected starts
// the quality monitor; disconnected and failed tear the session down.
func (s *Session) HandleConnectionState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	gen := s.transportGen
	s.mu.Unlock()
	s.connectionStateChanged(gen, state)
}

func (s *Session) connectionStateChanged(gen int, state webrtc.PeerConnectionState) {
	s.mu.Lock()
	stale := gen != s.transportGen
	s.mu.Unlock()
	if stale {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		// The transport may report connected more than once; the previous
		// monitor must stop before a new one takes over the transport.
		s.stopMonitor()

		s.mu.Lock()
		transport := s.transport
		if transport == nil || s.closed {
			s.mu.Unlock()
			return
		}
		s.setStateLocked(StateConnected)
		monitor := quality.NewMonitor(transport, s.cfg.QualityInterval)
		s.monitor = monitor
		s.mu.Unlock()

		monitor.Start(func(sample quality.Sample) {
			if s.cfg.OnQuality != nil {
				s.cfg.OnQuality(sample)
			}
		})
	case webrtc.PeerConnectionStateDisconnected:
		s.log.Warn("transport disconnected")
		s.terminate(StateDisconnected)
	case webrtc.PeerConnectionStateFailed:
		s.fail(errors.New("peer connection failed"))
	}
}

// SendChat relays a chat line. The server persists it before forwarding.
func (s *Session) SendChat(text string) error {
	return s.send(signal.TypeChatMessage, signal.ChatPayload{
		UserID:   s.cfg.UserID,
		Username: s.cfg.Username,
		Text:     text,
	})
}

// StartScreenShare swaps the outbound track to display capture and tells the
// peer, for UI only.
func (s *Session) StartScreenShare() error {
	s.mu.Lock()
	pipeline := s.pipeline
	s.mu.Unlock()
	if pipeline == nil {
		return ErrSessionClosed
	}

	if err := pipeline.SwitchTo(media.SourceScreen); err != nil {
		return err
	}
	return s.send(signal.TypeScreenShareStart, nil)
}

// StopScreenShare restores the camera track.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	pipeline := s.pipeline
	s.mu.Unlock()
	if pipeline == nil {
		return ErrSessionClosed
	}

	if err := pipeline.SwitchTo(media.SourceCamera); err != nil {
		return err
	}
	return s.send(signal.TypeScreenShareStop, nil)
}

// StartRecording begins capturing the composited call.
func (s *Session) StartRecording() error {
	if s.cfg.Recorder == nil {
		return record.ErrUnsupportedFormat
	}
	return s.cfg.Recorder.Start()
}

// StopRecording finishes the active recording and returns its artifact.
func (s *Session) StopRecording() (*record.Artifact, error) {
	if s.cfg.Recorder == nil {
		return nil, record.ErrNotRecording
	}
	return s.cfg.Recorder.Stop()
}

// Hangup leaves the room and releases everything the session owns. Exactly
// one leave goes out no matter how many paths converge here.
func (s *Session) Hangup() {
	s.hangupOnce.Do(func() {
		s.mu.Lock()
		alreadyClosed := s.closed
		alreadyIdle := s.state == StateIdle && s.transport == nil
		s.closed = true
		s.mu.Unlock()

		// A failed session already tore down; hangup must not revive it.
		if alreadyClosed {
			return
		}

		if !alreadyIdle {
			s.sendLeave()
		}

		s.teardown(StateIdle)
	})
}

// sendLeave notifies the relay at most once, no matter how many teardown
// paths race here.
func (s *Session) sendLeave() {
	s.leaveOnce.Do(func() {
		if err := s.send(signal.TypeLeave, nil); err != nil {
			s.log.Warn("send leave", slog.Any(constant.Error, err))
		}
	})
}

// fail is the terminal error path: release everything, land in failed.
func (s *Session) fail(err error) {
	s.log.Error("session failed", slog.Any(constant.Error, err))
	s.terminate(StateFailed)
}

// terminate handles transport loss: notify the relay once, release
// everything, land in final. Idempotent against racing teardown paths.
func (s *Session) terminate(final State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	hadJoined := s.transport != nil
	s.closed = true
	s.mu.Unlock()

	if hadJoined {
		s.sendLeave()
	}

	s.teardown(final)
}

func (s *Session) teardown(final State) {
	s.stopMonitor()
	s.stopRecording()

	s.mu.Lock()
	transport := s.transport
	pipeline := s.pipeline
	s.transport = nil
	s.pipeline = nil
	s.remoteReady = false
	s.pendingCands = nil
	s.setStateLocked(final)
	if s.stateCh != nil {
		close(s.stateCh)
		s.stateCh = nil
	}
	s.mu.Unlock()

	if transport != nil {
		if err := transport.Close(); err != nil {
			s.log.Warn("close transport", slog.Any(constant.Error, err))
		}
	}
	if pipeline != nil {
		if err := pipeline.Close(); err != nil {
			s.log.Warn("close media pipeline", slog.Any(constant.Error, err))
		}
	}
}

func (s *Session) stopMonitor() {
	s.mu.Lock()
	monitor := s.monitor
	s.monitor = nil
	s.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
}

func (s *Session) stopRecording() {
	if s.cfg.Recorder == nil || !s.cfg.Recorder.Recording() {
		return
	}
	if _, err := s.cfg.Recorder.Stop(); err != nil && !errors.Is(err, record.ErrNotRecording) {
		s.log.Warn("stop recording", slog.Any(constant.Error, err))
	}
}

func (s *Session) sendCandidate(candidate webrtc.ICECandidateInit) {
	if err := s.send(signal.TypeICECandidate, signal.CandidatePayload{Candidate: candidate}); err != nil {
		s.log.Warn("send candidate", slog.Any(constant.Error, err))
	}
}

func (s *Session) send(msgType string, payload any) error {
	msg, err := signal.New(msgType, s.cfg.RoomID, s.cfg.UserID, payload)
	if err != nil {
		return err
	}
	return s.cfg.Signaler.Send(msg)
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	s.log.Info("session state changed", slog.String(constant.State, state.String()))

	if s.stateCh != nil {
		s.stateCh <- state
	}
}
