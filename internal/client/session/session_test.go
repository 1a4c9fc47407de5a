package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantu-dev/pairlink/internal/client/media"
	"github.com/vantu-dev/pairlink/internal/client/quality"
	"github.com/vantu-dev/pairlink/internal/signal"
)

type fakeSignaler struct {
	mu   sync.Mutex
	sent []*signal.Message
}

func (f *fakeSignaler) Send(msg *signal.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignaler) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, msg := range f.sent {
		out[i] = msg.Type
	}
	return out
}

func (f *fakeSignaler) count(msgType string) int {
	n := 0
	for _, t := range f.types() {
		if t == msgType {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	offers     int
	answers    int
	applied    int
	closed     bool
	statsCalls int
}

func (f *fakeTransport) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) ApplyAnswer(context.Context, webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied++
	return nil
}

func (f *fakeTransport) AddCandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeTransport) VideoSender() media.TrackSender { return nil }

func (f *fakeTransport) Stats() (quality.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	return quality.Metrics{PacketsReceived: 100}, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) statsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsCalls
}

func (f *fakeTransport) addedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.candidates...)
}

type fixture struct {
	signaler   *fakeSignaler
	transports []*fakeTransport
	events     []TransportEvents
	mu         sync.Mutex
}

func (fx *fixture) transport(i int) *fakeTransport {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.transports[i]
}

func (fx *fixture) transportEvents(i int) TransportEvents {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.events[i]
}

func (fx *fixture) transportCount() int {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return len(fx.transports)
}

func newTestPipeline(t *testing.T) *media.Pipeline {
	t.Helper()
	camera, err := media.NewCameraSource(media.NewTestPattern(32, 24), media.RawCodec{}, 30)
	require.NoError(t, err)
	p, err := media.NewPipeline(media.PipelineConfig{Camera: camera})
	require.NoError(t, err)
	return p
}

func newTestSession(t *testing.T, mutate func(*Config)) (*Session, *fixture) {
	t.Helper()
	fx := &fixture{signaler: &fakeSignaler{}}

	cfg := Config{
		RoomID:   "room-1",
		UserID:   "alice",
		Username: "Alice",
		Signaler: fx.signaler,
		NewTransport: func(events TransportEvents, tracks []webrtc.TrackLocal) (Transport, error) {
			ft := &fakeTransport{}
			fx.mu.Lock()
			fx.transports = append(fx.transports, ft)
			fx.events = append(fx.events, events)
			fx.mu.Unlock()
			return ft, nil
		},
		NewMedia: func() (*media.Pipeline, error) { return newTestPipeline(t), nil },
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	return s, fx
}

func mustMsg(t *testing.T, msgType, sender string, payload any) *signal.Message {
	t.Helper()
	msg, err := signal.New(msgType, "room-1", sender, payload)
	require.NoError(t, err)
	return msg
}

func TestJoinSendsJoinRoom(t *testing.T) {
	s, fx := newTestSession(t, nil)
	defer s.Hangup()

	require.NoError(t, s.Join(context.Background()))
	assert.Equal(t, StateAwaitingPeer, s.State())
	assert.Equal(t, []string{signal.TypeJoinRoom}, fx.signaler.types())

	assert.ErrorIs(t, s.Join(context.Background()), ErrNotIdle)
}

func TestJoinMediaFailureStaysIdle(t *testing.T) {
	s, fx := newTestSession(t, func(cfg *Config) {
		cfg.NewMedia = func() (*media.Pipeline, error) { return nil, errors.New("no camera") }
	})

	require.Error(t, s.Join(context.Background()))
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, fx.signaler.types(), "nothing reaches the relay on media failure")
}

func TestPeerConnectedTriggersOffer(t *testing.T) {
	s, fx := newTestSession(t, nil)
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	msg := mustMsg(t, signal.TypeUserConnected, "bob", signal.PresencePayload{UserID: "bob"})
	require.NoError(t, s.Handle(context.Background(), msg))

	assert.Equal(t, StateOffering, s.State())
	assert.Equal(t, 1, fx.transport(0).offers)
	assert.Equal(t, 1, fx.signaler.count(signal.TypeOffer))
}

func TestOfferProducesAnswer(t *testing.T) {
	s, fx := newTestSession(t, nil)
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	offer := mustMsg(t, signal.TypeOffer, "bob", signal.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, s.Handle(context.Background(), offer))

	assert.Equal(t, StateAnswering, s.State())
	assert.Equal(t, 1, fx.transport(0).answers)
	assert.Equal(t, 1, fx.signaler.count(signal.TypeAnswer))
}

func TestCandidatesBufferUntilRemoteDescription(t *testing.T) {
	s, fx := newTestSession(t, nil)
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	first := webrtc.ICECandidateInit{Candidate: "candidate:1"}
	second := webrtc.ICECandidateInit{Candidate: "candidate:2"}

	require.NoError(t, s.Handle(context.Background(), mustMsg(t, signal.TypeICECandidate, "bob", signal.CandidatePayload{Candidate: first})))
	require.NoError(t, s.Handle(context.Background(), mustMsg(t, signal.TypeICECandidate, "bob", signal.CandidatePayload{Candidate: second})))
	assert.Empty(t, fx.transport(0).addedCandidates(), "candidates must wait for the remote description")

	offer := mustMsg(t, signal.TypeOffer, "bob", signal.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, s.Handle(context.Background(), offer))

	added := fx.transport(0).addedCandidates()
	require.Len(t, added, 2)
	assert.Equal(t, "candidate:1", added[0].Candidate, "flush preserves arrival order")
	assert.Equal(t, "candidate:2", added[1].Candidate)

	third := webrtc.ICECandidateInit{Candidate: "candidate:3"}
	require.NoError(t, s.Handle(context.Background(), mustMsg(t, signal.TypeICECandidate, "bob", signal.CandidatePayload{Candidate: third})))
	assert.Len(t, fx.transport(0).addedCandidates(), 3, "later candidates apply immediately")
}

func TestSelfEchoDropped(t *testing.T) {
	s, fx := newTestSession(t, nil)
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	echo := mustMsg(t, signal.TypeOffer, "alice", signal.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, s.Handle(context.Background(), echo))

	assert.Zero(t, fx.transport(0).answers, "own messages must be ignored")
	assert.Equal(t, StateAwaitingPeer, s.State())
}

func TestHangupSendsSingleLeave(t *testing.T) {
	s, fx := newTestSession(t, nil)
	require.NoError(t, s.Join(context.Background()))

	s.Hangup()
	s.Hangup()

	assert.Equal(t, 1, fx.signaler.count(signal.TypeLeave))
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, fx.transport(0).closed)

	assert.ErrorIs(t, s.Join(context.Background()), ErrSessionClosed)
}

func TestHangupBeforeJoinSendsNothing(t *testing.T) {
	s, fx := newTestSession(t, nil)

	s.Hangup()

	assert.Zero(t, fx.signaler.count(signal.TypeLeave))
	assert.Equal(t, StateIdle, s.State())
}

func TestRelayRejectionFailsSession(t *testing.T) {
	s, fx := newTestSession(t, nil)
	require.NoError(t, s.Join(context.Background()))

	reject := mustMsg(t, signal.TypeError, "", signal.ErrorPayload{Message: "room is full"})
	err := s.Handle(context.Background(), reject)

	assert.ErrorIs(t, err, ErrRoomRejected)
	assert.Equal(t, StateFailed, s.State())
	assert.True(t, fx.transport(0).closed)
}

func TestTransportFailureTeardownIsIdempotent(t *testing.T) {
	s, fx := newTestSession(t, nil)
	require.NoError(t, s.Join(context.Background()))

	s.HandleConnectionState(webrtc.PeerConnectionStateFailed)
	assert.Equal(t, StateFailed, s.State())
	assert.True(t, fx.transport(0).closed)
	assert.Equal(t, 1, fx.signaler.count(signal.TypeLeave), "failure must notify the relay")

	s.Hangup()
	assert.Equal(t, 1, fx.signaler.count(signal.TypeLeave), "a racing hangup must not double-notify")
	assert.Equal(t, StateFailed, s.State(), "hangup must not revive a failed session")
}

func TestConnectionStateDrivesQualityMonitor(t *testing.T) {
	samples := make(chan quality.Sample, 8)
	s, fx := newTestSession(t, func(cfg *Config) {
		cfg.QualityInterval = 10 * time.Millisecond
		cfg.OnQuality = func(sample quality.Sample) { samples <- sample }
	})
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	s.HandleConnectionState(webrtc.PeerConnectionStateConnected)
	assert.Equal(t, StateConnected, s.State())

	select {
	case sample := <-samples:
		assert.Equal(t, quality.Good, sample.Level)
	case <-time.After(time.Second):
		t.Fatal("no quality sample produced")
	}
	assert.Greater(t, fx.transport(0).statsCount(), 0)

	s.HandleConnectionState(webrtc.PeerConnectionStateDisconnected)
	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, fx.transport(0).closed, "disconnect releases the transport")
}

func TestRepeatedConnectedReplacesMonitor(t *testing.T) {
	s, fx := newTestSession(t, func(cfg *Config) {
		cfg.QualityInterval = 5 * time.Millisecond
	})
	require.NoError(t, s.Join(context.Background()))

	s.HandleConnectionState(webrtc.PeerConnectionStateConnected)
	s.HandleConnectionState(webrtc.PeerConnectionStateConnected)
	time.Sleep(25 * time.Millisecond)

	s.Hangup()
	settled := fx.transport(0).statsCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, fx.transport(0).statsCount(), "sampling must stop with the session")
}

func TestTransportDisconnectTearsDown(t *testing.T) {
	s, fx := newTestSession(t, nil)
	require.NoError(t, s.Join(context.Background()))

	s.HandleConnectionState(webrtc.PeerConnectionStateConnected)
	s.HandleConnectionState(webrtc.PeerConnectionStateDisconnected)

	assert.Equal(t, StateDisconnected, s.State())
	assert.True(t, fx.transport(0).closed, "transport must be released")
	assert.Equal(t, 1, fx.signaler.count(signal.TypeLeave), "the relay must learn about the drop")

	s.Hangup()
	assert.Equal(t, 1, fx.signaler.count(signal.TypeLeave), "hangup after the drop must not double-notify")
	assert.Equal(t, StateDisconnected, s.State())
}

func TestStaleTransportEventsIgnoredAfterRebuild(t *testing.T) {
	s, fx := newTestSession(t, nil)
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	offer := mustMsg(t, signal.TypeOffer, "bob", signal.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, s.Handle(context.Background(), offer))
	s.HandleConnectionState(webrtc.PeerConnectionStateConnected)

	left := mustMsg(t, signal.TypeUserDisconnected, "bob", signal.PresencePayload{UserID: "bob"})
	require.NoError(t, s.Handle(context.Background(), left))
	require.Equal(t, 2, fx.transportCount())

	// The replaced transport reports its death after the rebuild.
	fx.transportEvents(0).OnConnectionState(webrtc.PeerConnectionStateDisconnected)

	assert.Equal(t, StateAwaitingPeer, s.State(), "a late event from the old transport must not tear down the new one")
	assert.False(t, fx.transport(1).closed)
	assert.Zero(t, fx.signaler.count(signal.TypeLeave))
}

func TestStateChangesDeliverInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	s, _ := newTestSession(t, func(cfg *Config) {
		cfg.OnStateChange = func(state State) {
			mu.Lock()
			seen = append(seen, state)
			mu.Unlock()
		}
	})
	require.NoError(t, s.Join(context.Background()))

	offer := mustMsg(t, signal.TypeOffer, "bob", signal.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, s.Handle(context.Background(), offer))
	s.HandleConnectionState(webrtc.PeerConnectionStateConnected)
	s.Hangup()

	want := []State{StateAwaitingPeer, StateAnswering, StateConnected, StateIdle}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	}, time.Second, 5*time.Millisecond, "every transition must reach the callback")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestPeerLeftRebuildsTransport(t *testing.T) {
	s, fx := newTestSession(t, nil)
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	offer := mustMsg(t, signal.TypeOffer, "bob", signal.SDPPayload{Type: "offer", SDP: "v=0"})
	require.NoError(t, s.Handle(context.Background(), offer))
	s.HandleConnectionState(webrtc.PeerConnectionStateConnected)

	left := mustMsg(t, signal.TypeUserDisconnected, "bob", signal.PresencePayload{UserID: "bob"})
	require.NoError(t, s.Handle(context.Background(), left))

	assert.Equal(t, StateAwaitingPeer, s.State())
	assert.True(t, fx.transport(0).closed, "old transport must be released")
	require.Equal(t, 2, fx.transportCount(), "a fresh transport must replace it")

	cand := webrtc.ICECandidateInit{Candidate: "candidate:new"}
	require.NoError(t, s.Handle(context.Background(), mustMsg(t, signal.TypeICECandidate, "carol", signal.CandidatePayload{Candidate: cand})))
	assert.Empty(t, fx.transport(1).addedCandidates(), "candidate buffer must reset with the transport")
}

func TestScreenShareAdvisoryMessages(t *testing.T) {
	screen := make(chan bool, 2)
	s, fx := newTestSession(t, func(cfg *Config) {
		cfg.NewMedia = func() (*media.Pipeline, error) {
			camera, err := media.NewCameraSource(media.NewTestPattern(32, 24), media.RawCodec{}, 30)
			require.NoError(t, err)
			return media.NewPipeline(media.PipelineConfig{
				Camera: camera,
				NewScreen: func() (media.Source, error) {
					return media.NewScreenSource(media.NewTestPattern(32, 24), media.RawCodec{}, 30)
				},
			})
		}
		cfg.OnRemoteScreenShare = func(active bool) { screen <- active }
	})
	defer s.Hangup()
	require.NoError(t, s.Join(context.Background()))

	require.NoError(t, s.StartScreenShare())
	assert.Equal(t, media.SourceScreen, s.Pipeline().Active())
	assert.Equal(t, 1, fx.signaler.count(signal.TypeScreenShareStart))

	require.NoError(t, s.StopScreenShare())
	assert.Equal(t, media.SourceCamera, s.Pipeline().Active())
	assert.Equal(t, 1, fx.signaler.count(signal.TypeScreenShareStop))

	require.NoError(t, s.Handle(context.Background(), mustMsg(t, signal.TypeScreenShareStart, "bob", nil)))
	assert.True(t, <-screen, "remote share start must surface")
}
