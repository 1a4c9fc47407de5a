package media

import (
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	kind  SourceKind
	track webrtc.TrackLocal

	mu      sync.Mutex
	closed  bool
	enabled bool
}

func newFakeSource(t *testing.T, kind SourceKind) *fakeSource {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		string(kind), "test",
	)
	require.NoError(t, err)
	return &fakeSource{kind: kind, track: track, enabled: true}
}

func (f *fakeSource) Kind() SourceKind         { return f.kind }
func (f *fakeSource) Track() webrtc.TrackLocal { return f.track }

func (f *fakeSource) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeSource) isEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSource) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSender struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
}

func (f *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeSender) last() webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tracks) == 0 {
		return nil
	}
	return f.tracks[len(f.tracks)-1]
}

func TestPipelineSwitchRestoresCameraTrack(t *testing.T) {
	camera := newFakeSource(t, SourceCamera)
	screen := newFakeSource(t, SourceScreen)

	p, err := NewPipeline(PipelineConfig{
		Camera:    camera,
		NewScreen: func() (Source, error) { return screen, nil },
	})
	require.NoError(t, err)

	sender := &fakeSender{}
	p.AttachSender(sender)

	require.NoError(t, p.SwitchTo(SourceScreen))
	assert.Equal(t, SourceScreen, p.Active())
	assert.Same(t, screen.track, sender.last())
	assert.False(t, camera.isClosed(), "camera must stay open while parked")

	require.NoError(t, p.SwitchTo(SourceCamera))
	assert.Equal(t, SourceCamera, p.Active())
	assert.Same(t, camera.track, sender.last(), "restored track must be the original instance")
	assert.True(t, screen.isClosed(), "screen source must stop when switched away")
}

func TestPipelineSwitchSameKindIsNoop(t *testing.T) {
	camera := newFakeSource(t, SourceCamera)
	p, err := NewPipeline(PipelineConfig{Camera: camera})
	require.NoError(t, err)

	sender := &fakeSender{}
	p.AttachSender(sender)

	require.NoError(t, p.SwitchTo(SourceCamera))
	assert.Empty(t, sender.tracks, "no-op switch must not touch the sender")
}

func TestPipelineRejectsConcurrentSwitch(t *testing.T) {
	camera := newFakeSource(t, SourceCamera)
	screen := newFakeSource(t, SourceScreen)

	factoryEntered := make(chan struct{})
	release := make(chan struct{})

	p, err := NewPipeline(PipelineConfig{
		Camera: camera,
		NewScreen: func() (Source, error) {
			close(factoryEntered)
			<-release
			return screen, nil
		},
		NewBlur: func() (Source, error) { return newFakeSource(t, SourceBlur), nil },
	})
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() { first <- p.SwitchTo(SourceScreen) }()

	<-factoryEntered
	assert.ErrorIs(t, p.SwitchTo(SourceBlur), ErrSwitchInFlight)

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, SourceScreen, p.Active())
}

func TestPipelineSwitchWithoutFactory(t *testing.T) {
	camera := newFakeSource(t, SourceCamera)
	p, err := NewPipeline(PipelineConfig{Camera: camera})
	require.NoError(t, err)

	assert.ErrorIs(t, p.SwitchTo(SourceScreen), ErrNoScreenSource)
	assert.ErrorIs(t, p.SwitchTo(SourceBlur), ErrNoBlurSource)
	assert.Equal(t, SourceCamera, p.Active(), "failed switch must leave the camera live")
}

func TestPipelineVideoToggleSurvivesSwitches(t *testing.T) {
	camera := newFakeSource(t, SourceCamera)
	screen := newFakeSource(t, SourceScreen)

	p, err := NewPipeline(PipelineConfig{
		Camera:    camera,
		NewScreen: func() (Source, error) { return screen, nil },
	})
	require.NoError(t, err)

	require.NoError(t, p.SetVideoEnabled(false))
	assert.False(t, camera.isEnabled())

	require.NoError(t, p.SwitchTo(SourceScreen))
	assert.True(t, screen.isEnabled(), "a fresh source starts live")

	require.NoError(t, p.SwitchTo(SourceCamera))
	assert.False(t, camera.isEnabled(), "the parked camera keeps its off state")

	require.NoError(t, p.SetVideoEnabled(true))
	assert.True(t, camera.isEnabled())

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.SetVideoEnabled(false), ErrSourceClosed)
}

func TestPipelineCloseStopsSources(t *testing.T) {
	camera := newFakeSource(t, SourceCamera)
	screen := newFakeSource(t, SourceScreen)

	p, err := NewPipeline(PipelineConfig{
		Camera:    camera,
		NewScreen: func() (Source, error) { return screen, nil },
	})
	require.NoError(t, err)

	require.NoError(t, p.SwitchTo(SourceScreen))
	require.NoError(t, p.Close())
	assert.True(t, screen.isClosed())
	assert.True(t, camera.isClosed())

	require.NoError(t, p.Close(), "close must be idempotent")
	assert.ErrorIs(t, p.SwitchTo(SourceCamera), ErrSourceClosed)
}

func TestCaptureSourceStopsOnClose(t *testing.T) {
	frames := NewTestPattern(64, 48)
	src, err := NewCameraSource(frames, RawCodec{}, 30)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Close())

	_, err = frames.Frame()
	assert.ErrorIs(t, err, ErrSourceClosed, "closing the source must close its frames")
}

type countingCodec struct {
	encodes atomic.Int32
}

func (c *countingCodec) MimeType() string { return webrtc.MimeTypeVP8 }

func (c *countingCodec) Encode(frame *image.RGBA) ([]byte, error) {
	c.encodes.Add(1)
	return []byte{0}, nil
}

func TestCaptureSourceDisabledEmitsNothing(t *testing.T) {
	codec := &countingCodec{}
	src, err := NewCameraSource(NewTestPattern(16, 12), codec, 100)
	require.NoError(t, err)
	defer src.Close()

	src.SetEnabled(false)
	time.Sleep(30 * time.Millisecond)
	paused := codec.encodes.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, paused, codec.encodes.Load(), "a disabled source must not encode")

	src.SetEnabled(true)
	assert.Eventually(t, func() bool {
		return codec.encodes.Load() > paused
	}, time.Second, 5*time.Millisecond, "re-enabling must resume emission")
}

func TestBlurSourceLeavesCameraOpen(t *testing.T) {
	cameraFrames := NewTestPattern(64, 48)
	blur, err := NewBlurSource(SharedFrames(cameraFrames), RawCodec{}, 30, DefaultBlurRadius)
	require.NoError(t, err)

	require.NoError(t, blur.Close())

	_, err = cameraFrames.Frame()
	assert.NoError(t, err, "blur teardown must not close the shared camera frames")
}
