package record

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/vantu-dev/pairlink/internal/application/constant"
	"github.com/vantu-dev/pairlink/internal/client/media"
)

var (
	ErrAlreadyRecording  = errors.New("recording already in progress")
	ErrNotRecording      = errors.New("no recording in progress")
	ErrUnsupportedFormat = errors.New("no supported recording format")
)

// Container formats tried in order when a recording starts. The first one
// with a registered encoder wins.
var formatPreference = []string{
	"video/webm;codecs=vp9",
	"video/webm;codecs=vp8",
	"video/webm",
	"video/mp4",
}

// Encoder writes composited frames into a container. Chunk drains whatever
// encoded bytes accumulated since the previous drain; Finish returns the
// trailing bytes that complete the container.
type Encoder interface {
	WriteFrame(frame *image.RGBA) error
	Chunk() ([]byte, error)
	Finish() ([]byte, error)
}

// EncoderFactory builds an encoder for one recording run.
type EncoderFactory func(width, height, fps int) (Encoder, error)

// Registry maps container mime types to encoder factories. Which formats are
// available depends on what the build links in.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]EncoderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]EncoderFactory)}
}

func (r *Registry) Register(mimeType string, factory EncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[mimeType] = factory
}

func (r *Registry) negotiate() (string, EncoderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, mimeType := range formatPreference {
		if factory, ok := r.factories[mimeType]; ok {
			return mimeType, factory, nil
		}
	}
	return "", nil, ErrUnsupportedFormat
}

// Artifact is a finished recording.
type Artifact struct {
	MimeType string
	Data     []byte

	// Duration in whole seconds, rounded down.
	Duration int
}

// Recorder composites the two call videos into a single stream and feeds it
// to an encoder. One recording at a time; Start during an active run fails
// rather than restarting.
type Recorder struct {
	registry *Registry
	local    media.FrameSource
	remote   media.FrameSource

	now func() time.Time

	mu         sync.Mutex
	recording  bool
	finalizing bool
	encoder    Encoder
	mimeType   string
	chunks     bytes.Buffer
	startedAt  time.Time
	stop       chan struct{}
	done       chan struct{}
}

func NewRecorder(registry *Registry, local, remote media.FrameSource) *Recorder {
	return &Recorder{
		registry: registry,
		local:    local,
		remote:   remote,
		now:      time.Now,
	}
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording || r.finalizing {
		return ErrAlreadyRecording
	}

	mimeType, factory, err := r.registry.negotiate()
	if err != nil {
		return err
	}

	encoder, err := factory(CanvasWidth, CanvasHeight, FrameRate)
	if err != nil {
		return fmt.Errorf("create %s encoder: %w", mimeType, err)
	}

	r.recording = true
	r.encoder = encoder
	r.mimeType = mimeType
	r.chunks.Reset()
	r.startedAt = r.now()
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.loop(encoder, r.stop, r.done)

	return nil
}

// loop drives the compositor at the frame rate and drains the encoder once
// per second so a crash mid-call loses at most the last chunk.
func (r *Recorder) loop(encoder Encoder, stop, done chan struct{}) {
	defer close(done)

	frames := time.NewTicker(time.Second / FrameRate)
	defer frames.Stop()
	drain := time.NewTicker(time.Second)
	defer drain.Stop()

	comp := newCompositor()

	for {
		select {
		case <-stop:
			return
		case <-frames.C:
			remote, _ := r.remote.Frame()
			local, _ := r.local.Frame()

			if err := encoder.WriteFrame(comp.Compose(remote, local)); err != nil {
				slog.Warn("recorder frame write failed", slog.Any(constant.Error, err))
			}
		case <-drain.C:
			chunk, err := encoder.Chunk()
			if err != nil {
				slog.Warn("recorder chunk drain failed", slog.Any(constant.Error, err))
				continue
			}

			r.mu.Lock()
			r.chunks.Write(chunk)
			r.mu.Unlock()
		}
	}
}

// Recording reports whether a run is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording || r.finalizing
}

// Stop ends the active run and returns the finished artifact. The stop is
// claimed under the lock before the channel closes, so of two racing calls
// exactly one finalizes and the other gets ErrNotRecording.
func (r *Recorder) Stop() (*Artifact, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.recording = false
	r.finalizing = true
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() { r.finalizing = false }()

	tail, err := r.encoder.Finish()
	if err != nil {
		return nil, fmt.Errorf("finalize recording: %w", err)
	}
	r.chunks.Write(tail)

	artifact := &Artifact{
		MimeType: r.mimeType,
		Data:     append([]byte(nil), r.chunks.Bytes()...),
		Duration: int(r.now().Sub(r.startedAt) / time.Second),
	}

	r.encoder = nil
	r.chunks.Reset()

	return artifact, nil
}
