package media

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SourceKind selects which outbound video source feeds the call.
type SourceKind string

const (
	SourceCamera SourceKind = "camera"
	SourceScreen SourceKind = "screen"
	SourceBlur   SourceKind = "blurred"
)

var ErrSourceClosed = errors.New("source is closed")

// FrameSource yields the most recently captured frame. Implementations must
// be safe for concurrent readers; the blur pipeline and the recorder both
// grab frames from the camera while it feeds the call.
type FrameSource interface {
	Frame() (*image.RGBA, error)
	Close() error
}

// Codec turns a raw frame into an encoded payload for a sample track. The
// MIME type doubles as the track's negotiated codec capability.
type Codec interface {
	MimeType() string
	Encode(frame *image.RGBA) ([]byte, error)
}

// Source owns one outbound video track and whatever loop feeds it.
// SetEnabled gates emission without renegotiating the track; a disabled
// source holds its last delivered frame on the remote side.
type Source interface {
	Kind() SourceKind
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Close() error
}

// captureSource pumps frames from a FrameSource through a Codec into a
// sample track at a fixed rate. An optional transform runs per frame; the
// blur source is a capture source with a blur transform.
type captureSource struct {
	kind      SourceKind
	frames    FrameSource
	track     *webrtc.TrackLocalStaticSample
	interval  time.Duration
	transform func(*image.RGBA) *image.RGBA

	enabled   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newCaptureSource(kind SourceKind, frames FrameSource, codec Codec, fps int, transform func(*image.RGBA) *image.RGBA) (*captureSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: codec.MimeType()},
		string(kind), "pairlink",
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	s := &captureSource{
		kind:      kind,
		frames:    frames,
		track:     track,
		interval:  time.Second / time.Duration(fps),
		transform: transform,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.enabled.Store(true)

	go s.pump(codec)

	return s, nil
}

// NewCameraSource captures device frames. The returned source's track is the
// one the pipeline parks and restores across screen-share and blur.
func NewCameraSource(frames FrameSource, codec Codec, fps int) (Source, error) {
	return newCaptureSource(SourceCamera, frames, codec, fps, nil)
}

// NewScreenSource captures display frames.
func NewScreenSource(frames FrameSource, codec Codec, fps int) (Source, error) {
	return newCaptureSource(SourceScreen, frames, codec, fps, nil)
}

func (s *captureSource) pump(codec Codec) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.enabled.Load() {
				continue
			}

			frame, err := s.frames.Frame()
			if err != nil {
				continue
			}

			if s.transform != nil {
				frame = s.transform(frame)
			}

			payload, err := codec.Encode(frame)
			if err != nil {
				continue
			}

			_ = s.track.WriteSample(media.Sample{Data: payload, Duration: s.interval})
		}
	}
}

func (s *captureSource) Kind() SourceKind { return s.kind }

func (s *captureSource) Track() webrtc.TrackLocal { return s.track }

// SetEnabled pauses or resumes frame emission. The pump keeps ticking so a
// re-enable takes effect on the next interval.
func (s *captureSource) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// Close stops the pump loop synchronously before releasing the frame source,
// so no frame is emitted after Close returns.
func (s *captureSource) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done

	return s.frames.Close()
}
