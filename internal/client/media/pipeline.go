package media

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vantu-dev/pairlink/internal/application/constant"
)

var (
	ErrSwitchInFlight = errors.New("video source switch already in flight")
	ErrUnknownSource  = errors.New("unknown video source")
	ErrNoScreenSource = errors.New("screen capture is not available")
	ErrNoBlurSource   = errors.New("blur pipeline is not available")
)

// TrackSender is the transport-side attachment point for the outbound video
// track. *webrtc.RTPSender satisfies it; substitution happens in place, no
// renegotiation.
type TrackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// PipelineConfig wires the camera source opened at acquisition time plus
// factories for the on-demand sources.
type PipelineConfig struct {
	Camera Source

	// NewScreen opens a display capture source. Called once per switch to
	// screen; the source is closed when switching away.
	NewScreen func() (Source, error)

	// NewBlur builds the blurred-camera source.
	NewBlur func() (Source, error)

	// OnPreview is invoked with the newly live track after every switch, for
	// the local self-view. Optional.
	OnPreview func(track webrtc.TrackLocal)
}

// Pipeline owns the outbound video track. Exactly one source is live at any
// time; the camera track is parked, never stopped, while screen or blur is
// live, so switching back restores the identical track.
type Pipeline struct {
	cfg PipelineConfig

	mu       sync.Mutex
	inFlight bool
	active   SourceKind
	current  Source
	sender   TrackSender
	closed   bool
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Camera == nil {
		return nil, errors.New("pipeline requires a camera source")
	}

	return &Pipeline{
		cfg:     cfg,
		active:  SourceCamera,
		current: cfg.Camera,
	}, nil
}

// AttachSender binds the transport sender the live track feeds. Until a
// sender is attached, switches only affect the local preview.
func (p *Pipeline) AttachSender(sender TrackSender) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sender = sender
}

// Active reports which source is currently live.
func (p *Pipeline) Active() SourceKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// CameraTrack is the original camera track, used when the transport is
// constructed.
func (p *Pipeline) CameraTrack() webrtc.TrackLocal {
	return p.cfg.Camera.Track()
}

// SwitchTo makes kind the live outbound source. Switching to the already
// active kind is a no-op. A second switch while one is in flight is rejected
// with ErrSwitchInFlight rather than queued.
func (p *Pipeline) SwitchTo(kind SourceKind) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrSourceClosed
	}
	if p.active == kind {
		p.mu.Unlock()
		return nil
	}
	if p.inFlight {
		p.mu.Unlock()
		return ErrSwitchInFlight
	}
	p.inFlight = true
	previous := p.current
	sender := p.sender
	p.mu.Unlock()

	target, err := p.obtain(kind)
	if err != nil {
		p.clearInFlight()
		return err
	}

	if sender != nil {
		if err := sender.ReplaceTrack(target.Track()); err != nil {
			if target != p.cfg.Camera {
				_ = target.Close()
			}
			p.clearInFlight()
			return fmt.Errorf("replace outbound track: %w", err)
		}
	}

	// The original camera track is parked for later restoration; every
	// other source is stopped so nothing keeps producing undelivered media.
	if previous != p.cfg.Camera {
		if err := previous.Close(); err != nil {
			slog.Warn("close previous video source", slog.Any(constant.Error, err))
		}
	}

	p.mu.Lock()
	p.active = kind
	p.current = target
	p.inFlight = false
	p.mu.Unlock()

	if p.cfg.OnPreview != nil {
		p.cfg.OnPreview(target.Track())
	}

	return nil
}

// SetVideoEnabled pauses or resumes the live source. Each source carries its
// own flag, so a camera disabled before a screen share comes back disabled
// when the share ends.
func (p *Pipeline) SetVideoEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrSourceClosed
	}
	p.current.SetEnabled(enabled)
	return nil
}

func (p *Pipeline) obtain(kind SourceKind) (Source, error) {
	switch kind {
	case SourceCamera:
		return p.cfg.Camera, nil
	case SourceScreen:
		if p.cfg.NewScreen == nil {
			return nil, ErrNoScreenSource
		}
		return p.cfg.NewScreen()
	case SourceBlur:
		if p.cfg.NewBlur == nil {
			return nil, ErrNoBlurSource
		}
		return p.cfg.NewBlur()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, kind)
	}
}

func (p *Pipeline) clearInFlight() {
	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()
}

// Close stops the live source and the parked camera. Idempotent; part of
// session teardown.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	current := p.current
	p.mu.Unlock()

	var errs []error
	if current != p.cfg.Camera {
		errs = append(errs, current.Close())
	}
	errs = append(errs, p.cfg.Camera.Close())

	return errors.Join(errs...)
}
