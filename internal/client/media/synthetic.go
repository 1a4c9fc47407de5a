package media

import (
	"image"
	"image/color"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// testPattern is a FrameSource producing moving color bars. It stands in for
// a capture device in the CLI and in tests.
type testPattern struct {
	mu     sync.Mutex
	closed bool
	bounds image.Rectangle
	tick   int
}

func NewTestPattern(width, height int) FrameSource {
	return &testPattern{bounds: image.Rect(0, 0, width, height)}
}

var barPalette = []color.RGBA{
	{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	{R: 0xff, G: 0xff, B: 0x00, A: 0xff},
	{R: 0x00, G: 0xff, B: 0xff, A: 0xff},
	{R: 0x00, G: 0xff, B: 0x00, A: 0xff},
	{R: 0xff, G: 0x00, B: 0xff, A: 0xff},
	{R: 0xff, G: 0x00, B: 0x00, A: 0xff},
	{R: 0x00, G: 0x00, B: 0xff, A: 0xff},
}

func (t *testPattern) Frame() (*image.RGBA, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrSourceClosed
	}
	t.tick++

	img := image.NewRGBA(t.bounds)
	w := t.bounds.Dx()
	barWidth := w / len(barPalette)
	if barWidth == 0 {
		barWidth = 1
	}
	for y := t.bounds.Min.Y; y < t.bounds.Max.Y; y++ {
		for x := t.bounds.Min.X; x < t.bounds.Max.X; x++ {
			bar := ((x + t.tick) / barWidth) % len(barPalette)
			img.SetRGBA(x, y, barPalette[bar])
		}
	}
	return img, nil
}

func (t *testPattern) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// RawCodec frames RGBA pixel data without compression. It keeps the capture
// pipeline runnable where no hardware encoder is wired in; the negotiated
// mime type is whatever the caller declares.
type RawCodec struct {
	Mime string
}

func (c RawCodec) MimeType() string {
	if c.Mime == "" {
		return webrtc.MimeTypeVP8
	}
	return c.Mime
}

func (c RawCodec) Encode(frame *image.RGBA) ([]byte, error) {
	out := make([]byte, len(frame.Pix))
	copy(out, frame.Pix)
	return out, nil
}

const (
	opusFrameDuration = 20 * time.Millisecond
	opusPayloadType   = 111

	// 48kHz clock, 20ms per frame.
	opusSamplesPerFrame = 960
)

// opusSilence is a single Opus DTX frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// silenceSource is an RTPSource emitting Opus comfort-noise frames at the
// standard 20ms cadence. It stands in for a microphone in the CLI so the
// audio track exists and can be muted like a real one.
type silenceSource struct {
	closed    chan struct{}
	closeOnce sync.Once
	seq       uint16
	timestamp uint32
	ssrc      uint32
}

func NewSilenceSource() RTPSource {
	return &silenceSource{
		closed:    make(chan struct{}),
		seq:       uint16(rand.Intn(1 << 16)),
		timestamp: rand.Uint32(),
		ssrc:      rand.Uint32(),
	}
}

func (s *silenceSource) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	case <-time.After(opusFrameDuration):
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: append([]byte(nil), opusSilence...),
	}

	s.seq++
	s.timestamp += opusSamplesPerFrame
	return pkt, nil
}

func (s *silenceSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
