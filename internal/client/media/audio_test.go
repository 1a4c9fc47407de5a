package media

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRTPSource struct {
	reads  atomic.Int32
	closed chan struct{}
}

func newScriptedRTPSource() *scriptedRTPSource {
	return &scriptedRTPSource{closed: make(chan struct{})}
}

func (s *scriptedRTPSource) ReadRTP() (*rtp.Packet, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	case <-time.After(time.Millisecond):
	}
	n := s.reads.Add(1)
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: uint16(n)}}, nil
}

func (s *scriptedRTPSource) Close() error {
	close(s.closed)
	return nil
}

func TestAudioSenderMuteKeepsDraining(t *testing.T) {
	source := newScriptedRTPSource()
	sender, err := NewAudioSender(source)
	require.NoError(t, err)
	defer sender.Close()

	assert.True(t, sender.Enabled())

	sender.SetEnabled(false)
	assert.False(t, sender.Enabled())

	// Capture timing must not stall while muted; the pump keeps consuming.
	before := source.reads.Load()
	assert.Eventually(t, func() bool {
		return source.reads.Load() > before
	}, time.Second, 5*time.Millisecond, "the source must keep draining while muted")

	sender.SetEnabled(true)
	assert.True(t, sender.Enabled())
}

func TestAudioSenderCloseStopsPump(t *testing.T) {
	source := newScriptedRTPSource()
	sender, err := NewAudioSender(source)
	require.NoError(t, err)

	require.NoError(t, sender.Close())
	require.NoError(t, sender.Close(), "close must be idempotent")
}

func TestSilenceSourcePacketShape(t *testing.T) {
	source := NewSilenceSource()
	defer source.Close()

	first, err := source.ReadRTP()
	require.NoError(t, err)
	second, err := source.ReadRTP()
	require.NoError(t, err)

	assert.Equal(t, opusSilence, first.Payload)
	assert.Equal(t, uint8(opusPayloadType), first.PayloadType)
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Equal(t, first.Timestamp+opusSamplesPerFrame, second.Timestamp, "timestamps advance one frame at 48kHz")
	assert.Equal(t, first.SSRC, second.SSRC)
}

func TestSilenceSourceCloseEndsStream(t *testing.T) {
	source := NewSilenceSource()
	require.NoError(t, source.Close())

	_, err := source.ReadRTP()
	assert.ErrorIs(t, err, io.EOF)
}
