package avcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestSession builds a Session struct directly rather than through
// NewSession, since NewSession opens a real reisen demuxer and an ebiten
// audio device. This exercises the UI-event-mapping and query methods,
// the parts of session.go that are pure logic over already-wired fields.
func newTestSession(t *testing.T) (*Session, *PacketQueue) {
	t.Helper()
	videoPQ := NewPacketQueue()
	videoPQ.Start(StreamVideo)
	externalClock := NewClock(nil)
	videoClock := NewClockForQueue(videoPQ)
	sc := NewSyncController(nil, videoClock, externalClock, false, true, SyncVideoMaster)
	reader := NewReader(&fakeDemuxer{}, externalClock, ReaderOptions{InfiniteBuf: true}, pkgLogger)

	return &Session{
		opts:        DefaultOptions("test://input"),
		log:         pkgLogger,
		videoStream: &StreamInfo{Index: 0, Kind: StreamVideo, Width: 640, Height: 480},
		videoPQ:     videoPQ,
		videoClock:  videoClock,
		sync:        sc,
		reader:      reader,
		state:       Stopped,
		volume:      50,
	}, videoPQ
}

func TestClampChannelsDefaultsToStereoForInvalidInput(t *testing.T) {
	require.Equal(t, 2, clampChannels(0))
	require.Equal(t, 2, clampChannels(-1))
	require.Equal(t, 6, clampChannels(6))
}

func TestLoopCountPassesThroughNonzero(t *testing.T) {
	require.Equal(t, 0, loopCount(0))
	require.Equal(t, 3, loopCount(3))
	require.Equal(t, -1, loopCount(-1))
}

func TestSessionAdjustVolumeClampsToZeroAndHundred(t *testing.T) {
	s, _ := newTestSession(t)

	s.AdjustVolume(-100)
	require.Equal(t, 0, s.Volume())

	s.AdjustVolume(100)
	require.Equal(t, 100, s.Volume())
}

func TestSessionAdjustVolumeStepsByOneFiftieth(t *testing.T) {
	s, _ := newTestSession(t)
	s.volume = 50

	s.AdjustVolume(1)
	require.Equal(t, 52, s.Volume())

	s.AdjustVolume(-1)
	require.Equal(t, 50, s.Volume())
}

func TestSessionSeekRelativeTimeBasedUsesMasterClockPosition(t *testing.T) {
	s, _ := newTestSession(t)
	s.videoClock.Set(10.0, s.videoPQ.Serial())

	s.SeekRelative(5 * time.Second)
	require.NotNil(t, s.reader.seekReq)
	require.False(t, s.reader.seekReq.ByteBased)
	require.InDelta(t, 15e6, float64(s.reader.seekReq.Target), 1e5, "target is microseconds: (pos+delta)*1e6")
}

func TestSessionSeekRelativeTreatsNaNPositionAsZero(t *testing.T) {
	s, _ := newTestSession(t)
	// videoClock was never Set, so MasterClock().Get() is NaN.

	s.SeekRelative(2 * time.Second)
	require.NotNil(t, s.reader.seekReq)
	require.InDelta(t, 2e6, float64(s.reader.seekReq.Target), 1e5)
}

func TestSessionSeekRelativeByteBasedUsesEstimatedBitrate(t *testing.T) {
	s, _ := newTestSession(t)
	s.opts.ByteSeek = 1
	s.videoPQ.Put(&Packet{Data: make([]byte, 1000)})

	s.SeekRelative(1 * time.Second)
	require.NotNil(t, s.reader.seekReq)
	require.True(t, s.reader.seekReq.ByteBased)
	require.Greater(t, s.reader.seekReq.Target, int64(0))
}

func TestSessionEstimateBitrateZeroWithNoQueuedPackets(t *testing.T) {
	s, _ := newTestSession(t)
	require.Equal(t, 0.0, s.estimateBitrate())
}

func TestSessionVideoSizeReportsZeroWithoutVideoStream(t *testing.T) {
	s, _ := newTestSession(t)
	s.videoStream = nil
	w, h := s.VideoSize()
	require.Equal(t, 0, w)
	require.Equal(t, 0, h)
}

func TestSessionVideoSizeReportsStreamDimensions(t *testing.T) {
	s, _ := newTestSession(t)
	w, h := s.VideoSize()
	require.Equal(t, 640, w)
	require.Equal(t, 480, h)
}

func TestSessionStringIncludesURLAndState(t *testing.T) {
	s, _ := newTestSession(t)
	str := s.String()
	require.Contains(t, str, "test://input")
	require.Contains(t, str, "Stopped")
}
