package avcore

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDemuxer is a minimal in-memory Demuxer driving reader_test.go's
// scenarios without any real media I/O.
type fakeDemuxer struct {
	streams []StreamInfo
	packets []*Packet
	pos     int
	seeks   int
}

func (d *fakeDemuxer) Streams() []StreamInfo        { return d.streams }
func (d *fakeDemuxer) Metadata() map[string]string  { return nil }
func (d *fakeDemuxer) OpenStream(int) (StreamDecoder, error) { return &fakeDecoder{}, nil }
func (d *fakeDemuxer) CloseStream(int) error         { return nil }
func (d *fakeDemuxer) Close() error                  { return nil }

func (d *fakeDemuxer) ReadPacket() (*Packet, error) {
	if d.pos >= len(d.packets) {
		return nil, io.EOF
	}
	p := d.packets[d.pos]
	d.pos++
	return p, nil
}

func (d *fakeDemuxer) Seek(streamIndex int, min, target, max int64, byteBased bool) error {
	d.seeks++
	d.pos = 0
	return nil
}

func (d *fakeDemuxer) Rewind(streamIndex int, position time.Duration) error { return nil }

type fakeDecoder struct{}

func (f *fakeDecoder) Decode(pkt *Packet) ([]*Frame, error) { return nil, nil }
func (f *fakeDecoder) Flush()                               {}
func (f *fakeDecoder) Close() error                          { return nil }

func TestReaderDispatchesToCorrectQueue(t *testing.T) {
	demux := &fakeDemuxer{
		streams: []StreamInfo{{Index: 0, Kind: StreamVideo}, {Index: 1, Kind: StreamAudio}},
		packets: []*Packet{
			{StreamIndex: 0, Kind: StreamVideo, Pts: 0.1},
			{StreamIndex: 1, Kind: StreamAudio, Pts: 0.1},
			{StreamIndex: 0, Kind: StreamVideo, Pts: 0.2},
		},
	}
	ext := NewClock(nil)
	r := NewReader(demux, ext, ReaderOptions{InfiniteBuf: true}, pkgLogger)

	videoPQ := NewPacketQueue()
	videoPQ.Start(StreamVideo)
	audioPQ := NewPacketQueue()
	audioPQ.Start(StreamAudio)

	videoDec := NewDecoderWorker(StreamVideo, videoPQ, NewFrameQueue(3, true, videoPQ), &fakeDecoder{}, nil, DecoderOptions{}, pkgLogger)
	audioDec := NewDecoderWorker(StreamAudio, audioPQ, NewFrameQueue(9, false, audioPQ), &fakeDecoder{}, nil, DecoderOptions{}, pkgLogger)

	r.AddRoute(demux.streams[0], videoPQ, videoDec, videoDec.frameQueue)
	r.AddRoute(demux.streams[1], audioPQ, audioDec, audioDec.frameQueue)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	// wait until every real packet plus one EOF sentinel per stream has
	// landed, then abort: with no decoder goroutine actually running, the
	// loop's EOF branch never sees allStreamsFinishedAndDrained() go true,
	// so this test only exercises dispatch, not the EOF-drives-exit path.
	require.Eventually(t, func() bool {
		// each queue starts with one undrained flush sentinel from Start(),
		// plus its real packets, plus one EOF sentinel once ReadPacket hits
		// io.EOF.
		return videoPQ.NbPackets() >= 4 && audioPQ.NbPackets() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// Drain and count before aborting: Get() reports !ok once abort is set
	// even when items remain queued, so counting has to happen while the
	// reader is still running. The reader keeps re-enqueuing EOF sentinels
	// in the background, but FIFO order guarantees the first items drained
	// here are the real packets dispatched earlier, so a handful of empty
	// misses (transient, between one sentinel landing and the next) is the
	// right stop condition rather than a single miss.
	drain := func(q *PacketQueue) int {
		count := 0
		misses := 0
		for misses < 3 {
			pkt, _, ok := q.Get(false)
			if !ok {
				misses++
				time.Sleep(5 * time.Millisecond)
				continue
			}
			misses = 0
			if !pkt.IsFlush && !pkt.IsEOF {
				count++
			}
		}
		return count
	}
	videoCount := drain(videoPQ)
	audioCount := drain(audioPQ)
	require.Equal(t, 2, videoCount, "2 real video packets (EOF sentinel excluded)")
	require.Equal(t, 1, audioCount, "1 real audio packet (EOF sentinel excluded)")

	r.Abort()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Abort")
	}
}

func TestReaderStreamHasEnoughPacketsAttachedPic(t *testing.T) {
	r := &Reader{}
	q := NewPacketQueue()
	rt := &streamRoute{info: StreamInfo{Index: 0, AttachedPic: true}, queue: q}
	require.True(t, r.streamHasEnoughPackets(rt))
}

func TestReaderStreamHasEnoughPacketsThreshold(t *testing.T) {
	r := &Reader{}
	q := NewPacketQueue()
	q.Start(StreamVideo)
	rt := &streamRoute{info: StreamInfo{Index: 0, TimeBase: 1.0}, queue: q}
	require.False(t, r.streamHasEnoughPackets(rt), "fresh queue has too few packets")

	for i := 0; i < minFramesForEnoughStream+5; i++ {
		q.Put(&Packet{Duration: 1.0})
	}
	require.True(t, r.streamHasEnoughPackets(rt))
}

// TestReaderStreamHasEnoughPacketsUnknownDurationIsEscapeHatch covers §9's
// "duration unknown" branch: a stream with a valid TimeBase but no per-packet
// duration info (queue.Duration()==0) must still report enough once past the
// packet-count threshold, rather than being judged by TimeBase validity.
func TestReaderStreamHasEnoughPacketsUnknownDurationIsEscapeHatch(t *testing.T) {
	r := &Reader{}
	q := NewPacketQueue()
	q.Start(StreamVideo)
	rt := &streamRoute{info: StreamInfo{Index: 0, TimeBase: 1.0}, queue: q}

	for i := 0; i < minFramesForEnoughStream+5; i++ {
		q.Put(&Packet{}) // Duration left at zero: unknown per-packet duration
	}
	require.True(t, r.streamHasEnoughPackets(rt), "unknown duration with a valid time base must still count as enough")
}

func TestReaderInPlayRangeRespectsDuration(t *testing.T) {
	r := &Reader{opts: ReaderOptions{StartTime: 0, Duration: 10}}
	require.True(t, r.inPlayRange(&Packet{Pts: 5}))
	require.False(t, r.inPlayRange(&Packet{Pts: 11}))
	require.True(t, r.inPlayRange(&Packet{Pts: NoPts()}), "packets without a pts are never dropped by this check")
}
