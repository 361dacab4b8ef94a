package avcore

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedDecoder is a StreamDecoder whose Decode return is driven by a
// caller-supplied queue of responses, one per call, so tests can exercise
// DecoderWorker.Run's flush/EOF/error branches deterministically.
type scriptedDecoder struct {
	responses []decodeResponse
	calls     int
	flushed   int
	closed    bool
}

type decodeResponse struct {
	frames []*Frame
	err    error
}

func (d *scriptedDecoder) Decode(pkt *Packet) ([]*Frame, error) {
	if d.calls >= len(d.responses) {
		return nil, nil
	}
	r := d.responses[d.calls]
	d.calls++
	return r.frames, r.err
}

func (d *scriptedDecoder) Flush()      { d.flushed++ }
func (d *scriptedDecoder) Close() error { d.closed = true; return nil }

func runWorkerUntilIdle(t *testing.T, w *DecoderWorker) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run() }()
	t.Cleanup(func() {
		w.packetQueue.Abort()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("DecoderWorker.Run did not return after Abort")
		}
	})
}

func TestDecoderWorkerPushesDecodedFramesTaggedWithSerial(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start(StreamVideo) // serial -> 1
	fq := NewFrameQueue(3, false, pq)
	codec := &scriptedDecoder{responses: []decodeResponse{
		{frames: []*Frame{{Pts: 1.0}, {Pts: 2.0}}},
	}}
	w := NewDecoderWorker(StreamVideo, pq, fq, codec, nil, DecoderOptions{}, pkgLogger)
	runWorkerUntilIdle(t, w)

	pq.Put(&Packet{Kind: StreamVideo})

	require.Eventually(t, func() bool { return fq.NbRemaining() == 2 }, time.Second, 2*time.Millisecond)

	f1 := fq.PeekReadable()
	require.Equal(t, 1.0, f1.Pts)
	require.Equal(t, 1, f1.Serial)
}

func TestDecoderWorkerFlushResetsCodecAndState(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start(StreamVideo)
	fq := NewFrameQueue(3, false, pq)
	codec := &scriptedDecoder{}
	w := NewDecoderWorker(StreamVideo, pq, fq, codec, nil, DecoderOptions{}, pkgLogger)
	w.finished = 7
	runWorkerUntilIdle(t, w)

	pq.Put(FlushPacket(StreamVideo))

	// two flushes: the sentinel queued by Start() plus the explicit one above
	require.Eventually(t, func() bool { return codec.flushed == 2 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return w.Finished() == 0 }, time.Second, 2*time.Millisecond)
}

func TestDecoderWorkerDropsStaleSerialPacket(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start(StreamAudio) // serial -> 1
	fq := NewFrameQueue(3, false, pq)
	codec := &scriptedDecoder{responses: []decodeResponse{
		{frames: []*Frame{{Pts: 1.0}}},
	}}
	w := NewDecoderWorker(StreamAudio, pq, fq, codec, nil, DecoderOptions{}, pkgLogger)

	// Put always tags a packet with the queue's live serial, so the only way
	// to hand the worker a packet whose serial trails the queue is to splice
	// it in directly and then bump the queue's serial out from under it,
	// standing in for a flush that raced the original enqueue.
	stale := &Packet{Kind: StreamAudio, Serial: 1}
	pq.items = append(pq.items, stale)
	pq.nbPackets++
	pq.serial = 2

	runWorkerUntilIdle(t, w)

	require.Never(t, func() bool { return codec.calls > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"a packet whose serial trails the queue's current serial must never reach Decode")
	require.Equal(t, 0, fq.NbRemaining())
}

func TestDecoderWorkerEOFDrainsCodecAndMarksFinished(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start(StreamVideo) // serial -> 1
	fq := NewFrameQueue(3, false, pq)
	codec := &scriptedDecoder{responses: []decodeResponse{
		{frames: []*Frame{{Pts: 9.0}}, err: io.EOF},
	}}
	w := NewDecoderWorker(StreamVideo, pq, fq, codec, nil, DecoderOptions{}, pkgLogger)
	runWorkerUntilIdle(t, w)

	pq.Put(EOFPacket(StreamVideo))

	require.Eventually(t, func() bool { return w.Finished() == 1 }, time.Second, 2*time.Millisecond)
	require.Equal(t, 1, fq.NbRemaining(), "frames drained on EOF still get pushed")
	require.Equal(t, 1, codec.calls)
}

func TestDecoderWorkerDropsPacketOnDecodeError(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start(StreamVideo)
	fq := NewFrameQueue(3, false, pq)
	codec := &scriptedDecoder{responses: []decodeResponse{
		{err: errors.New("boom")},
		{frames: []*Frame{{Pts: 3.0}}},
	}}
	w := NewDecoderWorker(StreamVideo, pq, fq, codec, nil, DecoderOptions{}, pkgLogger)
	runWorkerUntilIdle(t, w)

	pq.Put(&Packet{Kind: StreamVideo}) // decode errors, dropped
	pq.Put(&Packet{Kind: StreamVideo}) // decodes fine

	require.Eventually(t, func() bool { return fq.NbRemaining() == 1 }, time.Second, 2*time.Millisecond)
	require.Equal(t, 3.0, fq.PeekReadable().Pts)
}

func TestDecoderWorkerAudioFallsBackToRunningNextPts(t *testing.T) {
	pq := NewPacketQueue()
	pq.Start(StreamAudio)
	fq := NewFrameQueue(3, false, pq)
	codec := &scriptedDecoder{responses: []decodeResponse{
		{frames: []*Frame{{Pts: 1.0, SampleRate: 10, NumSamples: 5}}},
		{frames: []*Frame{{Pts: NoPts(), SampleRate: 10, NumSamples: 5}}},
	}}
	w := NewDecoderWorker(StreamAudio, pq, fq, codec, nil, DecoderOptions{}, pkgLogger)
	runWorkerUntilIdle(t, w)

	pq.Put(&Packet{Kind: StreamAudio})
	require.Eventually(t, func() bool { return fq.NbRemaining() == 1 }, time.Second, 2*time.Millisecond)
	f1 := fq.PeekReadable()
	require.Equal(t, 1.0, f1.Pts)
	fq.Next()

	pq.Put(&Packet{Kind: StreamAudio})
	require.Eventually(t, func() bool { return fq.NbRemaining() == 1 }, time.Second, 2*time.Millisecond)
	f2 := fq.PeekReadable()
	require.Equal(t, 1.5, f2.Pts, "second frame with no pts of its own inherits the running next_pts")
}

func TestDecoderWorkerEarlyFramedropCountsAndSkips(t *testing.T) {
	a := NewClock(nil)
	v := NewClock(nil)
	e := NewClock(nil)
	sc := NewSyncController(a, v, e, true, true, SyncAudioMaster)
	a.Set(10.0, 0) // audio master ahead of the video clock
	v.Set(9.0, 0)  // video clock trails by 1s: within avNoSyncThreshold, past the drop filter delay

	pq := NewPacketQueue()
	pq.Start(StreamVideo)
	fq := NewFrameQueue(3, false, pq)
	codec := &scriptedDecoder{responses: []decodeResponse{
		{frames: []*Frame{{Pts: 0.0}}},
		{frames: []*Frame{{Pts: 0.1}}},
	}}
	w := NewDecoderWorker(StreamVideo, pq, fq, codec, sc, DecoderOptions{FramedropMode: 1}, pkgLogger)

	// Both packets are queued before the worker starts, so when the first is
	// decoded the second is still sitting in the queue: ShouldDropEarly only
	// fires when the video queue has a successor already waiting (§4.D).
	pq.Put(&Packet{Kind: StreamVideo, Duration: 0})
	pq.Put(&Packet{Kind: StreamVideo, Duration: 0})
	runWorkerUntilIdle(t, w)

	require.Eventually(t, func() bool { return w.FrameDropsEarly.Load() == 1 }, time.Second, 2*time.Millisecond)
	require.Eventually(t, func() bool { return fq.NbRemaining() == 1 }, time.Second, 2*time.Millisecond)
	require.Equal(t, 0.1, fq.PeekReadable().Pts, "only the first (backlog-shadowed) frame was dropped")
}
