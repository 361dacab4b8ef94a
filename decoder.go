package avcore

import (
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
)

// DecoderOptions configures a single DecoderWorker.
type DecoderOptions struct {
	// ReorderPts mirrors ffplay's -drp flag: -1 best-effort, 0 decode
	// timestamp, 1 presentation timestamp. The reisen backend already
	// resolves this internally (PresentationOffset already applies the
	// stream's preferred reordering and time-base conversion), so for that
	// backend this field is carried for parity with the spec and future
	// demuxer backends rather than acted on directly — see mediaio.go.
	ReorderPts int

	// FramedropMode follows §6: -1 off, 0 auto (drop whenever the master
	// clock isn't the video clock), 1 on.
	FramedropMode int
}

// DecoderWorker is one of the Decoder Worker threads from §4.D: it owns a
// packet queue, a frame queue, and a codec-shaped StreamDecoder; its loop
// (Run) executes on a goroutine its owner starts.
type DecoderWorker struct {
	Kind StreamKind

	packetQueue *PacketQueue
	frameQueue  *FrameQueue
	codec       StreamDecoder
	sync        *SyncController
	opts        DecoderOptions
	log         Logger

	// running state (§3 Decoder State)
	finished int // serial at which EOF was reached; 0 == not finished
	nextPts  float64
	mu       sync.Mutex

	FrameDropsEarly atomic.Int64
}

// NewDecoderWorker wires a worker for one stream.
func NewDecoderWorker(kind StreamKind, pq *PacketQueue, fq *FrameQueue, codec StreamDecoder, sc *SyncController, opts DecoderOptions, log Logger) *DecoderWorker {
	return &DecoderWorker{
		Kind: kind, packetQueue: pq, frameQueue: fq, codec: codec,
		sync: sc, opts: opts, log: log, nextPts: NoPts(),
	}
}

// Finished reports the serial at which this worker last reached EOF, or 0
// if it hasn't (§3).
func (w *DecoderWorker) Finished() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

// Run executes the decode loop (§4.D) until the packet queue is aborted.
// It is meant to be launched as `go worker.Run()` (or under an errgroup,
// see session.go) by the owning Session Orchestrator.
func (w *DecoderWorker) Run() error {
	for {
		pkt, serial, ok := w.packetQueue.Get(true)
		if !ok {
			return nil // aborted
		}

		if pkt.IsFlush {
			w.codec.Flush()
			w.mu.Lock()
			w.finished = 0
			w.nextPts = NoPts()
			w.mu.Unlock()
			continue
		}

		if serial != w.packetQueue.Serial() {
			// stale packet from a superseded epoch (§4.D step 1, STALE_SERIAL)
			continue
		}

		if pkt.IsEOF {
			frames, err := w.codec.Decode(nil)
			if err != nil && !errors.Is(err, io.EOF) {
				w.log.Debugf("%s decoder drain error: %v", w.Kind, err)
			}
			w.pushFrames(frames, serial)
			w.mu.Lock()
			w.finished = serial
			w.mu.Unlock()
			continue
		}

		frames, err := w.codec.Decode(pkt)
		if err != nil {
			w.log.Debugf("%s decode error, dropping packet: %v", w.Kind, err)
			continue // DECODE_SKIP
		}
		w.pushFrames(frames, serial)
	}
}

func (w *DecoderWorker) pushFrames(frames []*Frame, serial int) {
	for _, f := range frames {
		f.Serial = serial
		w.computePts(f)

		if w.Kind == StreamVideo && w.shouldDropEarly(f) {
			w.FrameDropsEarly.Add(1)
			continue // early framedrop, §4.D
		}

		slot := w.frameQueue.PeekWritable()
		if slot == nil {
			return // aborted
		}
		*slot = *f
		w.frameQueue.Push()
	}
}

// computePts applies §4.D step 3's per-kind pts computation. For audio,
// it tracks the running next_pts fallback when a frame arrives without a
// usable pts.
func (w *DecoderWorker) computePts(f *Frame) {
	switch w.Kind {
	case StreamAudio:
		w.mu.Lock()
		defer w.mu.Unlock()
		if math.IsNaN(f.Pts) {
			f.Pts = w.nextPts
		}
		if f.SampleRate > 0 && f.NumSamples > 0 {
			w.nextPts = f.Pts + float64(f.NumSamples)/float64(f.SampleRate)
		}
	case StreamVideo, StreamSubtitle:
		// already resolved by the demuxer backend (reisen's
		// PresentationOffset already applies reorder_pts + time-base
		// conversion); nothing further to do here.
	}
}

func (w *DecoderWorker) shouldDropEarly(f *Frame) bool {
	if w.sync == nil || w.sync.Video == nil {
		return false
	}
	return w.sync.ShouldDropEarly(w.opts.FramedropMode, f.Pts, f.Serial, w.packetQueue.Serial(), w.packetQueue.NbPackets() > 0)
}
