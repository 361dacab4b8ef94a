package avcore

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// SeekRequest carries one pending seek, per §4.H step 2.
type SeekRequest struct {
	Min, Target, Max int64
	ByteBased        bool
}

// streamRoute is everything the Reader Driver needs per active elementary
// stream: its packet queue, the decoder consuming it (for Finished checks),
// and the frame queue that decoder feeds (for the EOF drain check).
type streamRoute struct {
	info       StreamInfo
	queue      *PacketQueue
	decoder    *DecoderWorker
	frameQueue *FrameQueue
}

// ReaderOptions configures the Reader Driver (§6 flags it answers to).
type ReaderOptions struct {
	StartTime    float64 // seconds; 0 if unset
	Duration     float64 // seconds; 0 means "to EOF"
	Loop         int     // 0 = infinite, 1 = play once, N = N times
	Autoexit     bool
	InfiniteBuf  bool // disables MAX_QUEUE_SIZE / enough-packets backpressure
	SeekFudge    time.Duration
}

// Reader is the Reader/Demuxer Driver from §4.H. It owns the Demuxer and
// runs on its own goroutine, feeding one PacketQueue per active stream and
// reacting to seek/abort requests posted by the Session Orchestrator.
type Reader struct {
	demuxer Demuxer
	routes  []*streamRoute
	opts    ReaderOptions
	log     Logger

	externalClock *Clock

	mu               sync.Mutex
	seekReq          *SeekRequest
	queueAttachments bool

	abortRequest atomic.Bool
	eof          bool
	loopsLeft    int
}

// NewReader wires a Reader over demuxer with routes already opened by the
// Session Orchestrator (OpenStream has been called for each selected
// stream; Reader only drives ReadPacket/Seek from here on).
func NewReader(demuxer Demuxer, externalClock *Clock, opts ReaderOptions, log Logger) *Reader {
	return &Reader{
		demuxer: demuxer, opts: opts, log: log,
		externalClock: externalClock,
		loopsLeft:     opts.Loop,
	}
}

// AddRoute registers an active stream's queue/decoder/frame-queue triple.
func (r *Reader) AddRoute(info StreamInfo, queue *PacketQueue, decoder *DecoderWorker, frameQueue *FrameQueue) {
	r.routes = append(r.routes, &streamRoute{info: info, queue: queue, decoder: decoder, frameQueue: frameQueue})
}

// RequestSeek posts a pending seek, consumed by the next main-loop
// iteration (§4.H step 2).
func (r *Reader) RequestSeek(req SeekRequest) {
	r.mu.Lock()
	r.seekReq = &req
	r.mu.Unlock()
}

// RequestAttachments arms the "enqueue the attached picture" step (§4.H
// step 3), used when the Session Orchestrator wants cover art shown before
// the first real video frame decodes.
func (r *Reader) RequestAttachments() {
	r.mu.Lock()
	r.queueAttachments = true
	r.mu.Unlock()
}

// Abort requests the main loop exit and wakes every queue it owns.
func (r *Reader) Abort() {
	r.abortRequest.Store(true)
	for _, rt := range r.routes {
		rt.queue.Abort()
	}
}

// Run executes the main loop (§4.H step 2) until aborted or, if autoexit is
// set, until EOF with no loops remaining.
func (r *Reader) Run() error {
	for {
		if r.abortRequest.Load() {
			return nil
		}

		if done, err := r.serviceSeek(); err != nil {
			return err
		} else if done {
			continue
		}

		r.serviceAttachments()

		if r.shouldWaitForBackpressure() {
			time.Sleep(readerIdlePoll)
			continue
		}

		if r.allStreamsFinishedAndDrained() {
			if r.loopsLeft != 1 {
				if r.loopsLeft > 1 {
					r.loopsLeft--
				}
				r.RequestSeek(SeekRequest{
					Target: int64(r.opts.StartTime * 1e6),
				})
				continue
			}
			if r.opts.Autoexit {
				return nil
			}
			time.Sleep(readerIdlePoll)
			continue
		}

		pkt, err := r.demuxer.ReadPacket()
		if errors.Is(err, io.EOF) {
			for _, rt := range r.routes {
				rt.queue.Put(EOFPacket(rt.info.Kind))
			}
			r.eof = true
			time.Sleep(readerIdlePoll)
			continue
		}
		if err != nil {
			return err
		}

		r.eof = false
		if !r.inPlayRange(pkt) {
			continue
		}
		r.dispatch(pkt)
	}
}

// serviceSeek implements §4.H step 2's seek handling: flush every active
// queue, tag it with a new flush sentinel, and either invalidate or reset
// the external clock depending on whether the seek was byte-based.
func (r *Reader) serviceSeek() (bool, error) {
	r.mu.Lock()
	req := r.seekReq
	r.seekReq = nil
	r.mu.Unlock()
	if req == nil {
		return false, nil
	}

	streamIdx := 0
	if len(r.routes) > 0 {
		streamIdx = r.routes[0].info.Index
	}

	min := req.Min - int64(r.opts.SeekFudge)
	max := req.Max + int64(r.opts.SeekFudge)
	if err := r.demuxer.Seek(streamIdx, min, req.Target, max, req.ByteBased); err != nil {
		r.log.Warnf("seek failed: %v", err)
		return true, nil
	}

	for _, rt := range r.routes {
		rt.queue.Flush()
		rt.queue.Start(rt.info.Kind)
	}

	if req.ByteBased {
		r.externalClock.Set(NoPts(), r.externalClock.Serial())
	} else {
		r.externalClock.Set(float64(req.Target)/1e6, r.externalClock.Serial()+1)
	}
	r.eof = false
	return true, nil
}

func (r *Reader) serviceAttachments() {
	r.mu.Lock()
	want := r.queueAttachments
	r.queueAttachments = false
	r.mu.Unlock()
	if !want {
		return
	}
	for _, rt := range r.routes {
		if rt.info.Kind != StreamVideo || !rt.info.AttachedPic {
			continue
		}
		pkt, err := r.demuxer.ReadPacket()
		if err != nil {
			continue
		}
		rt.queue.Put(pkt)
		rt.queue.Put(EOFPacket(StreamVideo))
	}
}

// shouldWaitForBackpressure implements §4.H's backpressure gate: total
// queued bytes over MAX_QUEUE_SIZE, or every active stream individually
// "has enough" (§9's resolved precedence).
func (r *Reader) shouldWaitForBackpressure() bool {
	if r.opts.InfiniteBuf {
		return false
	}

	var totalSize int64
	allEnough := len(r.routes) > 0
	for _, rt := range r.routes {
		totalSize += rt.queue.Size()
		if !r.streamHasEnoughPackets(rt) {
			allEnough = false
		}
	}
	return totalSize > maxQueueSize || allEnough
}

// streamHasEnoughPackets implements §9's resolved precedence for ffplay's
// stream_has_enough_packets: true for an invalid/aborted/attached-picture
// stream unconditionally, else nb_packets > 25 and (duration unknown or
// over 1 second).
func (r *Reader) streamHasEnoughPackets(rt *streamRoute) bool {
	if rt.info.Index < 0 || rt.queue.IsAborted() || rt.info.AttachedPic {
		return true
	}
	if rt.queue.NbPackets() <= minFramesForEnoughStream {
		return false
	}
	if rt.queue.Duration() == 0 {
		return true // no per-packet duration info to judge by; nb_packets alone decides
	}
	dur := rt.queue.Duration() * rt.info.TimeBase
	return dur > enoughStreamDuration
}

// allStreamsFinishedAndDrained implements §4.H's EOF-handling precondition:
// every route's decoder reached EOF at the queue's live serial and its
// frame queue has nothing left to show.
func (r *Reader) allStreamsFinishedAndDrained() bool {
	if len(r.routes) == 0 {
		return false
	}
	for _, rt := range r.routes {
		if rt.decoder.Finished() != rt.queue.Serial() {
			return false
		}
		if rt.frameQueue.NbRemaining() > 0 {
			return false
		}
	}
	return true
}

// inPlayRange implements §4.H's final step: a packet is kept only if its
// pts falls within [start_time, start_time+duration] on the stream's time
// base, when a duration limit is configured.
func (r *Reader) inPlayRange(pkt *Packet) bool {
	if r.opts.Duration <= 0 {
		return true
	}
	if !pkt.HasPts() {
		return true
	}
	end := r.opts.StartTime + r.opts.Duration
	return pkt.Pts >= r.opts.StartTime && pkt.Pts <= end
}

func (r *Reader) dispatch(pkt *Packet) {
	for _, rt := range r.routes {
		if rt.info.Index == pkt.StreamIndex {
			rt.queue.Put(pkt)
			return
		}
	}
}
