package avcore

import "sync"

// PacketQueue is an ordered sequence of (packet, serial) pairs shared
// between a single producer (the Reader Driver) and a single consumer (a
// Decoder Worker), per §4.A. It owns a mutex and condition variable and is
// the only blocking point for its producer/consumer pair besides I/O
// itself, per §5.
//
// Serial semantics: enqueuing a flush packet (see FlushPacket) increments
// Serial() before the sentinel is tagged with the new value, so every
// packet dequeued after a flush carries a serial the consumer can compare
// against the queue's live serial to detect staleness (§4.A, §8 invariant 3).
type PacketQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items []*Packet

	nbPackets int
	size      int64
	duration  float64
	serial    int
	abort     bool
}

// NewPacketQueue returns an empty, non-aborted queue at serial 0.
func NewPacketQueue() *PacketQueue {
	q := &PacketQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// packetOverhead approximates the fixed per-entry bookkeeping cost ffmpeg's
// queue.c attributes to every queued AVPacket, so Size() tracks "byte
// total" rather than only payload bytes, matching §3's "size (byte total)"
// definition used by the MAX_QUEUE_SIZE backpressure check (§4.H).
const packetOverhead = 64

// Put appends pkt and wakes one waiter. It fails without enqueueing if the
// queue has been aborted. Enqueuing a flush packet bumps Serial() first and
// tags pkt with the new serial before appending it.
func (q *PacketQueue) Put(pkt *Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.putLocked(pkt)
}

func (q *PacketQueue) putLocked(pkt *Packet) bool {
	if q.abort {
		return false
	}

	if pkt.IsFlush {
		q.serial++
	}
	pkt.Serial = q.serial
	q.items = append(q.items, pkt)
	q.nbPackets++
	if !pkt.IsFlush {
		q.size += int64(len(pkt.Data)) + packetOverhead
		q.duration += pkt.Duration
	}
	q.cond.Signal()
	return true
}

// Get removes the head packet. If blocking is true, it waits until either a
// packet is available or abort is requested. ok is false if the queue was
// empty (non-blocking call) or aborted.
func (q *PacketQueue) Get(blocking bool) (pkt *Packet, serial int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.abort {
			return nil, 0, false
		}
		if len(q.items) > 0 {
			pkt = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.nbPackets--
			if !pkt.IsFlush {
				q.size -= int64(len(pkt.Data)) + packetOverhead
				q.duration -= pkt.Duration
			}
			return pkt, pkt.Serial, true
		}
		if !blocking {
			return nil, 0, false
		}
		q.cond.Wait()
	}
}

// Flush drops all queued packets and resets counters. It does NOT change
// Serial() — only a flush-packet Put() does that (§4.A).
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.nbPackets = 0
	q.size = 0
	q.duration = 0
}

// Start clears any abort and enqueues a flush packet, establishing a new
// serial epoch for whatever comes next (§4.A).
func (q *PacketQueue) Start(kind StreamKind) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abort = false
	q.putLocked(FlushPacket(kind))
}

// Abort sets the abort flag and wakes every blocked Get().
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abort = true
	q.cond.Broadcast()
}

// IsAborted reports whether Abort() has been called without a subsequent
// Start().
func (q *PacketQueue) IsAborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abort
}

// Serial returns the queue's current epoch.
func (q *PacketQueue) Serial() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

// NbPackets, Size, and Duration report the live queue statistics used by
// the Reader Driver's backpressure decision (§4.H, §5).
func (q *PacketQueue) NbPackets() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nbPackets
}

func (q *PacketQueue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *PacketQueue) Duration() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}
