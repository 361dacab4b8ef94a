package avcore

import "sync"

// FrameQueue is a fixed-capacity ring buffer of at most maxSize decoded
// Frames, with a keepLast flag (§3, §4.B). When keepLast is true, the most
// recently shown frame remains addressable as "last" even though it has
// logically been consumed — Next() delays releasing it by exactly one step.
//
// Readable count is size - rindexShown, per §4.B.
type FrameQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items   []*Frame
	maxSize int

	rindex      int
	windex      int
	size        int
	rindexShown int
	keepLast    bool

	pktq  *PacketQueue // consulted for abort (§5) and its live serial (QueueSerial)
	abort bool
}

// NewFrameQueue allocates a queue of the given capacity. pktq is the
// packet queue whose abort state this frame queue also respects, matching
// the coupling ffplay's frame_queue_init takes between a FrameQueue and its
// feeding PacketQueue.
func NewFrameQueue(maxSize int, keepLast bool, pktq *PacketQueue) *FrameQueue {
	fq := &FrameQueue{
		items:   make([]*Frame, maxSize),
		maxSize: maxSize,
		keepLast: keepLast,
		pktq:    pktq,
	}
	fq.cond = sync.NewCond(&fq.mu)
	return fq
}

func (fq *FrameQueue) abortedLocked() bool {
	return fq.abort || (fq.pktq != nil && fq.pktq.IsAborted())
}

// Abort wakes every blocked PeekWritable/PeekReadable caller with a nil
// result.
func (fq *FrameQueue) Abort() {
	fq.mu.Lock()
	fq.abort = true
	fq.cond.Broadcast()
	fq.mu.Unlock()
}

// PeekWritable blocks while the ring is full, returning the slot at windex
// to be filled by the caller, or nil if aborted.
func (fq *FrameQueue) PeekWritable() *Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for fq.size >= fq.maxSize && !fq.abortedLocked() {
		fq.cond.Wait()
	}
	if fq.abortedLocked() {
		return nil
	}
	if fq.items[fq.windex] == nil {
		fq.items[fq.windex] = &Frame{}
	}
	return fq.items[fq.windex]
}

// Push commits the slot most recently returned by PeekWritable, advancing
// windex modulo capacity and waking readers.
func (fq *FrameQueue) Push() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.windex = (fq.windex + 1) % fq.maxSize
	fq.size++
	fq.cond.Signal()
}

// PeekReadable blocks while the ring holds nothing new to show (accounting
// for rindexShown), returning the slot at (rindex+rindexShown)%cap, or nil
// if aborted.
func (fq *FrameQueue) PeekReadable() *Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for fq.size-fq.rindexShown <= 0 && !fq.abortedLocked() {
		fq.cond.Wait()
	}
	if fq.abortedLocked() {
		return nil
	}
	return fq.items[(fq.rindex+fq.rindexShown)%fq.maxSize]
}

// Peek is the non-blocking variant of PeekReadable; it returns nil if
// nothing new is available yet (without treating that as abort).
func (fq *FrameQueue) Peek() *Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.size-fq.rindexShown <= 0 {
		return nil
	}
	return fq.items[(fq.rindex+fq.rindexShown)%fq.maxSize]
}

// PeekNext peeks the slot after the current readable one.
func (fq *FrameQueue) PeekNext() *Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.size-fq.rindexShown <= 1 {
		return nil
	}
	return fq.items[(fq.rindex+fq.rindexShown+1)%fq.maxSize]
}

// PeekLast returns the slot at rindex; only meaningful when keepLast is set
// and rindexShown is 1 (§4.B, §8 invariant 2).
func (fq *FrameQueue) PeekLast() *Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if !fq.keepLast || fq.rindexShown == 0 {
		return nil
	}
	return fq.items[fq.rindex]
}

// Next releases the currently-shown frame. If keepLast is set and the just-
// shown frame hasn't been marked shown yet, it flips rindexShown to 1 and
// keeps the frame addressable via PeekLast instead of releasing it — this
// is the "keep the last frame visible for one extra step" rule from §3/§4.B.
func (fq *FrameQueue) Next() {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	if fq.keepLast && fq.rindexShown == 0 {
		fq.rindexShown = 1
		return
	}
	fq.rindex = (fq.rindex + 1) % fq.maxSize
	fq.size--
	fq.cond.Signal()
}

// NbRemaining reports size - rindexShown, the number of frames still
// waiting to be shown.
func (fq *FrameQueue) NbRemaining() int {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return fq.size - fq.rindexShown
}

// Size and MaxSize report the ring's live occupancy and fixed capacity.
func (fq *FrameQueue) Size() int {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return fq.size
}

func (fq *FrameQueue) MaxSize() int { return fq.maxSize }

// QueueSerial returns the live serial of the PacketQueue feeding this frame
// queue, used by consumers (the Presentation Scheduler, the Audio Output
// Pump) to detect frames that predate a seek (§4.F step 2).
func (fq *FrameQueue) QueueSerial() int {
	if fq.pktq == nil {
		return 0
	}
	return fq.pktq.Serial()
}
