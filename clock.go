package avcore

import (
	"math"
	"sync"
	"time"
)

// SerialSource is queried by a Clock to detect when its backing queue has
// been invalidated by a seek (§9's "pointer back-reference → value
// snapshot via callback" design note — this is that callback, generalized
// to an interface so a Clock never needs a raw pointer into a queue).
type SerialSource interface {
	Serial() int
}

// packetQueueSerial adapts a *PacketQueue to SerialSource.
type packetQueueSerial struct{ q *PacketQueue }

func (p packetQueueSerial) Serial() int { return p.q.Serial() }

// Clock is a monotonic, pts-based clock with drift and speed compensation
// (§4.C). There is exactly one designated writer per clock instance (§5);
// readers call Get() without additional external locking, though the
// struct's own mutex still guards the tuple against torn reads of the
// individual fields.
type Clock struct {
	mu sync.Mutex

	ptsBase     float64 // seconds
	ptsDrift    float64 // seconds
	lastUpdated float64 // seconds, monotonic
	speed       float64
	serial      int
	paused      bool

	queueSerial SerialSource
}

// nowSeconds returns a monotonic clock reading in seconds, used as the
// Clock's "now" everywhere so the spec's formulas can be implemented
// verbatim against a float64 time base instead of threading time.Time
// around.
func nowSeconds() float64 {
	return time.Since(clockEpoch).Seconds()
}

// clockEpoch anchors nowSeconds; time.Since uses its monotonic reading.
var clockEpoch = time.Now()

// NewClock initializes a clock with speed=1, unpaused, pts=NaN, bound to
// queueSerial for invalidation checks (§4.C "init").
func NewClock(queueSerial SerialSource) *Clock {
	c := &Clock{
		speed:       1,
		ptsBase:     NoPts(),
		ptsDrift:    NoPts(),
		queueSerial: queueSerial,
	}
	return c
}

// NewClockForQueue is a convenience constructor binding the clock directly
// to a PacketQueue's serial.
func NewClockForQueue(q *PacketQueue) *Clock {
	return NewClock(packetQueueSerial{q})
}

// Get returns the current pts estimate: NaN if the backing queue's serial
// has moved on since this clock was last set (invalidated by a seek), the
// frozen pts while paused, or the drift formula from §3/§4.C otherwise.
func (c *Clock) Get() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked()
}

func (c *Clock) getLocked() float64 {
	if c.queueSerial != nil && c.queueSerial.Serial() != c.serial {
		return math.NaN()
	}
	if c.paused {
		return c.ptsBase
	}
	now := nowSeconds()
	return c.ptsDrift + now - (now-c.lastUpdated)*(1-c.speed)
}

// SetAt updates the clock to represent pts as of serial, observed at wall-
// clock time now (§4.C "set_at").
func (c *Clock) SetAt(pts float64, serial int, now float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ptsBase = pts
	c.lastUpdated = now
	c.ptsDrift = pts - now
	c.serial = serial
}

// Set is SetAt using the current wall-clock time.
func (c *Clock) Set(pts float64, serial int) {
	c.SetAt(pts, serial, nowSeconds())
}

// SetSpeed reads the clock's current value and rewrites it with the new
// speed, so the clock stays continuous across the speed change (§4.C).
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	pts := c.getLocked()
	serial := c.serial
	c.mu.Unlock()
	c.Set(pts, serial)
	c.mu.Lock()
	c.speed = speed
	c.mu.Unlock()
}

// Speed returns the clock's current speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// SetPaused pauses or resumes the clock. Pausing freezes Get() at the pts
// observed at the moment of the call (via the paused branch of getLocked).
func (c *Clock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if paused == c.paused {
		return
	}
	if paused {
		// freeze at the current estimate
		c.ptsBase = c.getLocked()
	}
	c.paused = paused
	if !paused {
		now := nowSeconds()
		c.ptsDrift = c.ptsBase - now
		c.lastUpdated = now
	}
}

// Paused reports whether the clock is currently paused.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Serial returns the serial this clock was last Set/SetAt with.
func (c *Clock) Serial() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serial
}

// SyncToSlave snaps this clock (the master) to slave if slave is valid and
// either this clock is invalid or the two differ by more than
// avNoSyncThreshold (§4.C).
func (c *Clock) SyncToSlave(slave *Clock) {
	cur := c.Get()
	slavePts := slave.Get()
	if !math.IsNaN(slavePts) && (math.IsNaN(cur) || math.Abs(cur-slavePts) > avNoSyncThreshold) {
		slave.mu.Lock()
		serial := slave.serial
		slave.mu.Unlock()
		c.Set(slavePts, serial)
	}
}
