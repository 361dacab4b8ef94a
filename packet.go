package avcore

import "math"

// StreamKind identifies the elementary stream type a Packet or Frame
// belongs to (§3).
type StreamKind uint8

const (
	StreamAudio StreamKind = iota
	StreamVideo
	StreamSubtitle
)

func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamVideo:
		return "video"
	case StreamSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// Packet is a demuxed unit: a byte payload, a stream identifier,
// decode/presentation timestamps (possibly absent, represented as NaN),
// and a duration (§3). Serial is assigned by PacketQueue.Put and reflects
// the queue epoch in effect when the packet was enqueued.
//
// IsFlush and IsEOF mark the two distinguished sentinel kinds from §3/§9:
// a flush sentinel commands a Decoder Worker to reset its codec state and
// bumps the queue's serial; a null/EOF packet signals end-of-stream so the
// worker can drain any buffered frames out of the codec. Neither ever
// reaches a real codec — decoder.go strips both out before calling Decode.
type Packet struct {
	Data        []byte
	StreamIndex int
	Kind        StreamKind
	Pts         float64 // seconds; math.NaN() if absent
	Dts         float64 // seconds; math.NaN() if absent
	Duration    float64 // in ticks of the stream's StreamInfo.TimeBase
	Pos         int64   // source byte position

	Serial int

	IsFlush bool
	IsEOF   bool
}

// NoPts is the sentinel used for an absent presentation/decode timestamp.
func NoPts() float64 { return math.NaN() }

// HasPts reports whether p carries a usable pts.
func (p *Packet) HasPts() bool { return p != nil && !math.IsNaN(p.Pts) }

// FlushPacket returns a fresh flush sentinel for the given stream kind.
// PacketQueue.Put recognizes it via IsFlush and bumps the queue's serial
// before tagging it.
func FlushPacket(kind StreamKind) *Packet {
	return &Packet{Kind: kind, IsFlush: true, Pts: NoPts(), Dts: NoPts()}
}

// EOFPacket returns a fresh "null packet" sentinel used by the Reader
// Driver to signal per-stream EOF/drain (§4.H, §4.D step 4).
func EOFPacket(kind StreamKind) *Packet {
	return &Packet{Kind: kind, IsEOF: true, Pts: NoPts(), Dts: NoPts()}
}
