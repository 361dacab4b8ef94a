package avcore

// Frame is a decoded audio sample run, decoded video picture, or decoded
// subtitle (§3). Payload carries the kind-specific decoded data; the core
// never interprets it directly beyond handing it to a sink, per §1's
// "abstract video sink/audio sink collaborators" scoping.
type Frame struct {
	Kind StreamKind

	Pts      float64 // seconds, may be NaN
	Duration float64 // estimated duration, seconds
	Pos      int64   // source byte position
	Serial   int     // serial of the originating packet

	// Video format descriptors.
	Width, Height int
	PixelFormat   string

	// Audio format descriptors.
	SampleRate    int
	Channels      int
	SampleFormat  string
	NumSamples    int

	// Subtitle-specific.
	SubtitleEndDisplay float64 // pts at which the subtitle should be cleared

	Payload any
}
