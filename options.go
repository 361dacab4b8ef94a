package avcore

import "time"

// Options configures a Session end to end, replacing the global state the
// teacher's player.go/controller_*.go relied on. Most fields correspond to
// a flag in §6's CLI surface; SeekFudge and ReorderPts have no flag and
// keep their DefaultOptions values under cmd/avplay. cmd/avplay/main.go is
// the only place that parses flags, and it builds one of these.
type Options struct {
	// Input
	URL string

	// Stream selection
	DisableAudio    bool // -an
	DisableVideo    bool // -vn
	DisableSubtitle bool // -sn

	// Playback window
	StartTime time.Duration // -ss
	Duration  time.Duration // -t
	ByteSeek  int           // -bytes: 0 auto, 1 force, -1 disable

	// Sync
	SyncMode SyncMode // -sync

	// Looping/exit
	Loop     int // -loop
	Autoexit bool

	// Decoding/scheduling behavior
	FramedropMode int  // -drp
	InfiniteBuf   bool // -infbuf
	LowRes        int  // -lowres
	Fast          bool // -fast
	GenPts        bool // -genpts
	ReorderPts    int  // -drp is reused for ReorderPts in ffplay; kept distinct here for clarity

	// Output
	Volume int // -volume, 0..100

	SeekFudge time.Duration
}

// DefaultOptions mirrors ffplay's defaults for the flags this core answers
// to: sync on audio, framedrop auto, volume at MIX_MAX.
func DefaultOptions(url string) Options {
	return Options{
		URL:           url,
		SyncMode:      SyncAudioMaster,
		Loop:          1,
		FramedropMode: 0,
		Volume:        100,
		SeekFudge:     2 * time.Second,
	}
}
