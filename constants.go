package avcore

import "time"

// Tunables lifted directly from spec.md §2-§8; names mirror the spec's
// prose so the arithmetic in sync.go/scheduler.go/reader.go can be checked
// line-by-line against the spec.
const (
	// Frame Queue capacities (§3).
	videoFrameQueueSize    = 3
	subtitleFrameQueueSize = 16
	audioFrameQueueSize    = 9

	// Sync Controller thresholds (§4.E).
	avSyncThresholdMin = 0.04
	avSyncThresholdMax = 0.1
	avNoSyncThreshold  = 10.0

	// External clock speed control (§4.E).
	externalClockSpeedMin   = 0.900
	externalClockSpeedMax   = 1.010
	externalClockSpeedStep  = 0.001
	externalClockMinFrames  = 2
	externalClockMaxFrames  = 10

	// Audio resample compensation (§4.E).
	audioDiffAvgNb = 20

	// Presentation Scheduler (§4.F).
	refreshRate            = 10 * time.Millisecond
	maxFrameDurationStable  = 3600.0
	maxFrameDurationUnknown = 10.0
	frameTimerCatchup       = 0.1

	// Reader/Demuxer Driver (§4.H).
	maxQueueSize             int64 = 15 * 1024 * 1024
	minFramesForEnoughStream       = 25
	enoughStreamDuration           = 1.0
	readerIdlePoll                 = 10 * time.Millisecond

	// Session Orchestrator volume control (§4.I).
	volumeSteps = 50 // 1/50 of MIX_MAX per arrow key step, per §4.I

	// playerBufferSize is the ebiten audio.Player's internal buffer size;
	// 200ms is comfortable on desktop targets (grounded on the teacher's
	// controller_yes_audio.go, which uses the same value for the same
	// reason).
	playerBufferSize time.Duration = 200 * time.Millisecond
)

// §6 audio sink fallback ladders.
var audioChannelFallback = []int{0, 0, 1, 6, 2, 6, 4, 6}
var audioRateFallback = []int{192000, 96000, 48000, 44100}
