package avcore

import "math"

// SyncMode selects which of the three clocks callers want as master,
// subject to fallback rules in GetMasterSyncType (§4.E).
type SyncMode uint8

const (
	SyncAudioMaster SyncMode = iota
	SyncVideoMaster
	SyncExternalMaster
)

func (m SyncMode) String() string {
	switch m {
	case SyncAudioMaster:
		return "audio"
	case SyncVideoMaster:
		return "video"
	default:
		return "external"
	}
}

// SyncController is consulted by the Decoder Worker, Presentation
// Scheduler, and Audio Output Pump (§4.E). It owns no queues; it is pure
// policy over the three Clocks plus whatever stream-presence/packet-queue
// facts it's given.
type SyncController struct {
	Audio    *Clock
	Video    *Clock
	External *Clock

	mode       SyncMode
	hasAudio   bool
	hasVideo   bool

	// audio resample compensation state (§4.E)
	audioDiffCum     float64
	audioDiffAvgCnt  int
	audioDiffThreshold float64

	// external clock speed control state (§4.E)
	realtime bool
}

// NewSyncController wires the three clocks and records which streams are
// actually present, since GetMasterSyncType's fallback depends on it.
func NewSyncController(audio, video, external *Clock, hasAudio, hasVideo bool, mode SyncMode) *SyncController {
	return &SyncController{
		Audio: audio, Video: video, External: external,
		hasAudio: hasAudio, hasVideo: hasVideo, mode: mode,
	}
}

func (s *SyncController) SetMode(mode SyncMode) { s.mode = mode }
func (s *SyncController) Mode() SyncMode        { return s.mode }

// GetMasterSyncType resolves the configured mode against stream presence
// (§4.E).
func (s *SyncController) GetMasterSyncType() SyncMode {
	switch s.mode {
	case SyncVideoMaster:
		if s.hasVideo {
			return SyncVideoMaster
		}
		return SyncAudioMaster
	case SyncAudioMaster:
		if s.hasAudio {
			return SyncAudioMaster
		}
		return SyncExternalMaster
	default:
		return SyncExternalMaster
	}
}

// MasterClock returns the Clock instance currently acting as master.
func (s *SyncController) MasterClock() *Clock {
	switch s.GetMasterSyncType() {
	case SyncVideoMaster:
		return s.Video
	case SyncAudioMaster:
		return s.Audio
	default:
		return s.External
	}
}

// ComputeTargetDelay implements §4.E's target-delay formula for a video
// frame whose nominal duration (time between the previous frame's pts and
// this one's) is d, as computed by Scheduler.vpDuration (which yields 0 when
// there is no previous frame of the same serial).
func (s *SyncController) ComputeTargetDelay(d, maxFrameDuration float64) float64 {
	if s.GetMasterSyncType() == SyncVideoMaster {
		return d
	}

	diff := s.Video.Get() - s.MasterClock().Get()
	threshold := clamp(d, avSyncThresholdMin, avSyncThresholdMax)

	delay := d
	if !math.IsNaN(diff) && math.Abs(diff) < maxFrameDuration {
		switch {
		case diff <= -threshold:
			delay = math.Max(0, d+diff)
		case diff >= threshold && d > avSyncThresholdMax:
			delay = d + diff
		case diff >= threshold:
			delay = 2 * d
		default:
			delay = d
		}
	}
	return delay
}

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ShouldDropEarly implements §4.D's early video-framedrop predicate.
// framedropMode follows §6's -drp convention: -1 off, 0 auto, 1 on. Auto
// means "drop whenever the master clock isn't the video clock".
func (s *SyncController) ShouldDropEarly(framedropMode int, framePts float64, frameSerial, videoQueueSerial int, videoQueueNonEmpty bool) bool {
	enabled := framedropMode > 0 || (framedropMode == 0 && s.GetMasterSyncType() != SyncVideoMaster)
	if !enabled {
		return false
	}
	if frameSerial != videoQueueSerial || !videoQueueNonEmpty {
		return false
	}
	diff := s.Video.Get() - s.MasterClock().Get()
	if math.IsNaN(diff) || math.Abs(diff) >= avNoSyncThreshold {
		return false
	}
	return diff < -videoFrameDropFilterDelay
}

// ShouldDropLate implements §4.F step 9's late-drop enable check: framedrop
// is enabled (or auto because master != video). The caller supplies the
// wall-clock lateness test itself (it needs frame_timer, which the Sync
// Controller doesn't own).
func (s *SyncController) ShouldDropLate(framedropMode int) bool {
	return framedropMode > 0 || (framedropMode == 0 && s.GetMasterSyncType() != SyncVideoMaster)
}

// videoFrameDropFilterDelay stands in for ffplay's frame_last_filter_delay:
// the latency the (out-of-scope, per §1) video filter graph would add
// before a frame reaches the scheduler. Since this core has no filter
// graph, that delay is always 0.
const videoFrameDropFilterDelay = 0.0

// audioDiffAlpha is exp(ln(0.01)/AUDIO_DIFF_AVG_NB): ~audioDiffAvgNb
// samples produce a stable exponential moving average (§4.E).
var audioDiffAlpha = math.Exp(math.Log(0.01) / float64(audioDiffAvgNb))

// SetAudioDiffThreshold configures the HW-buffer-derived threshold used by
// ComputeAudioResample (bufBytes / bytesPerSec, per §4.E).
func (s *SyncController) SetAudioDiffThreshold(bufBytes int, bytesPerSec float64) {
	if bytesPerSec <= 0 {
		s.audioDiffThreshold = 0
		return
	}
	s.audioDiffThreshold = float64(bufBytes) / bytesPerSec
}

// ComputeAudioResample implements §4.E's resample compensation: given the
// frame's nominal sample count and source sample rate, it returns the
// number of output samples the resampler should be asked to produce. It is
// a no-op (returns nbSamples unchanged) when audio is the master clock.
func (s *SyncController) ComputeAudioResample(nbSamples int, srcFreq float64) int {
	if s.GetMasterSyncType() == SyncAudioMaster {
		return nbSamples
	}

	diff := s.Audio.Get() - s.MasterClock().Get()
	if math.IsNaN(diff) || math.Abs(diff) >= avNoSyncThreshold {
		s.audioDiffCum = 0
		s.audioDiffAvgCnt = 0
		return nbSamples
	}

	s.audioDiffCum = diff + audioDiffAlpha*s.audioDiffCum
	if s.audioDiffAvgCnt < audioDiffAvgNb {
		s.audioDiffAvgCnt++
		return nbSamples
	}

	avg := s.audioDiffCum * (1 - audioDiffAlpha)
	if math.Abs(avg) < s.audioDiffThreshold {
		return nbSamples
	}

	wanted := float64(nbSamples) + diff*srcFreq
	minW := float64(nbSamples) * 0.90
	maxW := float64(nbSamples) * 1.10
	wanted = clamp(wanted, minW, maxW)
	return int(math.Round(wanted))
}

// ExternalClockSpeedStep returns the signed speed adjustment
// (§4.E's "External clock speed control"), given the combined queued
// packet count across active audio+video packet queues. It returns 0 when
// no adjustment is warranted (either not realtime/external-master, or the
// count is within bounds).
func (s *SyncController) ExternalClockSpeedStep(queuedPackets int) float64 {
	if !s.realtime || s.GetMasterSyncType() != SyncExternalMaster {
		return 0
	}
	switch {
	case queuedPackets <= externalClockMinFrames:
		return -externalClockSpeedStep
	case queuedPackets >= externalClockMaxFrames:
		return externalClockSpeedStep
	default:
		return 0
	}
}

// SetRealtime marks whether the input source is realtime (e.g. a live
// network stream), which is the precondition for external-clock speed
// adjustment (§4.E).
func (s *SyncController) SetRealtime(realtime bool) { s.realtime = realtime }

// AdjustExternalClockSpeed applies ExternalClockSpeedStep's result to the
// external clock, clamped to [externalClockSpeedMin, externalClockSpeedMax].
func (s *SyncController) AdjustExternalClockSpeed(queuedPackets int) {
	step := s.ExternalClockSpeedStep(queuedPackets)
	if step == 0 {
		return
	}
	newSpeed := clamp(s.External.Speed()+step, externalClockSpeedMin, externalClockSpeedMax)
	s.External.SetSpeed(newSpeed)
}
