package avcore

import (
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
)

// Scheduler is the Presentation Scheduler from §4.F: it runs on a 100Hz
// (refreshRate) tick, decides when the currently-queued video frame becomes
// due relative to the sync clocks, and advances subtitle display alongside
// it. It owns no decode state; it only reads from the video (and optional
// subtitle) FrameQueues and writes to the video Clock and external Clock.
type Scheduler struct {
	video    *FrameQueue
	subtitle *FrameQueue // nil if no subtitle stream, per §4.F step 10

	videoClock    *Clock
	externalClock *Clock
	sync          *SyncController
	sink          VideoSink
	log           Logger

	frameTimer       float64
	forceRefresh     bool
	maxFrameDuration float64
	framedropMode    int

	FrameDropsLate atomic.Int64

	curSubtitleText string
}

// NewScheduler wires a Scheduler. maxFrameDuration should be
// maxFrameDurationStable or maxFrameDurationUnknown depending on whether the
// input has a reliable frame rate (§4.F step 4 / constants.go).
func NewScheduler(video, subtitle *FrameQueue, videoClock, externalClock *Clock, sc *SyncController, sink VideoSink, framedropMode int, maxFrameDuration float64, log Logger) *Scheduler {
	return &Scheduler{
		video: video, subtitle: subtitle,
		videoClock: videoClock, externalClock: externalClock,
		sync: sc, sink: sink, log: log,
		maxFrameDuration: maxFrameDuration,
		framedropMode:    framedropMode,
		forceRefresh:     true,
	}
}

// vpDuration implements §4.F step 4's nominal-duration rule: when cur and
// next share a serial, the gap between their pts if it lies in
// (0, maxFrameDuration], else cur's own Duration (not clamped); 0 when
// either frame is missing or the serials differ.
func (s *Scheduler) vpDuration(cur, next *Frame) float64 {
	if cur == nil {
		return 0
	}
	if next != nil && next.Serial == cur.Serial {
		d := next.Pts - cur.Pts
		if !(d > 0 && d <= s.maxFrameDuration) {
			return cur.Duration
		}
		return d
	}
	return 0
}

// Tick implements one call of §4.F's video_refresh loop. remainingTime is an
// in/out parameter: Tick clamps it down to how long the caller should sleep
// before calling Tick again (the 100Hz refreshRate cadence is enforced by
// the caller, typically the Session Orchestrator's game loop).
func (s *Scheduler) Tick(remainingTime *float64, now float64) {
	for {
		if s.video.NbRemaining() == 0 {
			return
		}

		var lastvp, vp *Frame
		retry := true
		for retry {
			retry = false

			if s.video.NbRemaining() == 0 {
				return
			}

			lastvp = s.video.PeekLast()
			vp = s.video.Peek()
			if vp == nil {
				return
			}

			if vp.Serial != s.video.QueueSerial() {
				s.video.Next()
				retry = true
				continue
			}

			if lastvp != nil && lastvp.Serial != vp.Serial {
				s.frameTimer = now
			}
		}

		if s.videoClock.Paused() {
			return
		}

		lastDuration := s.vpDuration(lastvp, vp)
		delay := s.sync.ComputeTargetDelay(lastDuration, s.maxFrameDuration)

		if now < s.frameTimer+delay {
			wait := s.frameTimer + delay - now
			if *remainingTime > wait {
				*remainingTime = wait
			}
			return
		}

		s.frameTimer += delay
		if delay > 0 && now-s.frameTimer > frameTimerCatchup {
			s.frameTimer = now
		}

		s.videoClock.Set(vp.Pts, vp.Serial)
		s.externalClock.SyncToSlave(s.videoClock)

		if s.video.NbRemaining() > 1 {
			next := s.video.PeekNext()
			dur := s.vpDuration(vp, next)
			if s.sync.ShouldDropLate(s.framedropMode) && now > s.frameTimer+dur {
				s.FrameDropsLate.Add(1)
				s.video.Next()
				continue // re-evaluate against the next queued frame
			}
		}

		s.advanceSubtitles(s.videoClock.Get())

		s.video.Next()
		s.forceRefresh = true
		s.render()
		return
	}
}

// advanceSubtitles implements §4.F step 10: drop subtitle frames whose
// display window has elapsed, tracking the live subtitle text for Render.
func (s *Scheduler) advanceSubtitles(now float64) {
	if s.subtitle == nil {
		return
	}
	for s.subtitle.NbRemaining() > 0 {
		sp := s.subtitle.Peek()
		if sp == nil || sp.Serial != s.subtitle.QueueSerial() {
			s.subtitle.Next()
			continue
		}
		if now < sp.Pts {
			break
		}
		if now > sp.SubtitleEndDisplay {
			s.curSubtitleText = ""
			s.subtitle.Next()
			continue
		}
		if text, ok := sp.Payload.(string); ok {
			s.curSubtitleText = text
		}
		break
	}
}

// CurrentSubtitle returns the subtitle text currently due for display, or
// "" if none.
func (s *Scheduler) CurrentSubtitle() string { return s.curSubtitleText }

func (s *Scheduler) render() {
	if s.sink == nil {
		return
	}
	vp := s.video.PeekLast()
	if vp == nil {
		return
	}
	_ = s.sink.Upload(vp)
}

// RenderTo draws the last uploaded video frame into dst, for use from an
// ebiten Game.Draw callback. ForceRefresh is consumed (reset to false) so
// repeated draws between ticks don't re-trigger upload logic elsewhere.
func (s *Scheduler) RenderTo(dst *ebiten.Image) {
	s.forceRefresh = false
	if s.sink == nil {
		return
	}
	s.sink.Render(dst)
}

// ForceRefresh reports whether a new frame was presented since the last
// RenderTo call.
func (s *Scheduler) ForceRefresh() bool { return s.forceRefresh }

// nowSecondsMonotonic supplies the "now" argument for Tick (session.go's
// Tick calls it once per game-loop update), on the same time base the
// Clocks use.
func nowSecondsMonotonic() float64 {
	return nowSeconds()
}
