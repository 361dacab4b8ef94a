package avcore

import (
	"context"
	"fmt"
	"time"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"golang.org/x/sync/errgroup"
)

// Session is the Session Orchestrator from §4.I: it owns creation and
// teardown of every other component, maps UI events to domain actions, and
// is the only type cmd/avplay talks to directly.
type Session struct {
	opts Options
	log  Logger

	demuxer Demuxer

	videoStream *StreamInfo
	audioStream *StreamInfo

	videoPQ, audioPQ *PacketQueue
	videoFQ, audioFQ *FrameQueue

	audioClock, videoClock, externalClock *Clock
	sync                                  *SyncController

	videoDecoder, audioDecoder *DecoderWorker

	scheduler  *Scheduler
	sink       VideoSink
	audioCtx   *audio.Context
	audioPump  *AudioPump
	reader     *Reader

	state  PlaybackState
	volume int // 0..volumeSteps*2==100

	cancel context.CancelFunc
	eg     *errgroup.Group
}

// NewSession opens the input and wires every component per §4.I, but does
// not start any worker goroutines yet (call Play to do that, matching the
// teacher's Play()-creates-resources convention in player.go).
func NewSession(opts Options, log Logger) (*Session, error) {
	if log == nil {
		log = pkgLogger
	}

	demuxer, err := OpenReisenDemuxer(opts.URL, log)
	if err != nil {
		return nil, err
	}

	s := &Session{opts: opts, log: log, demuxer: demuxer, state: Stopped, volume: opts.Volume}

	for _, si := range demuxer.Streams() {
		switch si.Kind {
		case StreamVideo:
			if s.videoStream == nil && !opts.DisableVideo {
				info := si
				s.videoStream = &info
			}
		case StreamAudio:
			if s.audioStream == nil && !opts.DisableAudio {
				info := si
				s.audioStream = &info
			}
		}
	}
	if s.videoStream == nil && s.audioStream == nil {
		demuxer.Close()
		return nil, wrapErr(KindFatalInit, ErrNoPlayableStreams)
	}

	s.externalClock = NewClock(nil)
	hasAudio := s.audioStream != nil
	hasVideo := s.videoStream != nil

	if hasVideo {
		s.videoPQ = NewPacketQueue()
		s.videoClock = NewClockForQueue(s.videoPQ)
		s.videoFQ = NewFrameQueue(videoFrameQueueSize, true, s.videoPQ)
	}
	if hasAudio {
		s.audioPQ = NewPacketQueue()
		s.audioClock = NewClockForQueue(s.audioPQ)
		s.audioFQ = NewFrameQueue(audioFrameQueueSize, false, s.audioPQ)
	}

	s.sync = NewSyncController(s.audioClock, s.videoClock, s.externalClock, hasAudio, hasVideo, opts.SyncMode)

	if hasVideo {
		codec, err := demuxer.OpenStream(s.videoStream.Index)
		if err != nil {
			demuxer.Close()
			return nil, err
		}
		s.videoDecoder = NewDecoderWorker(StreamVideo, s.videoPQ, s.videoFQ, codec, s.sync,
			DecoderOptions{ReorderPts: opts.ReorderPts, FramedropMode: opts.FramedropMode}, log)
		s.sink = NewEbitenVideoSink(s.videoStream.Width, s.videoStream.Height)
	}
	if hasAudio {
		codec, err := demuxer.OpenStream(s.audioStream.Index)
		if err != nil {
			demuxer.Close()
			return nil, err
		}
		s.audioDecoder = NewDecoderWorker(StreamAudio, s.audioPQ, s.audioFQ, codec, s.sync,
			DecoderOptions{ReorderPts: opts.ReorderPts}, log)
	}

	maxFrameDuration := maxFrameDurationUnknown
	if hasVideo && s.videoStream.FrNum > 0 {
		maxFrameDuration = maxFrameDurationStable
	}
	if hasVideo {
		s.scheduler = NewScheduler(s.videoFQ, nil, s.videoClock, s.externalClock, s.sync, s.sink, opts.FramedropMode, maxFrameDuration, log)
	}

	s.reader = NewReader(demuxer, s.externalClock, ReaderOptions{
		StartTime:   opts.StartTime.Seconds(),
		Duration:    opts.Duration.Seconds(),
		Loop:        loopCount(opts.Loop),
		Autoexit:    opts.Autoexit,
		InfiniteBuf: opts.InfiniteBuf,
		SeekFudge:   opts.SeekFudge,
	}, log)
	if hasVideo {
		s.reader.AddRoute(*s.videoStream, s.videoPQ, s.videoDecoder, s.videoFQ)
	}
	if hasAudio {
		s.reader.AddRoute(*s.audioStream, s.audioPQ, s.audioDecoder, s.audioFQ)
	}

	if hasAudio {
		s.audioCtx = audio.CurrentContext()
		if s.audioCtx == nil {
			s.audioCtx = audio.NewContext(s.audioStream.SampleRate)
		} else if s.audioCtx.SampleRate() != s.audioStream.SampleRate {
			// ebiten allows only one audio.Context per process and it cannot be
			// reconfigured once created; a prior Session pinned it to a rate this
			// input's native PCM doesn't match, and nothing in this pump resamples
			// across sample rates (only the AV-sync sample-count compensation in
			// audiopump.go's resamplePCM16).
			demuxer.Close()
			return nil, wrapErr(KindBackendRefusal, ErrSampleRateMismatch)
		}
		rate := s.audioCtx.SampleRate()
		channels := clampChannels(s.audioStream.Channels)
		s.audioPump = NewAudioPump(s.audioFQ, s.audioClock, s.sync, channels, rate, log)
		if err := s.audioPump.Open(s.audioCtx, playerBufferSize); err != nil {
			return nil, err
		}
		s.audioPump.SetVolume(float64(s.volume) / 100)
	}

	return s, nil
}

func clampChannels(c int) int {
	if c <= 0 {
		return 2
	}
	return c
}

func loopCount(l int) int {
	if l == 0 {
		return 0
	}
	return l
}

// Play starts (or resumes) playback: the first call launches the Reader and
// Decoder Worker goroutines under an errgroup, matching §4.I's "owns
// creation/teardown of all components" and the teacher's Play()-allocates
// convention.
func (s *Session) Play() error {
	if s.state == Playing {
		return nil
	}
	if s.eg == nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		eg, _ := errgroup.WithContext(ctx)
		s.eg = eg

		if s.videoPQ != nil {
			s.videoPQ.Start(StreamVideo)
		}
		if s.audioPQ != nil {
			s.audioPQ.Start(StreamAudio)
		}

		if s.videoDecoder != nil {
			eg.Go(s.videoDecoder.Run)
		}
		if s.audioDecoder != nil {
			eg.Go(s.audioDecoder.Run)
		}
		eg.Go(s.reader.Run)
	}

	if s.videoClock != nil {
		s.videoClock.SetPaused(false)
	}
	if s.audioClock != nil {
		s.audioClock.SetPaused(false)
	}
	s.externalClock.SetPaused(false)
	if s.audioPump != nil {
		s.audioPump.Play()
	}
	s.state = Playing
	return nil
}

// Pause freezes all three clocks, so Get() holds steady across scheduler
// ticks and the audio callback (§4.C's paused branch).
func (s *Session) Pause() error {
	if s.state != Playing {
		return nil
	}
	if s.videoClock != nil {
		s.videoClock.SetPaused(true)
	}
	if s.audioClock != nil {
		s.audioClock.SetPaused(true)
	}
	s.externalClock.SetPaused(true)
	if s.audioPump != nil {
		s.audioPump.Pause()
	}
	s.state = Paused
	return nil
}

// Stop aborts every queue and joins the worker goroutines. The Reader and
// the frame queues stay aborted afterwards and the demuxer is not rewound,
// so a later Play starts new goroutines but does not resume playback.
func (s *Session) Stop() error {
	if s.eg == nil {
		s.state = Stopped
		return nil
	}
	s.reader.Abort()
	if s.videoPQ != nil {
		s.videoPQ.Abort()
		s.videoFQ.Abort()
	}
	if s.audioPQ != nil {
		s.audioPQ.Abort()
		s.audioFQ.Abort()
	}
	s.cancel()
	err := s.eg.Wait()
	s.eg = nil
	s.state = Stopped
	return err
}

// Close tears down the Session permanently: Stop, then close sinks and the
// demuxer (§4.I "Quit ... tear down sinks").
func (s *Session) Close() error {
	if err := s.Stop(); err != nil {
		s.log.Warnf("error stopping session: %v", err)
	}
	if s.audioPump != nil {
		s.audioPump.Close()
	}
	return s.demuxer.Close()
}

// Tick drives the Presentation Scheduler once; the caller (cmd/avplay's
// ebiten Game.Update) is responsible for calling it at refreshRate cadence.
func (s *Session) Tick() {
	if s.scheduler == nil || s.state != Playing {
		return
	}
	remaining := float64(refreshRate) / float64(time.Second)
	s.scheduler.Tick(&remaining, nowSecondsMonotonic())
	if s.audioPump != nil {
		s.sync.AdjustExternalClockSpeed(s.queuedPacketCount())
	}
}

func (s *Session) queuedPacketCount() int {
	n := 0
	if s.videoPQ != nil {
		n += s.videoPQ.NbPackets()
	}
	if s.audioPQ != nil {
		n += s.audioPQ.NbPackets()
	}
	return n
}

// Scheduler exposes the Presentation Scheduler so cmd/avplay can call
// RenderTo(ebitenImage) from its Draw callback without Session re-exposing
// every ebiten type.
func (s *Session) Scheduler() *Scheduler { return s.scheduler }

// --- §4.I UI event mapping ---

// AdjustVolume implements Arrow Up/Down: ±1 step of MIX_MAX/volumeSteps.
func (s *Session) AdjustVolume(steps int) {
	stepSize := 100 / volumeSteps
	s.volume = int(clamp(float64(s.volume+steps*stepSize), 0, 100))
	if s.audioPump != nil {
		s.audioPump.SetVolume(float64(s.volume) / 100)
	}
}

// SeekRelative implements Arrow Left/Right: a relative seek of ±10s
// (time-based) or by an estimated byte offset (byte-based), per §4.I.
func (s *Session) SeekRelative(delta time.Duration) {
	pos := s.sync.MasterClock().Get()
	if pos != pos { // NaN
		pos = 0
	}

	if s.opts.ByteSeek == 1 {
		bitrate := s.estimateBitrate()
		byteDelta := int64(delta.Seconds() * bitrate / 8)
		s.reader.RequestSeek(SeekRequest{
			Target: byteDelta, ByteBased: true,
		})
		return
	}

	target := int64((pos + delta.Seconds()) * 1e6)
	s.reader.RequestSeek(SeekRequest{Target: target})
}

func (s *Session) estimateBitrate() float64 {
	// No container-level bitrate accessor is exposed by the demuxer
	// interface today; byte-based seeking uses the video queue's total
	// queued byte count (times 8) as a rough proxy, and 0 when that queue
	// is empty.
	if s.videoPQ != nil && s.videoPQ.NbPackets() > 0 {
		return float64(s.videoPQ.Size()) * 8
	}
	return 0
}

// Resize implements the window-resize event: the Presentation Scheduler's
// render path recomputes its viewport projection from the destination
// image's own bounds on every call (draw.go's CalcProjection), so there is
// no separate cached texture sized to the window to invalidate here; this
// hook exists so cmd/avplay has a single place to route the event through
// per §4.I's event list.
func (s *Session) Resize(w, h int) {
	s.log.Debugf("viewport resized to %dx%d", w, h)
}

// State reports the current playback state.
func (s *Session) State() PlaybackState { return s.state }

// Volume reports the current output volume, 0..100.
func (s *Session) Volume() int { return s.volume }

// VideoSize reports the native video resolution, or (0, 0) if no video
// stream is active.
func (s *Session) VideoSize() (int, int) {
	if s.videoStream == nil {
		return 0, 0
	}
	return s.videoStream.Width, s.videoStream.Height
}

// String gives a short human-readable status line (URL, state, volume).
func (s *Session) String() string {
	return fmt.Sprintf("avcore session[%s] state=%s vol=%d", s.opts.URL, s.state, s.volume)
}
