package avcore

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/erparts/reisen"
)

// This file is the "abstract media-IO layer" spec.md §1 asks the core to
// depend on instead of a concrete demuxer/codec library: Demuxer and
// StreamDecoder are the only things reader.go and decoder.go import from
// here. reisenDemuxer/reisenStreamDecoder are the one concrete binding,
// grounded on the reisen calls already exercised by the teacher
// (player.go's newPlayer, controller_no_audio.go/controller_yes_audio.go's
// internalReadVideoFrame/internalReadAudioFrame).

// StreamInfo describes one elementary stream as reported by a Demuxer.
type StreamInfo struct {
	Index     int
	Kind      StreamKind
	TimeBase  float64 // seconds per tick
	StartTime float64 // seconds
	Width     int
	Height    int
	FrNum     int
	FrDenom   int
	SampleRate int
	Channels   int
	AttachedPic bool
}

// Demuxer opens a container (local file or network URL) and yields
// Packets. Seek takes byte-based or time-based bounds depending on
// byteBased, per §4.H. Everything here corresponds 1:1 to reisen calls;
// no container parsing happens above this interface.
type Demuxer interface {
	Streams() []StreamInfo
	Metadata() map[string]string

	OpenStream(index int) (StreamDecoder, error)
	CloseStream(index int) error

	// ReadPacket returns the next demuxed Packet. Because reisen couples
	// demuxing and decoding (ReadPacket() advances the underlying codec's
	// internal buffer, and the matching stream's ReadVideoFrame/
	// ReadAudioFrame call then drains it), the returned Packet's Payload
	// already carries the decoded native frame for whichever stream it
	// belongs to — see reisenDemuxer.ReadPacket's doc comment for why.
	ReadPacket() (*Packet, error) // io.EOF at end of stream

	Seek(streamIndex int, min, target, max int64, byteBased bool) error
	Rewind(streamIndex int, position time.Duration) error

	Close() error
}

// StreamDecoder turns a Packet (already carrying its decoded native frame
// payload, for the reisen backend) into zero or more avcore Frames, and
// resets any worker-local pts-continuation state on Flush.
type StreamDecoder interface {
	Decode(pkt *Packet) ([]*Frame, error)
	Flush()
	Close() error
}

// OpenReisenDemuxer opens url with reisen and probes its streams. It
// mirrors player.go's newPlayer stream-selection warnings.
func OpenReisenDemuxer(url string, log Logger) (Demuxer, error) {
	media, err := reisen.NewMedia(url)
	if err != nil {
		return nil, wrapErr(KindFatalInit, err)
	}

	d := &reisenDemuxer{media: media, log: log}
	for _, vs := range media.VideoStreams() {
		d.video = append(d.video, vs)
	}
	for _, as := range media.AudioStreams() {
		d.audio = append(d.audio, as)
	}
	if len(d.video) > 1 {
		log.Warnf("input has multiple video streams; defaulting to the first")
	}
	if len(d.audio) > 1 {
		log.Warnf("input has multiple audio streams; defaulting to the first")
	}
	// NOTE: reisen exposes no subtitle stream accessor, so Streams() never
	// reports a subtitle stream for this backend and the Session
	// Orchestrator opens no subtitle route.
	return d, media.OpenDecode()
}

type reisenDemuxer struct {
	media *reisen.Media
	video []*reisen.VideoStream
	audio []*reisen.AudioStream
	log   Logger
}

func (d *reisenDemuxer) Streams() []StreamInfo {
	var out []StreamInfo
	for _, vs := range d.video {
		num, denom := vs.FrameRate()
		dur, _ := vs.Duration()
		out = append(out, StreamInfo{
			Index: vs.Index(), Kind: StreamVideo,
			TimeBase: float64(denom) / float64(num),
			StartTime: 0, Width: vs.Width(), Height: vs.Height(),
			FrNum: num, FrDenom: denom,
		})
		_ = dur
	}
	for _, as := range d.audio {
		out = append(out, StreamInfo{
			Index: as.Index(), Kind: StreamAudio,
			SampleRate: as.SampleRate(),
			Channels:   as.ChannelCount(),
		})
	}
	return out
}

func (d *reisenDemuxer) Metadata() map[string]string { return map[string]string{} }

func (d *reisenDemuxer) OpenStream(index int) (StreamDecoder, error) {
	for _, vs := range d.video {
		if vs.Index() == index {
			if err := vs.Open(); err != nil {
				return nil, wrapErr(KindFatalInit, err)
			}
			return &reisenVideoDecoder{stream: vs}, nil
		}
	}
	for _, as := range d.audio {
		if as.Index() == index {
			if err := as.Open(); err != nil {
				return nil, wrapErr(KindFatalInit, err)
			}
			return &reisenAudioDecoder{stream: as}, nil
		}
	}
	return nil, fmt.Errorf("avcore: no such stream index %d", index)
}

func (d *reisenDemuxer) CloseStream(index int) error {
	for _, vs := range d.video {
		if vs.Index() == index {
			return vs.Close()
		}
	}
	for _, as := range d.audio {
		if as.Index() == index {
			return as.Close()
		}
	}
	return nil
}

// ReadPacket reads the next container packet and, for video/audio streams
// we track, immediately performs the matching ReadVideoFrame/ReadAudioFrame
// call reisen requires to drain the codec's internal buffer for that
// packet. The resulting *reisen.VideoFrame/*reisen.AudioFrame (nil on a
// frame skip) is attached to the returned Packet's Payload field, so the
// Decoder Worker on the consuming side still performs the serial/flush/
// framedrop/pts-continuation bookkeeping the spec assigns to it (§4.D) even
// though the actual codec call already happened here, on the reader thread.
func (d *reisenDemuxer) ReadPacket() (*Packet, error) {
	for {
		pkt, found, err := d.media.ReadPacket()
		if err != nil {
			return nil, wrapErr(KindIOTransient, err)
		}
		if !found {
			return nil, io.EOF
		}

		switch pkt.Type() {
		case reisen.StreamVideo:
			for _, vs := range d.video {
				if vs.Index() != pkt.StreamIndex() {
					continue
				}
				frame, _, err := vs.ReadVideoFrame()
				if err != nil {
					return nil, wrapErr(KindDecodeSkip, err)
				}
				return d.videoPacket(vs, frame), nil
			}
		case reisen.StreamAudio:
			for _, as := range d.audio {
				if as.Index() != pkt.StreamIndex() {
					continue
				}
				frame, _, err := as.ReadAudioFrame()
				if err != nil {
					return nil, wrapErr(KindDecodeSkip, err)
				}
				return d.audioPacket(as, frame), nil
			}
		default:
			// unhandled packet kind (e.g. data streams); keep reading
		}
	}
}

func (d *reisenDemuxer) videoPacket(vs *reisen.VideoStream, frame *reisen.VideoFrame) *Packet {
	p := &Packet{Kind: StreamVideo, StreamIndex: vs.Index(), Pts: NoPts(), Dts: NoPts()}
	if frame != nil {
		if off, err := frame.PresentationOffset(); err == nil {
			p.Pts = off.Seconds()
		}
		p.Payload = frame
	}
	return p
}

func (d *reisenDemuxer) audioPacket(as *reisen.AudioStream, frame *reisen.AudioFrame) *Packet {
	p := &Packet{Kind: StreamAudio, StreamIndex: as.Index(), Pts: NoPts(), Dts: NoPts()}
	if frame != nil {
		if off, err := frame.PresentationOffset(); err == nil {
			p.Pts = off.Seconds()
		}
		p.Payload = frame
	}
	return p
}

func (d *reisenDemuxer) Seek(streamIndex int, min, target, max int64, byteBased bool) error {
	// reisen's Rewind only accepts a time.Duration position, with no
	// byte-offset equivalent; byte-based seeking (-bytes) has no backend to
	// service it here (§9's Open Question on seek_min/seek_max fudge applies
	// to the time-based path reader.go actually drives).
	if byteBased {
		return wrapErr(KindIOTransient, ErrSeekUnsupported)
	}
	return d.Rewind(streamIndex, time.Duration(target)*time.Microsecond)
}

func (d *reisenDemuxer) Rewind(streamIndex int, position time.Duration) error {
	for _, vs := range d.video {
		if vs.Index() == streamIndex {
			return vs.Rewind(position)
		}
	}
	for _, as := range d.audio {
		if as.Index() == streamIndex {
			return as.Rewind(position)
		}
	}
	return fmt.Errorf("avcore: no such stream index %d", streamIndex)
}

func (d *reisenDemuxer) Close() error {
	_ = d.media.CloseDecode()
	d.media.Close()
	return nil
}

// reisenVideoDecoder implements StreamDecoder for a video stream whose
// packets already carry a decoded *reisen.VideoFrame payload (see
// reisenDemuxer.ReadPacket).
type reisenVideoDecoder struct {
	stream *reisen.VideoStream
}

func (vd *reisenVideoDecoder) Decode(pkt *Packet) ([]*Frame, error) {
	if pkt == nil || pkt.Payload == nil {
		return nil, nil
	}
	rf, ok := pkt.Payload.(*reisen.VideoFrame)
	if !ok || rf == nil {
		return nil, nil
	}
	return []*Frame{{
		Kind:        StreamVideo,
		Pts:         pkt.Pts,
		Duration:    math.NaN(),
		Serial:      pkt.Serial,
		Width:       vd.stream.Width(),
		Height:      vd.stream.Height(),
		PixelFormat: "rgba",
		Payload:     rf,
	}}, nil
}

func (vd *reisenVideoDecoder) Flush() {}
func (vd *reisenVideoDecoder) Close() error { return vd.stream.Close() }

// reisenAudioDecoder implements StreamDecoder for an audio stream.
type reisenAudioDecoder struct {
	stream *reisen.AudioStream
}

func (ad *reisenAudioDecoder) Decode(pkt *Packet) ([]*Frame, error) {
	if pkt == nil || pkt.Payload == nil {
		return nil, nil
	}
	rf, ok := pkt.Payload.(*reisen.AudioFrame)
	if !ok || rf == nil {
		return nil, nil
	}
	data := rf.Data()
	channels := ad.stream.ChannelCount()
	numSamples := 0
	if channels > 0 {
		numSamples = len(data) / (bytesPerSample * channels)
	}
	return []*Frame{{
		Kind:         StreamAudio,
		Pts:          pkt.Pts,
		Serial:       pkt.Serial,
		SampleRate:   ad.stream.SampleRate(),
		Channels:     channels,
		SampleFormat: "s16",
		NumSamples:   numSamples,
		Payload:      data,
	}}, nil
}

func (ad *reisenAudioDecoder) Flush() {}
func (ad *reisenAudioDecoder) Close() error { return ad.stream.Close() }
