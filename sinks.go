package avcore

import (
	"image"
	"image/color"

	"github.com/erparts/reisen"
	"github.com/hajimehoshi/ebiten/v2"
)

// VideoSink is the "abstract video sink" collaborator from §1/§6: texture
// allocation, per-frame upload, and rendering into a destination. The
// Presentation Scheduler is the only core component that calls it.
type VideoSink interface {
	// Upload converts and uploads f's pixel data, allocating/resizing its
	// backing texture on demand (§9's "direct synchronous allocation"
	// design note — no cross-thread event marshalling is needed on
	// ebitengine, unlike the SDL original this spec is modeled on).
	Upload(f *Frame) error
	// Render draws the most recently uploaded frame into dst, scaled to
	// preserve aspect ratio (teacher's draw.go behavior).
	Render(dst *ebiten.Image)
}

// ebitenVideoSink adapts an *ebiten.Image as the video sink, following the
// teacher's Player.currentFrame / copyFrame / draw.go design.
type ebitenVideoSink struct {
	texture *ebiten.Image
}

// NewEbitenVideoSink allocates a black w x h texture, matching
// player.go's newPlayer (`ebiten.NewImage(...); img.Fill(color.Black)`).
func NewEbitenVideoSink(w, h int) VideoSink {
	img := ebiten.NewImage(w, h)
	img.Fill(color.Black)
	return &ebitenVideoSink{texture: img}
}

// Upload routes by pixel format: "rgba" frames carrying a *reisen.VideoFrame
// are written to the texture directly; "yuv420p" and every other format go
// through uploadViaScale. There is no separate BGRA or native YUV path. The
// reisen backend already decodes into a directly-uploadable RGBA buffer
// (see player.go's copyFrame, which calls WritePixels directly on
// frame.Data()), so only that fast path is exercised today.
func (s *ebitenVideoSink) Upload(f *Frame) error {
	if f == nil || f.Payload == nil {
		return nil
	}

	w, h := f.Width, f.Height
	if s.texture == nil || s.texture.Bounds().Dx() != w || s.texture.Bounds().Dy() != h {
		s.texture = ebiten.NewImage(w, h)
	}

	switch f.PixelFormat {
	case "rgba":
		if rf, ok := f.Payload.(*reisen.VideoFrame); ok {
			s.texture.WritePixels(rf.Data())
		}
	case "yuv420p":
		return s.uploadYUV420P(f)
	default:
		return s.uploadViaScale(f)
	}
	return nil
}

// uploadYUV420P hands YUV420P frames to uploadViaScale; there is no native
// planar YUV upload. reisen never surfaces this format (it decodes straight
// to RGBA).
func (s *ebitenVideoSink) uploadYUV420P(f *Frame) error {
	return s.uploadViaScale(f)
}

// uploadViaScale converts an image.Image payload to BGRA bytes pixel by
// pixel (no conversion context is cached) and uploads them; payloads of any
// other type are not uploaded.
func (s *ebitenVideoSink) uploadViaScale(f *Frame) error {
	if img, ok := f.Payload.(image.Image); ok {
		s.texture.WritePixels(imageToBGRA(img))
	}
	return nil
}

func imageToBGRA(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 4*b.Dx()*b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			out[i+0] = byte(bl >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			out[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return out
}

func (s *ebitenVideoSink) Render(dst *ebiten.Image) {
	if s.texture == nil {
		return
	}
	Draw(dst, s.texture)
}

// AudioSink is the "abstract audio sink" collaborator from §1/§6: it opens
// with a wanted layout/channel-count/rate, may silently settle for a
// narrower configuration, and drives the Audio Output Pump via periodic
// reads.
type AudioSink interface {
	// ActualChannels and ActualSampleRate report what the sink actually
	// opened with, which may differ from what was requested (§6).
	ActualChannels() int
	ActualSampleRate() int
	// SetVolume controls playback gain.
	SetVolume(v float64)
	// BufferedBytes reports how many bytes are still sitting in the
	// hardware/software buffer, needed by §4.G's audio-clock correction.
	BufferedBytes() int
	Close() error
}

// OpenAudioSinkWithFallback implements §6's fallback ladder: on open
// failure, step down through the channel sequence {0,0,1,6,2,6,4,6}
// (indexed by current channel count, with channels=7 mapped to 6), then
// through sample rates {192000,96000,48000,44100}.
func OpenAudioSinkWithFallback(open func(channels, rate int) (AudioSink, error), wantedChannels, wantedRate int) (AudioSink, error) {
	channels := wantedChannels
	if channels == 7 {
		channels = 6
	}
	for {
		if sink, err := open(channels, wantedRate); err == nil {
			return sink, nil
		}
		idx := channels
		if idx < 0 || idx >= len(audioChannelFallback) {
			break
		}
		next := audioChannelFallback[idx]
		if next == channels || next == 0 && channels != 0 {
			break
		}
		channels = next
		if channels == 0 {
			break
		}
	}

	for _, rate := range audioRateFallback {
		if sink, err := open(wantedChannels, rate); err == nil {
			return sink, nil
		}
	}
	return nil, wrapErr(KindBackendRefusal, ErrNilAudioSink)
}
