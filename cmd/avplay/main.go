// Command avplay is the CLI boundary over github.com/driftlock/avcore: it
// parses the flags spec.md §6 lists, builds an avcore.Options, and drives
// the Session's Presentation Scheduler from an ebiten game loop.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/spf13/pflag"

	"github.com/driftlock/avcore"
)

var (
	flagAn        = pflag.Bool("an", false, "disable audio")
	flagVn        = pflag.Bool("vn", false, "disable video")
	flagSn        = pflag.Bool("sn", false, "disable subtitles")
	flagSs        = pflag.Int64("ss", 0, "start offset in microseconds")
	flagT         = pflag.Int64("t", 0, "duration in microseconds (0 = to EOF)")
	flagBytes     = pflag.Int("bytes", 0, "seek units: 0 auto, 1 force byte-based, -1 disable")
	flagSync      = pflag.String("sync", "audio", "master clock: audio|video|ext")
	flagLoop      = pflag.Int("loop", 1, "number of times to loop (0 = infinite)")
	flagFramedrop = pflag.Bool("framedrop", false, "drop video frames when late (implies -drp 1)")
	flagInfbuf    = pflag.Bool("infbuf", false, "don't limit input buffer size")
	flagVolume    = pflag.Int("volume", 100, "startup volume, 0..100")
	flagLowres    = pflag.Int("lowres", 0, "request a lower decode resolution (0 = native)")
	flagFast      = pflag.Bool("fast", false, "enable non-spec-compliant speedup tricks")
	flagGenpts    = pflag.Bool("genpts", false, "generate missing pts")
	flagDrp       = pflag.Int("drp", 0, "framedrop mode: -1 off, 0 auto, 1 on")
	flagAutoexit  = pflag.Bool("autoexit", false, "exit at EOF instead of idling")
)

func parseSyncMode(s string) avcore.SyncMode {
	switch s {
	case "video":
		return avcore.SyncVideoMaster
	case "ext", "external":
		return avcore.SyncExternalMaster
	default:
		return avcore.SyncAudioMaster
	}
}

func buildOptions(url string) avcore.Options {
	opts := avcore.DefaultOptions(url)
	opts.DisableAudio = *flagAn
	opts.DisableVideo = *flagVn
	opts.DisableSubtitle = *flagSn
	opts.StartTime = time.Duration(*flagSs) * time.Microsecond
	opts.Duration = time.Duration(*flagT) * time.Microsecond
	opts.ByteSeek = *flagBytes
	opts.SyncMode = parseSyncMode(*flagSync)
	opts.Loop = *flagLoop
	opts.Autoexit = *flagAutoexit
	opts.InfiniteBuf = *flagInfbuf
	opts.Volume = clampInt(*flagVolume, 0, 100)
	opts.LowRes = *flagLowres
	opts.Fast = *flagFast
	opts.GenPts = *flagGenpts

	drp := *flagDrp
	if *flagFramedrop {
		drp = 1
	}
	opts.FramedropMode = drp
	return opts
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// game adapts a *avcore.Session to ebiten's Game interface.
type game struct {
	session *avcore.Session
	started bool
}

func (g *game) Update() error {
	if !g.started {
		if err := g.session.Play(); err != nil {
			return err
		}
		g.started = true
	}
	g.session.Tick()

	if ebiten.IsKeyPressed(ebiten.KeyQ) {
		return ebiten.Termination
	}
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	if sched := g.session.Scheduler(); sched != nil {
		sched.RenderTo(screen)
	}
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	w, h := g.session.VideoSize()
	if w == 0 || h == 0 {
		return outsideWidth, outsideHeight
	}
	return w, h
}

func main() {
	pflag.Parse()
	args := pflag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: avplay [flags] <input url>")
		os.Exit(1)
	}

	log := avcore.NewCLILogger()
	avcore.SetLogger(log)

	opts := buildOptions(args[0])
	session, err := avcore.NewSession(opts, log)
	if err != nil {
		log.Errorf("init failed: %v", err)
		os.Exit(1)
	}
	defer session.Close()

	w, h := session.VideoSize()
	if w == 0 {
		w, h = 640, 480
	}
	ebiten.SetWindowSize(w, h)
	ebiten.SetWindowTitle("avplay")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	g := &game{session: session}
	if err := ebiten.RunGame(g); err != nil {
		log.Errorf("run failed: %v", err)
		os.Exit(1)
	}
}
