// Command skeletonize renders the skeleton video for one local file.
//
//	skeletonize -in dance.mp4 -out dance_skeleton.mp4
//
// Settings not given as flags come from the same environment variables the
// worker reads.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hunk0724/video2skeleton/internal/infra/config"
	"github.com/Hunk0724/video2skeleton/internal/infra/ffmpeg"
	"github.com/Hunk0724/video2skeleton/internal/infra/framestore"
	"github.com/Hunk0724/video2skeleton/internal/infra/landmarker"
	"github.com/Hunk0724/video2skeleton/internal/pipeline"
	"github.com/Hunk0724/video2skeleton/internal/progress"
	"github.com/Hunk0724/video2skeleton/internal/render"
	"github.com/Hunk0724/video2skeleton/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	in := flag.String("in", "", "input video file")
	out := flag.String("out", "", "output video file")
	fps := flag.Int("fps", cfg.FPS, "output frame rate")
	matchFPS := flag.Bool("match-source-fps", cfg.MatchSourceFPS, "use the input's frame rate when it is known")
	detectorURL := flag.String("detector", cfg.DetectorURL, "landmark model server base URL")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *in == "" || *out == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *fps <= 0 {
		fmt.Fprintln(os.Stderr, "-fps must be positive")
		os.Exit(2)
	}

	log, err := logger.New(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *in, *out, *fps, *matchFPS, *detectorURL, log); err != nil {
		fmt.Fprintln(os.Stderr)
		log.Error("skeletonize failed", zap.Error(err))
		if errors.Is(err, pipeline.ErrSourceUnreadable) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, in, out string, fps int, matchFPS bool, detectorURL string, log *zap.Logger) error {
	styles, err := cfg.Styles()
	if err != nil {
		return err
	}
	detectors, err := landmarker.NewClient(landmarker.ClientConfig{
		BaseURL: detectorURL,
		Timeout: cfg.DetectorTimeout,
	}, log)
	if err != nil {
		return err
	}

	pcfg := cfg.Pipeline()
	pcfg.FPS = float64(fps)
	pcfg.MatchSourceFPS = matchFPS

	prober := ffmpeg.NewProber(cfg.FFprobePath)
	driver := pipeline.NewDriver(
		ffmpeg.NewDecoder(cfg.FFmpegPath, prober, log),
		detectors,
		render.NewCompositor(styles),
		framestore.NewFactory(),
		ffmpeg.NewAssembler(ffmpeg.AssemblerConfig{
			FFmpegPath:  cfg.FFmpegPath,
			VideoCodec:  cfg.VideoCodec,
			AudioCodec:  cfg.AudioCodec,
			PixelFormat: cfg.PixelFormat,
		}, log),
		log,
		pcfg,
	)

	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := driver.Run(ctx, f, progress.SinkFunc(printProgress))
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)

	if res.Outcome == pipeline.OutcomeEmpty {
		fmt.Fprintln(os.Stderr, "warning: no frames were processed, nothing written")
		return nil
	}
	if err := os.WriteFile(out, res.Video, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s: %d frames at %g fps (%.2fs), %d detection failures\n",
		out, res.FrameCount, res.FPS, res.Duration, res.DetectionFailures)
	return nil
}

func printProgress(e progress.Event) {
	if e.Total > 0 {
		fmt.Fprintf(os.Stderr, "\r%-12s %5.1f%%  %d/%d", e.Label, e.Fraction*100, e.Processed, e.Total)
		return
	}
	fmt.Fprintf(os.Stderr, "\r%-12s %5.1f%%  %d", e.Label, e.Fraction*100, e.Processed)
}
