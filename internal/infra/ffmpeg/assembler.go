package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNoArtifacts = errors.New("no frame artifacts to assemble")

type AssemblerConfig struct {
	FFmpegPath  string
	VideoCodec  string
	AudioCodec  string
	PixelFormat string
}

// Assembler encodes an ordered PNG sequence into one video and attaches the
// audio of the original upload.
type Assembler struct {
	bin    string
	cfg    AssemblerConfig
	logger *zap.Logger
}

func NewAssembler(cfg AssemblerConfig, logger *zap.Logger) *Assembler {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = "libx264"
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = "aac"
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = "yuv420p"
	}
	return &Assembler{bin: cfg.FFmpegPath, cfg: cfg, logger: logger}
}

func (a *Assembler) Assemble(ctx context.Context, req port.AssembleRequest) error {
	if len(req.Artifacts) == 0 {
		return ErrNoArtifacts
	}
	if req.FPS <= 0 {
		return fmt.Errorf("invalid fps %v", req.FPS)
	}

	cmd := exec.CommandContext(ctx, a.bin, a.args(req)...)
	stderr := &tailBuffer{max: 8192}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer stdin.Close()
		return feed(ctx, stdin, req.Artifacts)
	})

	waitErr := cmd.Wait()
	feedErr := g.Wait()
	if waitErr != nil {
		return fmt.Errorf("ffmpeg error: %w, output: %s", waitErr, stderr.String())
	}
	// ffmpeg may close stdin once it has the frames it needs for -t.
	if feedErr != nil && !errors.Is(feedErr, syscall.EPIPE) && !errors.Is(feedErr, os.ErrClosed) {
		return fmt.Errorf("feed frames: %w", feedErr)
	}

	a.logger.Info("video assembled",
		zap.Int("frames", len(req.Artifacts)),
		zap.Float64("fps", req.FPS),
		zap.Bool("audio", req.HasAudio),
		zap.String("output", req.OutputPath),
	)
	return nil
}

// args builds one ffmpeg invocation: PNGs from stdin become the video stream,
// the original file's first audio stream is mapped without an intermediate
// encode, shorter audio is padded with silence, and the output is cut at
// exactly len(frames)/fps.
func (a *Assembler) args(req port.AssembleRequest) []string {
	fps := strconv.FormatFloat(req.FPS, 'f', -1, 64)
	duration := strconv.FormatFloat(float64(len(req.Artifacts))/req.FPS, 'f', 6, 64)

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "image2pipe",
		"-framerate", fps,
		"-c:v", "png",
		"-i", "pipe:0",
	}
	if req.HasAudio {
		args = append(args, "-i", req.AudioSource)
	}
	args = append(args, "-map", "0:v:0")
	if req.HasAudio {
		args = append(args,
			"-map", "1:a:0",
			"-c:a", a.cfg.AudioCodec,
			"-af", "apad",
		)
	}
	args = append(args,
		// yuv420p needs even dimensions
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", a.cfg.VideoCodec,
		"-pix_fmt", a.cfg.PixelFormat,
		"-r", fps,
		"-t", duration,
		"-movflags", "+faststart",
		req.OutputPath,
	)
	return args
}

func feed(ctx context.Context, w io.Writer, artifacts []entity.FrameArtifact) error {
	for _, art := range artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyFile(w, art.Path); err != nil {
			return fmt.Errorf("frame %s: %w", art.Name, err)
		}
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
