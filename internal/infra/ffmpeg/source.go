package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"go.uber.org/zap"
)

// Decoder opens videos by streaming raw RGB frames out of an ffmpeg process.
type Decoder struct {
	bin    string
	prober *Prober
	logger *zap.Logger
}

func NewDecoder(ffmpegPath string, prober *Prober, logger *zap.Logger) *Decoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Decoder{bin: ffmpegPath, prober: prober, logger: logger}
}

func (d *Decoder) Open(ctx context.Context, videoPath string) (port.FrameSource, error) {
	info, err := d.prober.Probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", videoPath, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, d.bin,
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", videoPath,
		"-map", "0:v:0",
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	d.logger.Debug("video opened",
		zap.String("path", videoPath),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Int("total_frames", info.TotalFrames),
		zap.Float64("frame_rate", info.FrameRate),
		zap.Bool("has_audio", info.HasAudio),
	)

	frameSize := info.Width * info.Height * 3
	return &Source{
		info:   info,
		cmd:    cmd,
		cancel: cancel,
		stdout: bufio.NewReaderSize(stdout, frameSize),
		stderr: stderr,
		buf:    make([]byte, frameSize),
	}, nil
}

// Source is a FrameSource backed by a running ffmpeg process.
type Source struct {
	info   entity.VideoInfo
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout *bufio.Reader
	stderr *tailBuffer
	buf    []byte
	next   int

	waitOnce sync.Once
	waitErr  error
}

func (s *Source) Info() entity.VideoInfo { return s.info }

func (s *Source) TotalFrames() int { return s.info.TotalFrames }

func (s *Source) Next(ctx context.Context) (*entity.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, err := io.ReadFull(s.stdout, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		if werr := s.wait(); werr != nil {
			return nil, fmt.Errorf("decode frame %d: %w, output: %s", s.next, werr, s.stderr.String())
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.wait()
		return nil, fmt.Errorf("decode frame %d: truncated frame, output: %s", s.next, s.stderr.String())
	default:
		return nil, fmt.Errorf("read frame %d: %w", s.next, err)
	}

	frame := &entity.Frame{Index: s.next, Image: rgbToRGBA(s.buf, s.info.Width, s.info.Height)}
	s.next++
	return frame, nil
}

func (s *Source) Close() error {
	s.cancel()
	s.wait()
	return nil
}

func (s *Source) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

func rgbToRGBA(rgb []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(rgb); i, j = i+3, j+4 {
		img.Pix[j] = rgb[i]
		img.Pix[j+1] = rgb[i+1]
		img.Pix[j+2] = rgb[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	b   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.b = append(t.b, p...)
	if len(t.b) > t.max {
		t.b = t.b[len(t.b)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.b))
}
