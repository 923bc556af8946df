package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"github.com/Hunk0724/video2skeleton/internal/infra/metrics"
	"github.com/Hunk0724/video2skeleton/internal/progress"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const DefaultFPS = 30

type Config struct {
	// TempDir is the parent of each run's scratch directory. Empty means os.TempDir().
	TempDir string
	// FPS is the rate frames are reassembled at.
	FPS float64
	// MatchSourceFPS reassembles at the source's native rate when it is known.
	MatchSourceFPS bool
	Detector       port.DetectorOptions
}

// Driver runs one video through decode, detect, draw, store and reassemble.
// A Driver is safe for concurrent use; each Run owns its own scratch
// directory and detector session.
type Driver struct {
	decoder    port.FrameDecoder
	detectors  port.DetectorFactory
	compositor port.Compositor
	sinks      port.FrameSinkFactory
	assembler  port.Reassembler
	logger     *zap.Logger
	cfg        Config
}

func NewDriver(
	decoder port.FrameDecoder,
	detectors port.DetectorFactory,
	compositor port.Compositor,
	sinks port.FrameSinkFactory,
	assembler port.Reassembler,
	logger *zap.Logger,
	cfg Config,
) *Driver {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &Driver{
		decoder:    decoder,
		detectors:  detectors,
		compositor: compositor,
		sinks:      sinks,
		assembler:  assembler,
		logger:     logger,
		cfg:        cfg,
	}
}

type run struct {
	state  State
	logger *zap.Logger
}

func (r *run) transition(to State) {
	r.logger.Debug("pipeline state", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.state = to
}

// Run processes video and pushes progress to sink after every frame. The
// scratch directory is removed before Run returns, whatever the outcome.
func (d *Driver) Run(ctx context.Context, video io.Reader, sink progress.Sink) (*Result, error) {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "Driver.Run")
	defer span.End()

	r := &run{state: StateIdle, logger: d.logger}

	if d.cfg.TempDir != "" {
		if err := os.MkdirAll(d.cfg.TempDir, 0755); err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}
	scratch, err := os.MkdirTemp(d.cfg.TempDir, "run-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	inputPath := filepath.Join(scratch, "input")
	if err := writeInput(inputPath, video); err != nil {
		r.transition(StateFailed)
		return nil, fmt.Errorf("write input: %w", err)
	}

	_, spanOpen := tracer.Start(ctx, "open_source")
	src, first, err := d.open(ctx, inputPath)
	spanOpen.End()
	if err != nil {
		r.transition(StateFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		d.logger.Error("source unreadable", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer src.Close()
	r.transition(StateOpened)

	info := src.Info()
	tracker := progress.NewTracker(sink)
	res := &Result{FPS: d.fps(info)}
	span.SetAttributes(
		attribute.Int("video.width", info.Width),
		attribute.Int("video.height", info.Height),
		attribute.Int("video.total_frames", info.TotalFrames),
	)

	if first != nil {
		frames, err := d.processFrames(ctx, r, src, first, scratch, tracker, res)
		if err != nil {
			r.transition(StateFailed)
			return nil, err
		}
		src.Close()

		if res.FrameCount > 0 {
			return d.reassemble(ctx, r, frames, inputPath, info, scratch, tracker, res)
		}
	}

	r.transition(StateEmptyResult)
	res.Outcome = OutcomeEmpty
	res.State = StateEmptyResult
	d.logger.Warn("no frames were processed",
		zap.Int("detection_failures", res.DetectionFailures),
		zap.Int("dropped_frames", res.DroppedFrames),
	)
	return res, nil
}

// open starts the source and reads its first frame. A clean end of stream
// on the first read returns a nil frame.
func (d *Driver) open(ctx context.Context, path string) (port.FrameSource, *entity.Frame, error) {
	src, err := d.decoder.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	first, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return src, nil, nil
	}
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("read first frame: %w", err)
	}
	return src, first, nil
}

func (d *Driver) processFrames(
	ctx context.Context,
	r *run,
	src port.FrameSource,
	first *entity.Frame,
	scratch string,
	tracker *progress.Tracker,
	res *Result,
) (port.FrameSink, error) {
	ctx, span := otel.Tracer("pipeline").Start(ctx, "process_frames")
	defer span.End()
	start := time.Now()

	session, err := d.detectors.NewSession(ctx, d.cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("open detector session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			d.logger.Warn("close detector session", zap.Error(err))
		}
	}()

	frames, err := d.sinks.NewSink(filepath.Join(scratch, "frames"))
	if err != nil {
		return nil, fmt.Errorf("create frame sink: %w", err)
	}

	r.transition(StatePerFrame)
	total := src.TotalFrames()
	processed := 0

	for frame := first; frame != nil; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		det, err := session.Detect(ctx, frame)
		if err == nil {
			err = det.Validate()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d.logger.Warn("detection failed, drawing blank frame", zap.Int("frame", frame.Index), zap.Error(err))
			metrics.DetectionFailuresTotal.Inc()
			res.DetectionFailures++
			det = entity.Detections{}
		}

		canvas := d.compositor.NewCanvas(frame.Bounds())
		d.compositor.Draw(canvas, det)

		if _, err := frames.Store(ctx, res.FrameCount, canvas); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d.logger.Warn("frame dropped", zap.Int("frame", frame.Index), zap.Error(err))
			metrics.DroppedFramesTotal.Inc()
			res.DroppedFrames++
		} else {
			res.FrameCount++
		}

		processed++
		metrics.FramesProcessedTotal.Inc()
		tracker.Update(processed, total)

		next, err := src.Next(ctx)
		switch {
		case err == nil:
			frame = next
		case errors.Is(err, io.EOF):
			frame = nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			d.logger.Warn("decode stopped early", zap.Int("after_frame", frame.Index), zap.Error(err))
			frame = nil
		}
	}

	span.SetAttributes(
		attribute.Int("frames.processed", processed),
		attribute.Int("frames.stored", res.FrameCount),
	)
	metrics.JobProcessingDuration.WithLabelValues("frames").Observe(time.Since(start).Seconds())
	d.logger.Info("frames processed",
		zap.Int("processed", processed),
		zap.Int("stored", res.FrameCount),
		zap.Int("total_estimate", total),
		zap.Int("detection_failures", res.DetectionFailures),
	)
	return frames, nil
}

func (d *Driver) reassemble(
	ctx context.Context,
	r *run,
	frames port.FrameSink,
	inputPath string,
	info entity.VideoInfo,
	scratch string,
	tracker *progress.Tracker,
	res *Result,
) (*Result, error) {
	ctx, span := otel.Tracer("pipeline").Start(ctx, "reassemble")
	defer span.End()
	start := time.Now()

	r.transition(StateReassembling)
	tracker.Stage(progress.LabelAssembling)

	fail := func(err error) (*Result, error) {
		r.transition(StateFailed)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		d.logger.Error("reassembly failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrReassembly, err)
	}

	artifacts, err := frames.Artifacts()
	if err != nil {
		return fail(err)
	}
	if len(artifacts) != res.FrameCount {
		d.logger.Warn("artifact count mismatch", zap.Int("stored", res.FrameCount), zap.Int("listed", len(artifacts)))
		res.FrameCount = len(artifacts)
	}

	outputPath := filepath.Join(scratch, "output.mp4")
	err = d.assembler.Assemble(ctx, port.AssembleRequest{
		Artifacts:   artifacts,
		AudioSource: inputPath,
		HasAudio:    info.HasAudio,
		FPS:         res.FPS,
		OutputPath:  outputPath,
	})
	if err != nil {
		return fail(err)
	}

	video, err := os.ReadFile(outputPath)
	if err != nil {
		return fail(fmt.Errorf("read output: %w", err))
	}
	metrics.JobProcessingDuration.WithLabelValues("assemble").Observe(time.Since(start).Seconds())

	r.transition(StateDone)
	tracker.Finish()

	res.Outcome = OutcomeCompleted
	res.State = StateDone
	res.Video = video
	res.Duration = float64(res.FrameCount) / res.FPS
	return res, nil
}

// fps picks the reassembly rate. With a fixed rate that differs from the
// source's, audio and video drift apart in proportion to the difference.
func (d *Driver) fps(info entity.VideoInfo) float64 {
	if d.cfg.MatchSourceFPS && info.FrameRate > 0 {
		return info.FrameRate
	}
	return d.cfg.FPS
}

func writeInput(path string, video io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, video); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
