package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"github.com/Hunk0724/video2skeleton/internal/infra/metrics"
	"github.com/Hunk0724/video2skeleton/internal/pipeline"
	"github.com/Hunk0724/video2skeleton/internal/progress"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const emptyResultWarning = "no frames were processed"

// SkeletonPipeline turns one uploaded video into a skeleton video.
type SkeletonPipeline interface {
	Run(ctx context.Context, video io.Reader, sink progress.Sink) (*pipeline.Result, error)
}

type ProcessVideoUseCase struct {
	repo      port.JobRepository
	storage   port.VideoStorage
	pipeline  SkeletonPipeline
	publisher port.StatusPublisher
	progress  port.ProgressPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	maxRetry  int
	presign   time.Duration
}

type ProcessVideoConfig struct {
	MaxRetries    int
	PresignExpiry time.Duration
}

func NewProcessVideoUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	pl SkeletonPipeline,
	publisher port.StatusPublisher,
	progressPub port.ProgressPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessVideoConfig,
) *ProcessVideoUseCase {
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	return &ProcessVideoUseCase{
		repo:      repo,
		storage:   storage,
		pipeline:  pl,
		publisher: publisher,
		progress:  progressPub,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		maxRetry:  cfg.MaxRetries,
		presign:   cfg.PresignExpiry,
	}
}

func (uc *ProcessVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.VideoProcessingMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	switch {
	case errors.Is(err, port.ErrJobNotFound):
		job = entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	case err != nil:
		log.Error("failed to load job record", zap.Error(err))
		return fmt.Errorf("find job: %w", err)
	}

	if job.Terminal() {
		log.Info("job already finished, dropping redelivery", zap.String("status", string(job.Status)))
		return nil
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.processVideoPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	return nil
}

func (uc *ProcessVideoUseCase) processVideoPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.VideoProcessingMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	video, err := uc.storage.OpenVideo(ctx, msg.VideoKey)
	if err != nil {
		log.Error("failed to open uploaded video", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "open_video: "+err.Error(), log)
	}
	defer video.Close()

	ctxRun, spanRun := tracer.Start(ctx, "skeletonize")
	res, err := uc.pipeline.Run(ctxRun, video, newProgressReporter(ctx, uc.progress, job.ID, log))
	spanRun.End()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, pipeline.ErrSourceUnreadable) {
			log.Error("uploaded video is unreadable", zap.Error(err))
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, err.Error())
		}
		log.Error("skeleton pipeline failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "pipeline: "+err.Error(), log)
	}

	if res.Outcome == pipeline.OutcomeEmpty {
		job.MarkEmpty(emptyResultWarning)
		if err := uc.repo.Update(ctx, job); err != nil {
			log.Error("failed to update job to EMPTY", zap.Error(err))
			return fmt.Errorf("update job empty: %w", err)
		}
		uc.publishStatus(ctx, job, "", log)
		metrics.JobsProcessedTotal.WithLabelValues("empty").Inc()
		log.Warn("job produced no frames",
			zap.Int("detection_failures", res.DetectionFailures),
			zap.Int("dropped_frames", res.DroppedFrames),
		)
		return nil
	}

	// Upload rendered video to MinIO
	upStart := time.Now()
	ctxUp, spanUp := tracer.Start(ctx, "upload_output")
	outputKey := fmt.Sprintf("%s/skeleton_%s.mp4", msg.UserID, job.ID.String())
	err = uc.storage.UploadOutput(ctxUp, outputKey, bytes.NewReader(res.Video), int64(len(res.Video)))
	spanUp.End()
	if err != nil {
		log.Error("output upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_output: "+err.Error(), log)
	}
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	outputURL, err := uc.storage.PresignOutput(ctx, outputKey, uc.presign)
	if err != nil {
		log.Warn("failed to presign output, status will carry the key only", zap.Error(err))
		outputURL = ""
	}

	job.MarkCompleted(outputKey, res.FrameCount, res.DetectionFailures, res.Duration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, outputURL, log)
	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()

	log.Info("job completed successfully",
		zap.Int("frame_count", res.FrameCount),
		zap.Int("detection_failures", res.DetectionFailures),
		zap.Float64("fps", res.FPS),
		zap.Float64("duration_secs", res.Duration),
		zap.String("output_key", outputKey),
	)
	return nil
}

func (uc *ProcessVideoUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.VideoProcessingMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)
	trace.SpanFromContext(ctx).AddEvent("retryable_failure", trace.WithAttributes(
		attribute.Int("job.attempt", job.Attempt),
		attribute.String("error", errMsg),
	))

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, "", log)

	return &port.RetryError{Attempt: job.Attempt, MaxAttempts: job.MaxAttempts, Reason: errMsg}
}

func (uc *ProcessVideoUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.VideoProcessingMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg)
	_ = uc.repo.Update(ctx, job)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, errMsg)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, "", uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}

	return nil
}

func (uc *ProcessVideoUseCase) publishStatus(ctx context.Context, job *entity.Job, outputURL string, log *zap.Logger) {
	statusMsg := entity.VideoStatusMessage{
		JobID:             job.ID,
		UserID:            job.UserID,
		Status:            job.Status,
		VideoKey:          job.VideoKey,
		OutputKey:         job.OutputKey,
		OutputURL:         outputURL,
		FrameCount:        job.FrameCount,
		DetectionFailures: job.DetectionFailures,
		Duration:          job.VideoDuration,
		ErrorMessage:      job.ErrorMessage,
		Attempt:           job.Attempt,
		MaxAttempts:       job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
