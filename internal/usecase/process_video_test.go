package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"github.com/Hunk0724/video2skeleton/internal/pipeline"
	"github.com/Hunk0724/video2skeleton/internal/progress"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]entity.Job
	findErr error
	creates int
}

func newFakeRepo() *fakeRepo { return &fakeRepo{jobs: map[uuid.UUID]entity.Job{}} }

func (r *fakeRepo) Create(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeRepo) Update(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return port.ErrJobNotFound
	}
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	job, ok := r.jobs[id]
	if !ok {
		return nil, port.ErrJobNotFound
	}
	return &job, nil
}

type fakeStorage struct {
	video     []byte
	openErr   error
	uploadErr error
	uploads   map[string][]byte
}

func (s *fakeStorage) OpenVideo(_ context.Context, _ string) (io.ReadCloser, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return io.NopCloser(bytes.NewReader(s.video)), nil
}

func (s *fakeStorage) UploadOutput(_ context.Context, key string, r io.Reader, size int64) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	if s.uploads == nil {
		s.uploads = map[string][]byte{}
	}
	s.uploads[key] = data
	return nil
}

func (s *fakeStorage) PresignOutput(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://minio.test/skeletons/" + key + "?sig=1", nil
}

type fakePipeline struct {
	res    *pipeline.Result
	err    error
	events []progress.Event
	runs   int
	input  []byte
}

func (p *fakePipeline) Run(_ context.Context, video io.Reader, sink progress.Sink) (*pipeline.Result, error) {
	p.runs++
	p.input, _ = io.ReadAll(video)
	for _, e := range p.events {
		sink.OnProgress(e)
	}
	return p.res, p.err
}

type recorder struct {
	mu       sync.Mutex
	status   []entity.VideoStatusMessage
	progress []entity.VideoProgressMessage
	dlq      []string
	mails    []string
}

func (r *recorder) PublishStatus(_ context.Context, msg []byte) error {
	var m entity.VideoStatusMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	r.mu.Lock()
	r.status = append(r.status, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) PublishProgress(_ context.Context, msg []byte) error {
	var m entity.VideoProgressMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return err
	}
	r.mu.Lock()
	r.progress = append(r.progress, m)
	r.mu.Unlock()
	return nil
}

func (r *recorder) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	r.mu.Lock()
	r.dlq = append(r.dlq, reason)
	r.mu.Unlock()
	return nil
}

func (r *recorder) NotifyFailure(_ context.Context, userEmail, _, _, _ string) error {
	r.mu.Lock()
	r.mails = append(r.mails, userEmail)
	r.mu.Unlock()
	return nil
}

type harness struct {
	repo     *fakeRepo
	storage  *fakeStorage
	pipeline *fakePipeline
	rec      *recorder
	uc       *ProcessVideoUseCase
}

func newHarness(maxRetries int) *harness {
	h := &harness{
		repo:     newFakeRepo(),
		storage:  &fakeStorage{video: []byte("uploaded-video")},
		pipeline: &fakePipeline{},
		rec:      &recorder{},
	}
	h.uc = NewProcessVideoUseCase(
		h.repo, h.storage, h.pipeline,
		h.rec, h.rec, h.rec, h.rec,
		zap.NewNop(),
		ProcessVideoConfig{MaxRetries: maxRetries, PresignExpiry: time.Minute},
	)
	return h
}

func message(t *testing.T) (entity.VideoProcessingMessage, []byte) {
	t.Helper()
	msg := entity.VideoProcessingMessage{
		JobID:     uuid.New(),
		UserID:    "user-1",
		VideoKey:  "user-1/dance.mp4",
		FileSize:  14,
		UserEmail: "user@example.com",
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return msg, raw
}

func TestExecuteCompleted(t *testing.T) {
	h := newHarness(3)
	h.pipeline.res = &pipeline.Result{
		Outcome:           pipeline.OutcomeCompleted,
		State:             pipeline.StateDone,
		Video:             []byte("skeleton-video"),
		FrameCount:        5,
		DetectionFailures: 1,
		FPS:               30,
		Duration:          5.0 / 30,
	}
	msg, raw := message(t)

	require.NoError(t, h.uc.Execute(context.Background(), raw))

	assert.Equal(t, []byte("uploaded-video"), h.pipeline.input)
	key := "user-1/skeleton_" + msg.JobID.String() + ".mp4"
	assert.Equal(t, []byte("skeleton-video"), h.storage.uploads[key])

	job, err := h.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Equal(t, key, job.OutputKey)
	assert.Equal(t, 5, job.FrameCount)
	assert.Equal(t, 1, job.DetectionFailures)
	assert.Equal(t, 1, job.Attempt)
	assert.NotNil(t, job.CompletedAt)

	require.Len(t, h.rec.status, 1)
	status := h.rec.status[0]
	assert.Equal(t, entity.JobStatusCompleted, status.Status)
	assert.Equal(t, key, status.OutputKey)
	assert.Contains(t, status.OutputURL, key)
	assert.InDelta(t, 5.0/30, status.Duration, 1e-9)
	assert.Empty(t, h.rec.dlq)
}

func TestExecuteEmptyResult(t *testing.T) {
	h := newHarness(3)
	h.pipeline.res = &pipeline.Result{Outcome: pipeline.OutcomeEmpty, State: pipeline.StateEmptyResult}
	msg, raw := message(t)

	require.NoError(t, h.uc.Execute(context.Background(), raw))

	job, err := h.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusEmpty, job.Status)
	assert.Equal(t, emptyResultWarning, job.ErrorMessage)
	assert.Empty(t, h.storage.uploads)
	require.Len(t, h.rec.status, 1)
	assert.Equal(t, entity.JobStatusEmpty, h.rec.status[0].Status)
	assert.Empty(t, h.rec.status[0].OutputURL)
	assert.Empty(t, h.rec.dlq)
}

func TestExecuteSourceUnreadableIsPermanent(t *testing.T) {
	h := newHarness(3)
	h.pipeline.err = fmt.Errorf("%w: probe: invalid data", pipeline.ErrSourceUnreadable)
	msg, raw := message(t)

	require.NoError(t, h.uc.Execute(context.Background(), raw))

	job, err := h.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempt)
	require.Len(t, h.rec.dlq, 1)
	assert.Contains(t, h.rec.dlq[0], "source unreadable")
	assert.Equal(t, []string{"user@example.com"}, h.rec.mails)
}

func TestExecuteReassemblyFailureIsRetried(t *testing.T) {
	h := newHarness(3)
	h.pipeline.err = fmt.Errorf("%w: ffmpeg exited 1", pipeline.ErrReassembly)
	msg, raw := message(t)

	err := h.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 1/3")

	job, err := h.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	require.Len(t, h.rec.status, 1)
	assert.Equal(t, entity.JobStatusFailed, h.rec.status[0].Status)
	assert.Empty(t, h.rec.dlq)
	assert.Empty(t, h.rec.mails)
}

func TestExecuteRetryCarriesLedgerAttempt(t *testing.T) {
	h := newHarness(3)
	h.pipeline.err = fmt.Errorf("%w: ffmpeg exited 1", pipeline.ErrReassembly)
	_, raw := message(t)

	for want := 1; want <= 2; want++ {
		err := h.uc.Execute(context.Background(), raw)
		var retry *port.RetryError
		require.ErrorAs(t, err, &retry)
		assert.Equal(t, want, retry.Attempt)
		assert.Equal(t, 3, retry.MaxAttempts)
	}

	// third run exhausts the budget
	require.NoError(t, h.uc.Execute(context.Background(), raw))
	assert.Len(t, h.rec.dlq, 1)
	assert.Equal(t, 1, h.repo.creates)
}

func TestExecuteLookupFailureDoesNotCreateJob(t *testing.T) {
	h := newHarness(3)
	h.repo.findErr = errors.New("connection reset by peer")
	_, raw := message(t)

	err := h.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "find job")
	assert.Zero(t, h.repo.creates)
	assert.Zero(t, h.pipeline.runs)

	var retry *port.RetryError
	assert.False(t, errors.As(err, &retry))
}

func TestExecuteLastAttemptGoesToDLQ(t *testing.T) {
	h := newHarness(1)
	h.pipeline.err = errors.New("detector session unavailable")
	_, raw := message(t)

	require.NoError(t, h.uc.Execute(context.Background(), raw))
	assert.Len(t, h.rec.dlq, 1)
	assert.Len(t, h.rec.mails, 1)
}

func TestExecuteOpenFailureIsRetried(t *testing.T) {
	h := newHarness(3)
	h.storage.openErr = errors.New("connection refused")
	_, raw := message(t)

	err := h.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open_video")
	assert.Zero(t, h.pipeline.runs)
}

func TestExecuteUploadFailureIsRetried(t *testing.T) {
	h := newHarness(3)
	h.pipeline.res = &pipeline.Result{Outcome: pipeline.OutcomeCompleted, Video: []byte("v"), FrameCount: 1, FPS: 30}
	h.storage.uploadErr = errors.New("bucket gone")
	_, raw := message(t)

	err := h.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload_output")
}

func TestExecuteMalformedMessage(t *testing.T) {
	h := newHarness(3)

	require.NoError(t, h.uc.Execute(context.Background(), []byte(`{invalid json`)))
	require.Len(t, h.rec.dlq, 1)
	assert.Contains(t, h.rec.dlq[0], "unmarshal_error")
	assert.Zero(t, h.pipeline.runs)
}

func TestExecuteDropsRedeliveryOfFinishedJob(t *testing.T) {
	h := newHarness(3)
	msg, raw := message(t)
	job := entity.NewJob(msg.UserID, msg.VideoKey, msg.FileSize, 3)
	job.ID = msg.JobID
	job.MarkProcessing()
	job.MarkCompleted("user-1/out.mp4", 3, 0, 0.1)
	require.NoError(t, h.repo.Create(context.Background(), job))

	require.NoError(t, h.uc.Execute(context.Background(), raw))
	assert.Zero(t, h.pipeline.runs)
	assert.Empty(t, h.rec.status)
}

func TestExecuteCancelledReturnsContextError(t *testing.T) {
	h := newHarness(3)
	ctx, cancel := context.WithCancel(context.Background())
	h.pipeline.err = context.Canceled
	cancel()
	_, raw := message(t)

	err := h.uc.Execute(ctx, raw)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.rec.dlq)
}

func TestProgressIsThrottledToWholePercent(t *testing.T) {
	h := newHarness(3)
	h.pipeline.res = &pipeline.Result{Outcome: pipeline.OutcomeCompleted, Video: []byte("v"), FrameCount: 1000, FPS: 30}
	for i := 1; i <= 1000; i++ {
		h.pipeline.events = append(h.pipeline.events, progress.Event{
			Fraction: float64(i) / 1000, Label: progress.LabelInProgress, Processed: i, Total: 1000,
		})
	}
	h.pipeline.events = append(h.pipeline.events,
		progress.Event{Fraction: 1, Label: progress.LabelAssembling, Processed: 1000, Total: 1000},
		progress.Event{Fraction: 1, Label: progress.LabelComplete, Processed: 1000, Total: 1000},
	)
	msg, raw := message(t)

	require.NoError(t, h.uc.Execute(context.Background(), raw))

	// 0..100 percent in progress, then one per label change.
	require.Len(t, h.rec.progress, 101+2)
	first := h.rec.progress[0]
	assert.Equal(t, msg.JobID, first.JobID)
	assert.Equal(t, 1, first.Processed)

	last := h.rec.progress[len(h.rec.progress)-1]
	assert.Equal(t, 1.0, last.Fraction)
	assert.Equal(t, progress.LabelComplete, last.Label)

	for i := 1; i < len(h.rec.progress); i++ {
		assert.GreaterOrEqual(t, h.rec.progress[i].Fraction, h.rec.progress[i-1].Fraction)
	}
}
