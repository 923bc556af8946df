package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusEmpty      JobStatus = "EMPTY"
	JobStatusFailed     JobStatus = "FAILED"
)

type Job struct {
	ID                uuid.UUID
	UserID            string
	VideoKey          string
	OutputKey         string
	Status            JobStatus
	FrameCount        int
	DetectionFailures int
	FileSize          int64
	VideoDuration     float64
	Attempt           int
	MaxAttempts       int
	ErrorMessage      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

func NewJob(userID, videoKey string, fileSize int64, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		UserID:      userID,
		VideoKey:    videoKey,
		FileSize:    fileSize,
		Status:      JobStatusPending,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Attempt++
	j.ErrorMessage = ""
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(outputKey string, frameCount, detectionFailures int, duration float64) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.OutputKey = outputKey
	j.FrameCount = frameCount
	j.DetectionFailures = detectionFailures
	j.VideoDuration = duration
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkEmpty records a run that opened the source but produced no frames.
// It is terminal but not a failure: there is nothing to retry.
func (j *Job) MarkEmpty(warning string) {
	now := time.Now().UTC()
	j.Status = JobStatusEmpty
	j.FrameCount = 0
	j.ErrorMessage = warning
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}

// Terminal reports whether a redelivered message for this job should be dropped.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusEmpty
}
