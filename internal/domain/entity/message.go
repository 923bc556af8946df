package entity

import "github.com/google/uuid"

// VideoProcessingMessage is the inbound message from the video.processing queue.
type VideoProcessingMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key"`
	FileSize  int64     `json:"file_size"`
	UserEmail string    `json:"user_email"`
}

// VideoStatusMessage is the outbound message published to the video.status queue.
type VideoStatusMessage struct {
	JobID             uuid.UUID `json:"job_id"`
	UserID            string    `json:"user_id"`
	Status            JobStatus `json:"status"`
	VideoKey          string    `json:"video_key"`
	OutputKey         string    `json:"output_key,omitempty"`
	OutputURL         string    `json:"output_url,omitempty"`
	FrameCount        int       `json:"frame_count,omitempty"`
	DetectionFailures int       `json:"detection_failures,omitempty"`
	Duration          float64   `json:"duration_seconds,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	Attempt           int       `json:"attempt"`
	MaxAttempts       int       `json:"max_attempts"`
}

// VideoProgressMessage is published to the video.progress queue while a job runs.
type VideoProgressMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	Fraction  float64   `json:"fraction"`
	Label     string    `json:"label"`
	Processed int       `json:"processed"`
	Total     int       `json:"total,omitempty"`
}
