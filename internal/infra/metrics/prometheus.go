package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skeleton_jobs_processed_total",
		Help: "Total number of jobs processed, by outcome",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skeleton_job_processing_duration_seconds",
		Help:    "Duration of video processing stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skeleton_frames_processed_total",
		Help: "Total number of frames run through detection and drawing",
	})

	DetectionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skeleton_detection_failures_total",
		Help: "Frames whose detection failed and were drawn blank",
	})

	DroppedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skeleton_dropped_frames_total",
		Help: "Frames that could not be stored and are missing from the output",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skeleton_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skeleton_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
