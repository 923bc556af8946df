package port

import (
	"context"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
)

type DetectorOptions struct {
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
}

// LandmarkDetector is a stateful detection session. Frames of one run must be
// sent to the same session, in order.
type LandmarkDetector interface {
	Detect(ctx context.Context, frame *entity.Frame) (entity.Detections, error)
	Close() error
}

type DetectorFactory interface {
	NewSession(ctx context.Context, opts DetectorOptions) (LandmarkDetector, error)
}
