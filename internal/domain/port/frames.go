package port

import (
	"context"
	"image"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
)

type Compositor interface {
	NewCanvas(bounds image.Rectangle) *image.RGBA
	Draw(canvas *image.RGBA, det entity.Detections)
}

type FrameSink interface {
	Store(ctx context.Context, index int, canvas image.Image) (entity.FrameArtifact, error)
	// Artifacts lists every stored artifact in index order.
	Artifacts() ([]entity.FrameArtifact, error)
}

type FrameSinkFactory interface {
	NewSink(dir string) (FrameSink, error)
}

type AssembleRequest struct {
	Artifacts   []entity.FrameArtifact
	AudioSource string
	HasAudio    bool
	FPS         float64
	OutputPath  string
}

type Reassembler interface {
	Assemble(ctx context.Context, req AssembleRequest) error
}
