package port

import (
	"context"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
)

// FrameSource yields decoded frames in presentation order. Next returns io.EOF
// once the stream is exhausted.
type FrameSource interface {
	Info() entity.VideoInfo
	TotalFrames() int
	Next(ctx context.Context) (*entity.Frame, error)
	Close() error
}

type FrameDecoder interface {
	Open(ctx context.Context, videoPath string) (FrameSource, error)
}
