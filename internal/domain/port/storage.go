package port

import (
	"context"
	"io"
	"time"
)

type VideoStorage interface {
	OpenVideo(ctx context.Context, objectKey string) (io.ReadCloser, error)
	UploadOutput(ctx context.Context, objectKey string, reader io.Reader, size int64) error
	PresignOutput(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}
