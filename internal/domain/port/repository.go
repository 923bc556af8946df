package port

import (
	"context"
	"errors"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/google/uuid"
)

// ErrJobNotFound is returned when no ledger row exists for a job id.
var ErrJobNotFound = errors.New("job not found")

type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Update(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}
