package usecase

import (
	"context"
	"encoding/json"
	"math"

	"github.com/Hunk0724/video2skeleton/internal/domain/entity"
	"github.com/Hunk0724/video2skeleton/internal/domain/port"
	"github.com/Hunk0724/video2skeleton/internal/progress"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// progressReporter forwards pipeline progress to the broker on every
// whole-percent step and on every label change.
type progressReporter struct {
	ctx         context.Context
	pub         port.ProgressPublisher
	jobID       uuid.UUID
	log         *zap.Logger
	lastPercent int
	lastLabel   string
}

func newProgressReporter(ctx context.Context, pub port.ProgressPublisher, jobID uuid.UUID, log *zap.Logger) *progressReporter {
	return &progressReporter{ctx: ctx, pub: pub, jobID: jobID, log: log, lastPercent: -1}
}

func (p *progressReporter) OnProgress(e progress.Event) {
	percent := int(math.Floor(e.Fraction * 100))
	if percent == p.lastPercent && e.Label == p.lastLabel {
		return
	}
	p.lastPercent, p.lastLabel = percent, e.Label

	data, _ := json.Marshal(entity.VideoProgressMessage{
		JobID:     p.jobID,
		Fraction:  e.Fraction,
		Label:     e.Label,
		Processed: e.Processed,
		Total:     e.Total,
	})
	if err := p.pub.PublishProgress(p.ctx, data); err != nil {
		p.log.Debug("failed to publish progress", zap.Error(err))
	}
}
