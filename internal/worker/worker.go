package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Infix8/qrflow-backend/internal/delivery"
	"github.com/Infix8/qrflow-backend/pkg/queue"
)

// Deliverer sends one attendee's entry code.
type Deliverer interface {
	Deliver(ctx context.Context, attendeeID int64, attempt int) error
}

// JobQueue is the queue surface the processor drives.
type JobQueue interface {
	Dequeue(ctx context.Context, wait time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) (bool, error)
}

// DeliveryProcessor drains delivery jobs: render, archive and email entry codes.
type DeliveryProcessor struct {
	sender  Deliverer
	queue   JobQueue
	logger  *zap.Logger
	wait    time.Duration
	backoff time.Duration
}

// NewDeliveryProcessor creates a delivery job processor.
func NewDeliveryProcessor(sender Deliverer, q JobQueue, logger *zap.Logger) *DeliveryProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryProcessor{sender: sender, queue: q, logger: logger, wait: 5 * time.Second, backoff: queue.RetryBackoff}
}

// Process executes one delivery job. A nil error means the job is finished,
// including permanent failures that retrying cannot fix.
func (p *DeliveryProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := job.DeliveryPayload()
	if err != nil {
		p.logger.Warn("dropping malformed job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	err = p.sender.Deliver(ctx, payload.AttendeeID, job.Attempt+1)
	if err != nil && delivery.Permanent(err) {
		p.logger.Warn("delivery abandoned",
			zap.String("job_id", job.ID),
			zap.Int64("attendee_id", payload.AttendeeID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *DeliveryProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("delivery worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.wait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt+1), zap.Error(err))
			if _, reErr := p.queue.Retry(context.WithoutCancel(ctx), job, err); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *DeliveryProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
