package mailqueue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Worker struct {
	queue       *Queue
	sender      Sender
	logger      *zap.Logger
	pollTimeout time.Duration
}

func NewWorker(q *Queue, sender Sender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, sender: sender, logger: logger, pollTimeout: 5 * time.Second}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("email worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("email worker stopped")
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("email worker: dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := w.deliver(sendCtx, job); err != nil {
		w.logger.Warn("email worker: delivery failed",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		if err := w.queue.Retry(ctx, job); err != nil {
			w.logger.Error("email worker: retry failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return
	}
	w.logger.Debug("email delivered", zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
}

func (w *Worker) deliver(ctx context.Context, job *Job) error {
	p := job.Payload
	switch job.Kind {
	case KindOTP:
		return w.sender.SendOTP(ctx, p.ToEmail, p.ToName, p.Code)
	case KindWelcome:
		return w.sender.SendWelcome(ctx, p.ToEmail, p.ToName)
	case KindPasswordReset:
		return w.sender.SendPasswordReset(ctx, p.ToEmail, p.ToName, p.Code)
	default:
		return fmt.Errorf("unknown email kind %q", job.Kind)
	}
}
