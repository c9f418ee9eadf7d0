// Package mailqueue moves account emails off the request path through a
// Redis list. Queue satisfies the same interface as the direct email
// client, so handlers do not care which one they get.
package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEmails is the Redis list key for pending email jobs.
	QueueEmails = "streamify:emails"
	// QueueDLQ holds jobs that failed MaxRetries times.
	QueueDLQ = "streamify:emails:dlq"
	// MaxRetries is the number of attempts before a job goes to the DLQ.
	MaxRetries = 3
)

type Kind string

const (
	KindOTP           Kind = "otp"
	KindWelcome       Kind = "welcome"
	KindPasswordReset Kind = "password_reset"
)

type Payload struct {
	ToEmail string `json:"to_email"`
	ToName  string `json:"to_name"`
	Code    string `json:"code,omitempty"`
}

// Job is the envelope stored in Redis.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Payload   Payload   `json:"payload"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// Sender performs the actual delivery.
type Sender interface {
	SendOTP(ctx context.Context, toEmail, toName, code string) error
	SendWelcome(ctx context.Context, toEmail, toName string) error
	SendPasswordReset(ctx context.Context, toEmail, toName, code string) error
}

// listClient is the subset of *redis.Client the queue uses.
type listClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

type Queue struct {
	client listClient
	logger *zap.Logger
}

func New(client listClient, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Connect parses a redis:// URL and verifies connectivity.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (q *Queue) SendOTP(ctx context.Context, toEmail, toName, code string) error {
	return q.enqueue(ctx, KindOTP, Payload{ToEmail: toEmail, ToName: toName, Code: code})
}

func (q *Queue) SendWelcome(ctx context.Context, toEmail, toName string) error {
	return q.enqueue(ctx, KindWelcome, Payload{ToEmail: toEmail, ToName: toName})
}

func (q *Queue) SendPasswordReset(ctx context.Context, toEmail, toName, code string) error {
	return q.enqueue(ctx, KindPasswordReset, Payload{ToEmail: toEmail, ToName: toName, Code: code})
}

func (q *Queue) enqueue(ctx context.Context, kind Kind, payload Payload) error {
	job := Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueEmails, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued email job", zap.String("job_id", job.ID), zap.String("kind", string(kind)))
	return nil
}

// Dequeue waits up to timeout for a job. It returns nil, nil when none arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueEmails).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid email job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues job with an incremented attempt, or parks it in the DLQ.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("email job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	return q.client.RPush(ctx, QueueEmails, raw).Err()
}

// Pending reports the number of queued jobs.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueEmails).Result()
}
