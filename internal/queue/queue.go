// Package queue is a thin port over asynq. Producers enqueue typed
// payloads; the worker binds handlers to the task names. Both sides share
// the Redis instance that also backs idempotency and rate limiting.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Task names. Every job the broker produces or consumes lives here.
const (
	TaskAlarmCreated      = "alarm:created"
	TaskAlarmEscalate     = "alarm:escalate"
	TaskAlarmAcked        = "alarm:acked"
	TaskAlarmStateChanged = "alarm:state_changed"
)

// CreatedPayload rides on TaskAlarmCreated and TaskAlarmAcked.
type CreatedPayload struct {
	AlarmID string `json:"alarm_id"`
}

// EscalatePayload rides on TaskAlarmEscalate.
type EscalatePayload struct {
	AlarmID string `json:"alarm_id"`
	StepNo  int    `json:"step_no"`
}

// StateChangedPayload rides on TaskAlarmStateChanged.
type StateChangedPayload struct {
	AlarmID   string `json:"alarm_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Actor     string `json:"actor"`
}

// Queue produces jobs.
type Queue struct {
	client *asynq.Client
}

// New creates a producer bound to the given Redis URL.
func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL for queue: %w", err)
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Queue{client: client}, nil
}

// Enqueue submits a task for immediate processing.
func (q *Queue) Enqueue(ctx context.Context, taskName string, payload any) error {
	return q.enqueue(ctx, taskName, payload)
}

// EnqueueIn submits a task to run after the given delay. Deferred
// escalation steps use this; the worker re-checks alarm state at
// execution time, so a stale job is harmless.
func (q *Queue) EnqueueIn(ctx context.Context, taskName string, payload any, delay time.Duration) error {
	return q.enqueue(ctx, taskName, payload, asynq.ProcessIn(delay))
}

func (q *Queue) enqueue(ctx context.Context, taskName string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s payload: %w", taskName, err)
	}
	opts = append(opts, asynq.MaxRetry(3), asynq.Timeout(2*time.Minute))
	if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskName, data), opts...); err != nil {
		return fmt.Errorf("enqueueing %s: %w", taskName, err)
	}
	return nil
}

// Close releases the producer connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// NewServer builds the consumer side. Handlers are registered on the
// returned mux; Run blocks until the context is cancelled and drains
// in-flight tasks on shutdown.
func NewServer(redisURL string, concurrency int) (*asynq.Server, *asynq.ServeMux, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis URL for worker: %w", err)
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		},
		asynq.Config{
			Concurrency:     concurrency,
			ShutdownTimeout: 30 * time.Second,
		},
	)
	return srv, asynq.NewServeMux(), nil
}
