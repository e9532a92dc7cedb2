package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/loomtale/loomtale/internal/generation"
	jobmetrics "github.com/loomtale/loomtale/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueGeneration carries batch generation work.
	QueueGeneration = "generation"
	// TaskGenerationBatch is the task type for batch generation.
	TaskGenerationBatch = "generation:batch"
)

// Queues lists every queue the worker serves, with its priority weight.
var Queues = map[string]int{
	QueueGeneration: 3,
	QueueDefault:    1,
}

// NewBatchTask constructs an Asynq task for a batch.
func NewBatchTask(payload generation.BatchPayload) (*asynq.Task, error) {
	if payload.BatchID == "" {
		return nil, errors.New("jobs: batch id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGenerationBatch, data), nil
}

// BatchRunner processes a queued batch.
type BatchRunner interface {
	RunBatch(ctx context.Context, payload generation.BatchPayload) error
}

// BatchHandler returns the handler for TaskGenerationBatch tasks.
func BatchHandler(runner BatchRunner, metrics *jobmetrics.Metrics) TaskHandler {
	return TaskHandler{
		Type: TaskGenerationBatch,
		Handler: func(ctx context.Context, t *asynq.Task) error {
			var payload generation.BatchPayload
			if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.BatchID == "" {
				return fmt.Errorf("jobs: malformed batch payload: %w", asynq.SkipRetry)
			}
			tracker := metrics.Track(TaskGenerationBatch)
			return tracker.End(runner.RunBatch(ctx, payload))
		},
	}
}

func batchOptions(batchID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueGeneration),
		asynq.TaskID(batchID),
		asynq.MaxRetry(3),
		asynq.Timeout(10 * time.Minute),
		asynq.Retention(time.Hour),
	}
}
