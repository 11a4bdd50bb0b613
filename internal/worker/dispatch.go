package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/audioscribe/api/internal/model"
)

const TaskTypeConvert = "convert:process"

// GoDispatcher runs each job on its own goroutine in-process. This is the
// default when no redis/asynq backend is configured.
type GoDispatcher struct {
	worker *ConvertWorker
}

// NewGoDispatcher creates an in-process dispatcher.
func NewGoDispatcher(w *ConvertWorker) *GoDispatcher {
	return &GoDispatcher{worker: w}
}

// Dispatch schedules the job and returns immediately. The worker outlives
// the submitting request, so it runs on a fresh background context.
func (d *GoDispatcher) Dispatch(_ context.Context, job *model.ConversionJob) error {
	go d.worker.Run(context.Background(), job)
	return nil
}

// AsynqDispatcher enqueues conversion jobs onto the asynq "convert" queue
// for the worker server to pick up.
type AsynqDispatcher struct {
	client *asynq.Client
}

// NewAsynqDispatcher creates a queue-backed dispatcher.
func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

func (d *AsynqDispatcher) Dispatch(_ context.Context, job *model.ConversionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal conversion job: %w", err)
	}

	task := asynq.NewTask(TaskTypeConvert, payload)
	// A failed conversion is terminal; clients resubmit, the queue never
	// retries.
	_, err = d.client.Enqueue(task,
		asynq.Queue("convert"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue conversion: %w", err)
	}
	return nil
}
