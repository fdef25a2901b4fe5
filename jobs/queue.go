// Package jobs wraps the asynq queue: the client that publishes submission
// work and the task handlers the worker process runs.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries cron-driven maintenance work.
	QueueDefault = "default"
	// QueueSubmissions carries per-document authority uploads.
	QueueSubmissions = "submissions"
)

// Client publishes tasks. It backs the SubmitQueue ports of the document
// services.
type Client struct {
	inner *asynq.Client
}

// NewClient connects a task publisher to Redis.
func NewClient(redisAddr string) *Client {
	return &Client{inner: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.inner.Close()
}

// EnqueueSubmit publishes one document for upload to the named provider.
func (c *Client) EnqueueSubmit(ctx context.Context, documentID uuid.UUID, provider string) error {
	task, err := NewSubmitTask(documentID, provider)
	if err != nil {
		return err
	}
	if _, err := c.inner.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("jobs: enqueue %s submit: %w", provider, err)
	}
	return nil
}

func marshalPayload(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal payload: %w", err)
	}
	return body, nil
}
