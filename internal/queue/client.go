package queue

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderExecute is the single task type: execute one order id.
	TaskOrderExecute = "order:execute"

	queueName = "orders"
)

// executePayload is a thin pointer to the order, never a snapshot of it.
type executePayload struct {
	OrderID string `json:"orderId"`
}

// NewTask builds an order-execution task for the given order id.
func NewTask(orderID string) (*asynq.Task, error) {
	payload, err := json.Marshal(executePayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderExecute, payload), nil
}

// Client enqueues order-execution jobs. Delivery is at-least-once:
// completed tasks are removed, exhausted ones stay archived for
// inspection (the asynq defaults).
type Client struct {
	client      *asynq.Client
	maxAttempts int
}

// NewClient connects an enqueue-only client to the queue's redis.
func NewClient(redisAddr string, maxAttempts int) *Client {
	return &Client{
		client:      asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		maxAttempts: maxAttempts,
	}
}

// Enqueue durably records one unit of work and returns once accepted.
// MaxRetry counts redeliveries, so attempts-1 gives maxAttempts total.
func (c *Client) Enqueue(ctx context.Context, orderID string) error {
	task, err := NewTask(orderID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(queueName),
		asynq.MaxRetry(c.maxAttempts-1),
	)
	return err
}

// Close releases the underlying redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
