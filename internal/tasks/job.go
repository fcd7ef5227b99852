// Package tasks carries exchange completion work from the request path to
// background workers. Jobs are keyed by the user message correlation id.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("queue closed")

type Job struct {
	CorrelationID string    `json:"correlation_id"`
	RoomID        uuid.UUID `json:"room_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempt       int       `json:"attempt"`
}

func (j Job) Validate() error {
	if j.CorrelationID == "" {
		return errors.New("job has no correlation id")
	}
	if j.RoomID == uuid.Nil {
		return errors.New("job has no room id")
	}
	return nil
}

func encodeJob(j Job) (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJob(payload string) (Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return j, fmt.Errorf("json unmarshal failed: %w", err)
	}
	return j, j.Validate()
}

// Queue is the message-passing boundary between Submit and the worker.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx is done, or the queue
	// is closed.
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}
