// Package queue carries task ids from the API to the workers. Only the task
// id travels; the task itself lives in the task store.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// MessageVersion is written into every payload so old workers can reject
// messages they do not understand.
const MessageVersion = 1

// Message is the queued payload.
type Message struct {
	TaskID     string `json:"taskId"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
	// Deliveries counts in-process redeliveries. Brokers track their own.
	Deliveries int `json:"deliveries,omitempty"`
}

// NewMessage stamps a message for taskID at now.
func NewMessage(taskID, requestID string, now time.Time) Message {
	return Message{
		TaskID:     taskID,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339Nano),
		Version:    MessageVersion,
	}
}

// Age returns how long ago the message was enqueued, or 0 if unknown.
func (m Message) Age(now time.Time) time.Duration {
	at, err := time.Parse(time.RFC3339Nano, m.EnqueuedAt)
	if err != nil {
		return 0
	}
	return now.Sub(at)
}

// EncodeMessage returns the JSON wire form.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses the JSON wire form.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Client enqueues messages.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Delivery is one received broker message. It must be acknowledged with
// Consumer.Delete once handled, or it is redelivered.
type Delivery struct {
	ID            string
	Body          string
	ReceiptHandle string
	ReceiveCount  int
}

// Consumer receives and acknowledges deliveries.
type Consumer interface {
	Receive(ctx context.Context) ([]Delivery, error)
	Delete(ctx context.Context, d Delivery) error
}

// Extender is implemented by consumers whose deliveries expire. Workers
// extend a delivery while its task runs so no other consumer receives it.
type Extender interface {
	Extend(ctx context.Context, d Delivery, timeout time.Duration) error
}
