package streaming

import (
	"context"
	"time"
)

// Event is one published pipeline event.
type Event struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Publisher emits pipeline events (document outcomes, pause/resume) to
// whatever downstream transport is configured.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
	Close() error
}
