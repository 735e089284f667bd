// Package audit provides the write-only sink for immutable validation
// records. The engine calls it fire-and-forget; a sink failure must never
// block or fail a response.
package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Record pairs one request with the response it produced.
type Record struct {
	ID        string          `json:"id"`
	Company   string          `json:"company"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sink accepts audit records. Implementations must be safe for concurrent
// writes.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Noop discards records. The default when no audit driver is configured.
type Noop struct{}

func (Noop) Write(context.Context, Record) error { return nil }

func (Noop) Close() error { return nil }
