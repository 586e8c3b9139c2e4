package event

import (
	"context"
	"io"
	"time"
)

type Type string

const (
	JobExecuting Type = "JOB_EXECUTING"
	JobCompleted Type = "JOB_COMPLETED"
)

// Event 调度过程中对外发布的事件
type Event struct {
	Type       Type                   `json:"type"`
	TenantID   int64                  `json:"tenant_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Service is the event firing facility used around job executions.
type Service interface {
	// HasHandlers reports whether anyone subscribed to t.
	HasHandlers(t Type) bool
	Fire(ctx context.Context, e *Event) error
	// Subscribe delivers events of type t until ctx is done.
	Subscribe(ctx context.Context, t Type) (<-chan *Event, error)
	io.Closer
}
