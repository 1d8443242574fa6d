package rooms

import (
	"context"
	"log/slog"
	"time"
)

// EventType identifies a room lifecycle event.
type EventType string

const (
	EventStart              EventType = "start"
	EventComplete           EventType = "complete"
	EventParallelStart      EventType = "parallel_start"
	EventParallelComplete   EventType = "parallel_complete"
	EventSequentialStart    EventType = "sequential_start"
	EventSequentialComplete EventType = "sequential_complete"
)

// Event describes a room lifecycle change. Per-execution events carry the
// provider and execution id; batch events carry the counts.
type Event struct {
	Type        EventType `json:"type"`
	Provider    string    `json:"provider,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Task        string    `json:"task,omitempty"`
	Success     bool      `json:"success,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Total       int       `json:"total,omitempty"`
	Succeeded   int       `json:"succeeded,omitempty"`
	Failed      int       `json:"failed,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Observer receives room events. Implementations must be safe for concurrent
// use and must not block; events from parallel rooms arrive in completion order.
type Observer interface {
	Notify(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

// LogObserver logs events using slog.
type LogObserver struct {
	Logger *slog.Logger
}

// NewLogObserver creates an observer that logs to the given logger.
// If logger is nil, uses the default slog logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Logger: logger}
}

// Notify implements Observer.
func (o *LogObserver) Notify(ctx context.Context, event Event) {
	switch event.Type {
	case EventStart:
		o.Logger.InfoContext(ctx, "room started",
			"provider", event.Provider,
			"execution_id", event.ExecutionID,
		)
	case EventComplete:
		if event.Success {
			o.Logger.InfoContext(ctx, "room completed",
				"provider", event.Provider,
				"execution_id", event.ExecutionID,
				"duration_ms", event.DurationMs,
			)
			return
		}
		o.Logger.WarnContext(ctx, "room failed",
			"provider", event.Provider,
			"execution_id", event.ExecutionID,
			"error", event.Error,
		)
	case EventParallelStart, EventSequentialStart:
		o.Logger.InfoContext(ctx, "batch execution started", "mode", event.Type, "total", event.Total)
	case EventParallelComplete, EventSequentialComplete:
		o.Logger.InfoContext(ctx, "batch execution finished",
			"mode", event.Type,
			"total", event.Total,
			"succeeded", event.Succeeded,
			"failed", event.Failed,
		)
	}
}

// MultiObserver fans events out to several observers.
type MultiObserver []Observer

// Notify implements Observer.
func (m MultiObserver) Notify(ctx context.Context, event Event) {
	for _, o := range m {
		if o != nil {
			o.Notify(ctx, event)
		}
	}
}
