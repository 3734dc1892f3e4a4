package events

import (
	"context"

	"goalline/internal/domain"
)

// Log is the append-only store of goal events. It is the source of truth.
type Log interface {
	// Append durably stores evt as the next event of its aggregate and
	// returns the sequence number it was assigned.
	Append(ctx context.Context, evt domain.Event) (uint64, error)
	// ReadStream returns the aggregate's events in order. Unknown aggregates
	// yield an empty slice.
	ReadStream(ctx context.Context, id domain.GoalID) ([]domain.Event, error)
	// AggregateIDs lists every aggregate with at least one event.
	AggregateIDs(ctx context.Context) ([]domain.GoalID, error)
}
