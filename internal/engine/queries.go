package engine

import (
	"context"
	"errors"

	"goalline/internal/domain"
	"goalline/internal/goal"
	"goalline/internal/projection"
)

// Show returns the read-model view of a goal.
func (e *Engine) Show(ctx context.Context, rawID string) (domain.GoalView, error) {
	id, err := domain.ParseGoalID(rawID)
	if err != nil {
		return domain.GoalView{}, err
	}
	v, err := e.Projection.FindByID(ctx, id)
	if errors.Is(err, projection.ErrNotFound) {
		return v, domain.NotFound(id)
	}
	if err != nil {
		return v, domain.StorageFailure("read goal", err)
	}
	return v, nil
}

// List returns goals from the read model.
func (e *Engine) List(ctx context.Context, f projection.Filter) ([]domain.GoalView, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.InvalidInput("unknown status " + string(f.Status))
	}
	return e.Projection.List(ctx, f)
}

// History returns the goal's events straight from the log.
func (e *Engine) History(ctx context.Context, rawID string) ([]domain.Event, error) {
	id, err := domain.ParseGoalID(rawID)
	if err != nil {
		return nil, err
	}
	evts, err := e.Events.ReadStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(evts) == 0 {
		return nil, domain.NotFound(id)
	}
	return evts, nil
}

// Replay rebuilds the goal from the log without touching the read model.
func (e *Engine) Replay(ctx context.Context, rawID string) (domain.Goal, error) {
	evts, err := e.History(ctx, rawID)
	if err != nil {
		return domain.Goal{}, err
	}
	agg, err := goal.Rehydrate(evts[0].AggregateID, evts)
	if err != nil {
		return domain.Goal{}, err
	}
	return agg.State(), nil
}

// RebuildProjection replays the whole log into the read model.
func (e *Engine) RebuildProjection(ctx context.Context) (projection.RebuildStats, error) {
	return e.Projection.Rebuild(ctx, e.Events)
}
