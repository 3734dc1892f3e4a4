package projection

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"goalline/internal/domain"
	"goalline/internal/events"
)

// rebuildReaders bounds concurrent stream reads during Rebuild.
const rebuildReaders = 8

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Goals  int `json:"goals"`
	Events int `json:"events"`
}

// Rebuild clears the read model and replays every stream from log. Streams
// are read concurrently and applied in aggregate order inside a single
// transaction, so readers never observe a half-built table.
func (p *Projection) Rebuild(ctx context.Context, log events.Log) (RebuildStats, error) {
	ids, err := log.AggregateIDs(ctx)
	if err != nil {
		return RebuildStats{}, err
	}
	streams := make([][]domain.Event, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildReaders)
	for i, id := range ids {
		g.Go(func() error {
			evts, err := log.ReadStream(gctx, id)
			if err != nil {
				return fmt.Errorf("read %s: %w", id, err)
			}
			streams[i] = evts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RebuildStats{}, err
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return RebuildStats{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM goals`); err != nil {
		return RebuildStats{}, fmt.Errorf("clear goals: %w", err)
	}
	var stats RebuildStats
	for i, evts := range streams {
		for _, evt := range evts {
			if err := p.apply(ctx, tx, evt); err != nil {
				return RebuildStats{}, fmt.Errorf("replay %s: %w", ids[i], err)
			}
			stats.Events++
		}
		if len(evts) > 0 {
			stats.Goals++
		}
	}
	if err := tx.Commit(); err != nil {
		return RebuildStats{}, err
	}
	p.Log.Info("projection rebuilt", zap.Int("goals", stats.Goals), zap.Int("events", stats.Events))
	return stats, nil
}
