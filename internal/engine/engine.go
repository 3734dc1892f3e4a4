// Package engine runs goal commands: it checks the claim, rebuilds the
// aggregate from the log, appends the resulting event, updates the claim
// store and publishes to the bus.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goalline/internal/claims"
	"goalline/internal/clock"
	"goalline/internal/config"
	"goalline/internal/domain"
	"goalline/internal/events"
	"goalline/internal/goal"
	"goalline/internal/projection"
)

// SettingsReader supplies settings; commands read them once per call.
type SettingsReader interface {
	Read() (*config.Settings, error)
}

type Engine struct {
	Events     events.Log
	Bus        *events.Bus
	Projection *projection.Projection
	Claims     claims.Store
	Settings   SettingsReader
	Clock      clock.Clock
	Log        *zap.Logger
}

func New(log events.Log, bus *events.Bus, proj *projection.Projection, store claims.Store, settings SettingsReader) *Engine {
	return &Engine{
		Events:     log,
		Bus:        bus,
		Projection: proj,
		Claims:     store,
		Settings:   settings,
		Clock:      clock.System{},
		Log:        zap.NewNop(),
	}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e *Engine) settings() (*config.Settings, error) {
	if e.Settings == nil {
		return config.Default(), nil
	}
	s, err := e.Settings.Read()
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return s, nil
}

func (e *Engine) policy(s *config.Settings) *claims.Policy {
	clk := e.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return claims.NewPolicy(e.Claims, clk, s.Claims.ClaimDurationMinutes)
}

// Result is returned by every command. Fields other than GoalID, Status and
// Version are only set by the commands that produce them.
type Result struct {
	GoalID     domain.GoalID `json:"goal_id"`
	Status     domain.Status `json:"status"`
	Version    uint64        `json:"version"`
	Claim      *domain.Claim `json:"claim,omitempty"`
	NextGoalID domain.GoalID `json:"next_goal_id,omitempty"`
	ReviewTurn int           `json:"review_turn,omitempty"`
	TurnLimit  int           `json:"turn_limit,omitempty"`
	// ProjectionLagging is set when the event is durable but a bus
	// subscriber failed; the read model needs a rebuild.
	ProjectionLagging bool `json:"projection_lagging,omitempty"`
}

// publish hands evt to the bus. A failure is logged and reported through the
// result; the event is already durable so the command still succeeds.
func (e *Engine) publish(ctx context.Context, evt domain.Event, res *Result) {
	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, evt); err != nil {
		res.ProjectionLagging = true
		e.logger().Warn("event stored but not fully published; run projection rebuild",
			zap.String("goal_id", string(evt.AggregateID)),
			zap.String("event", string(evt.Type)),
			zap.Uint64("version", evt.Version),
			zap.Error(err))
	}
}

func (e *Engine) append(ctx context.Context, evt domain.Event) error {
	if _, err := e.Events.Append(ctx, evt); err != nil {
		if errors.Is(err, events.ErrVersionConflict) {
			e.logger().Info("lost append race", zap.String("goal_id", string(evt.AggregateID)), zap.Uint64("version", evt.Version))
		}
		return err
	}
	return nil
}

// AddOptions are parameters for creating a goal.
type AddOptions struct {
	ID              string
	Objective       string
	SuccessCriteria []string
	ScopeIn         []string
	ScopeOut        []string
	Boundaries      []string
	Planning        *domain.PlanningContext
	NextGoalID      string
	WorkerID        domain.WorkerID
}

// Add creates a goal. When ID is empty a fresh one is generated.
func (e *Engine) Add(ctx context.Context, opts AddOptions) (Result, error) {
	worker, err := domain.ParseWorkerID(string(opts.WorkerID))
	if err != nil {
		return Result{}, err
	}
	id := domain.NewGoalID()
	if opts.ID != "" {
		if id, err = domain.ParseGoalID(opts.ID); err != nil {
			return Result{}, err
		}
	}
	var next domain.GoalID
	if opts.NextGoalID != "" {
		if next, err = domain.ParseGoalID(opts.NextGoalID); err != nil {
			return Result{}, err
		}
	}
	stream, err := e.Events.ReadStream(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if len(stream) > 0 {
		return Result{}, domain.AlreadyExists(id)
	}
	agg := goal.New(id)
	evt, err := agg.Add(goal.AddInput{
		Objective:       opts.Objective,
		SuccessCriteria: opts.SuccessCriteria,
		ScopeIn:         opts.ScopeIn,
		ScopeOut:        opts.ScopeOut,
		Boundaries:      opts.Boundaries,
		Planning:        opts.Planning,
		NextGoalID:      next,
	}, goal.Context{Worker: worker, At: e.now()})
	if err != nil {
		return Result{}, err
	}
	if err := e.append(ctx, evt); err != nil {
		if errors.Is(err, events.ErrVersionConflict) {
			return Result{}, domain.AlreadyExists(id)
		}
		return Result{}, err
	}
	if err := agg.Apply(evt); err != nil {
		return Result{}, err
	}
	res := Result{GoalID: id, Status: agg.Status(), Version: agg.Version()}
	e.publish(ctx, evt, &res)
	e.logger().Info("goal added", zap.String("goal_id", string(id)), zap.String("worker_id", string(worker)))
	return res, nil
}

// TransitionOptions identify the goal and the acting worker. Note is used by
// pause, resume, block and unblock.
type TransitionOptions struct {
	GoalID   string
	WorkerID domain.WorkerID
	Note     string
}

type leaseMode int

const (
	leaseKeep leaseMode = iota
	leaseNew
	leaseRefresh
	leaseRelease
)

type transition struct {
	lease leaseMode
	run   func(agg *goal.Aggregate, claim domain.Claim, gctx goal.Context) (domain.Event, error)
}

// execute is the shared command path.
func (e *Engine) execute(ctx context.Context, opts TransitionOptions, tr transition) (Result, *goal.Aggregate, *config.Settings, error) {
	id, err := domain.ParseGoalID(opts.GoalID)
	if err != nil {
		return Result{}, nil, nil, err
	}
	worker, err := domain.ParseWorkerID(string(opts.WorkerID))
	if err != nil {
		return Result{}, nil, nil, err
	}
	s, err := e.settings()
	if err != nil {
		return Result{}, nil, nil, err
	}
	policy := e.policy(s)

	exists, err := e.Projection.Exists(ctx, id)
	if err != nil {
		return Result{}, nil, nil, domain.StorageFailure("read goal", err)
	}
	if !exists {
		return Result{}, nil, nil, domain.NotFound(id)
	}
	decision, err := policy.Require(ctx, id, worker)
	if err != nil {
		return Result{}, nil, nil, err
	}
	stream, err := e.Events.ReadStream(ctx, id)
	if err != nil {
		return Result{}, nil, nil, err
	}
	agg, err := goal.Rehydrate(id, stream)
	if err != nil {
		return Result{}, nil, nil, fmt.Errorf("rehydrate %s: %w", id, err)
	}

	var claim domain.Claim
	switch tr.lease {
	case leaseNew:
		claim = policy.PrepareClaim(id, worker)
	case leaseRefresh:
		claim = policy.PrepareRefreshedClaim(id, worker, decision.Existing)
	}
	evt, err := tr.run(agg, claim, goal.Context{Worker: worker, At: e.now()})
	if err != nil {
		return Result{}, nil, nil, err
	}
	if err := e.append(ctx, evt); err != nil {
		return Result{}, nil, nil, err
	}
	if err := agg.Apply(evt); err != nil {
		return Result{}, nil, nil, err
	}

	res := Result{GoalID: id, Status: agg.Status(), Version: agg.Version()}
	switch tr.lease {
	case leaseNew, leaseRefresh:
		if err := policy.StoreClaim(ctx, claim); err != nil {
			return Result{}, nil, nil, err
		}
		res.Claim = &claim
	case leaseRelease:
		if err := policy.ReleaseClaim(ctx, id); err != nil {
			return Result{}, nil, nil, err
		}
	}
	e.publish(ctx, evt, &res)
	e.logger().Info("goal transitioned",
		zap.String("goal_id", string(id)),
		zap.String("event", string(evt.Type)),
		zap.String("worker_id", string(worker)),
		zap.Uint64("version", evt.Version))
	return res, agg, s, nil
}

// Start moves a to-do goal to doing and claims it for the worker.
func (e *Engine) Start(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, _, _, err := e.execute(ctx, opts, transition{
		lease: leaseNew,
		run: func(agg *goal.Aggregate, claim domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Start(claim, gctx)
		},
	})
	return res, err
}

// Pause parks a doing or blocked goal. The claim is kept until it expires.
func (e *Engine) Pause(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, _, _, err := e.execute(ctx, opts, transition{
		run: func(agg *goal.Aggregate, _ domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Pause(opts.Note, gctx)
		},
	})
	return res, err
}

// Resume returns a paused goal to doing with a refreshed claim.
func (e *Engine) Resume(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, _, _, err := e.execute(ctx, opts, transition{
		lease: leaseRefresh,
		run: func(agg *goal.Aggregate, claim domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Resume(claim, opts.Note, gctx)
		},
	})
	return res, err
}

// Block marks a doing goal as blocked; opts.Note must explain why.
func (e *Engine) Block(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, _, _, err := e.execute(ctx, opts, transition{
		run: func(agg *goal.Aggregate, _ domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Block(opts.Note, gctx)
		},
	})
	return res, err
}

// Unblock returns a blocked goal to doing.
func (e *Engine) Unblock(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, _, _, err := e.execute(ctx, opts, transition{
		run: func(agg *goal.Aggregate, _ domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Unblock(opts.Note, gctx)
		},
	})
	return res, err
}

// SubmitForReview hands the goal to review. The result carries the turn
// number and the configured turn limit; exceeding the limit is not an error.
func (e *Engine) SubmitForReview(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, agg, s, err := e.execute(ctx, opts, transition{
		run: func(agg *goal.Aggregate, _ domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.SubmitForReview(gctx)
		},
	})
	if err != nil {
		return res, err
	}
	res.ReviewTurn = agg.State().ReviewTurns
	res.TurnLimit = s.QA.DefaultTurnLimit
	if res.ReviewTurn > res.TurnLimit {
		e.logger().Warn("review turn limit exceeded",
			zap.String("goal_id", string(res.GoalID)),
			zap.Int("review_turn", res.ReviewTurn),
			zap.Int("turn_limit", res.TurnLimit))
	}
	return res, nil
}

// Qualify accepts a goal in review.
func (e *Engine) Qualify(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, _, _, err := e.execute(ctx, opts, transition{
		run: func(agg *goal.Aggregate, _ domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Qualify(gctx)
		},
	})
	return res, err
}

// Complete closes a qualified goal, releases its claim and reports the
// chained next goal if any.
func (e *Engine) Complete(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, agg, _, err := e.execute(ctx, opts, transition{
		lease: leaseRelease,
		run: func(agg *goal.Aggregate, _ domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Complete(gctx)
		},
	})
	if err != nil {
		return res, err
	}
	res.NextGoalID = agg.State().NextGoalID
	return res, nil
}

// Reset sends a non-completed goal back to to-do and releases its claim.
func (e *Engine) Reset(ctx context.Context, opts TransitionOptions) (Result, error) {
	res, _, _, err := e.execute(ctx, opts, transition{
		lease: leaseRelease,
		run: func(agg *goal.Aggregate, _ domain.Claim, gctx goal.Context) (domain.Event, error) {
			return agg.Reset(gctx)
		},
	})
	return res, err
}
