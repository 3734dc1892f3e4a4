// Package goal holds the goal aggregate: a pure state machine that derives
// state from events and produces new events from commands.
//
// Transition methods never mutate the aggregate. They validate the current
// state and return the event describing the change; callers persist the
// event and then fold it in with Apply, the same function used for replay.
package goal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"goalline/internal/domain"
)

// Aggregate wraps the goal state rebuilt from its stream.
type Aggregate struct {
	state domain.Goal
}

// New returns an empty aggregate for id: status to-do, version 0.
func New(id domain.GoalID) *Aggregate {
	return &Aggregate{state: initialState(id)}
}

func initialState(id domain.GoalID) domain.Goal {
	return domain.Goal{ID: id, Status: domain.StatusToDo}
}

// Rehydrate folds events over the initial state.
func Rehydrate(id domain.GoalID, events []domain.Event) (*Aggregate, error) {
	a := New(id)
	for _, evt := range events {
		if err := a.Apply(evt); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// State returns a copy of the current state.
func (a *Aggregate) State() domain.Goal {
	return cloneGoal(a.state)
}

// ID returns the aggregate id.
func (a *Aggregate) ID() domain.GoalID { return a.state.ID }

// Status returns the current status.
func (a *Aggregate) Status() domain.Status { return a.state.Status }

// Version returns the number of applied events.
func (a *Aggregate) Version() uint64 { return a.state.Version }

// Exists reports whether the goal.added event has been applied.
func (a *Aggregate) Exists() bool { return a.state.Version > 0 }

// Apply folds one event into the aggregate.
func (a *Aggregate) Apply(evt domain.Event) error {
	next, err := Apply(a.state, evt)
	if err != nil {
		return err
	}
	a.state = next
	return nil
}

// Apply returns the state reached by applying evt to state. It is total over
// event types: fields an event does not carry are left untouched.
func Apply(state domain.Goal, evt domain.Event) (domain.Goal, error) {
	if evt.AggregateID != state.ID {
		return state, fmt.Errorf("apply %s: event for goal %s applied to %s", evt.Type, evt.AggregateID, state.ID)
	}
	if evt.Version != state.Version+1 {
		return state, fmt.Errorf("apply %s to goal %s: expected version %d got %d", evt.Type, state.ID, state.Version+1, evt.Version)
	}
	if !evt.Payload.Status.Valid() {
		return state, fmt.Errorf("apply %s to goal %s: invalid status %q", evt.Type, state.ID, evt.Payload.Status)
	}
	next := cloneGoal(state)
	p := evt.Payload
	switch evt.Type {
	case domain.EventGoalAdded:
		next.Objective = p.Objective
		next.SuccessCriteria = cloneStrings(p.SuccessCriteria)
		next.ScopeIn = cloneStrings(p.ScopeIn)
		next.ScopeOut = cloneStrings(p.ScopeOut)
		next.Boundaries = cloneStrings(p.Boundaries)
		next.Planning = clonePlanning(p.Planning)
		next.NextGoalID = p.NextGoalID
		next.CreatedAt = evt.Timestamp
	case domain.EventGoalSubmittedForReview:
		next.ReviewTurns = p.ReviewTurn
	case domain.EventGoalReset:
		next.Note = ""
	}
	if p.Note != nil {
		next.Note = *p.Note
	}
	next.Status = p.Status
	next.Version = evt.Version
	next.UpdatedAt = evt.Timestamp
	return next, nil
}

// AddInput describes a new goal.
type AddInput struct {
	Objective       string
	SuccessCriteria []string
	ScopeIn         []string
	ScopeOut        []string
	Boundaries      []string
	Planning        *domain.PlanningContext
	NextGoalID      domain.GoalID
}

// Add creates the goal.added event.
func (a *Aggregate) Add(in AddInput, ctx Context) (domain.Event, error) {
	if a.Exists() {
		return domain.Event{}, domain.AlreadyExists(a.state.ID)
	}
	objective := strings.TrimSpace(in.Objective)
	if objective == "" {
		return domain.Event{}, domain.InvalidInput("objective is required")
	}
	if in.NextGoalID == a.state.ID {
		return domain.Event{}, domain.InvalidInput("a goal cannot chain to itself")
	}
	payload := domain.EventPayload{
		Status:          domain.StatusToDo,
		Objective:       objective,
		SuccessCriteria: compactList(in.SuccessCriteria),
		ScopeIn:         normalizeSet(in.ScopeIn),
		ScopeOut:        normalizeSet(in.ScopeOut),
		Boundaries:      compactList(in.Boundaries),
		NextGoalID:      in.NextGoalID,
	}
	if !in.Planning.Empty() {
		payload.Planning = clonePlanning(in.Planning)
	}
	return a.event(domain.EventGoalAdded, payload, ctx), nil
}

// Context carries per-command metadata stamped onto produced events.
type Context struct {
	Worker domain.WorkerID
	At     time.Time
}

func (a *Aggregate) event(t domain.EventType, payload domain.EventPayload, ctx Context) domain.Event {
	return domain.Event{
		Type:        t,
		AggregateID: a.state.ID,
		Version:     a.state.Version + 1,
		Timestamp:   ctx.At,
		WorkerID:    ctx.Worker,
		Payload:     payload,
	}
}

func (a *Aggregate) requireExists() error {
	if !a.Exists() {
		return domain.NotFound(a.state.ID)
	}
	return nil
}

func (a *Aggregate) requireStatus(operation string, allowed ...domain.Status) error {
	if err := a.requireExists(); err != nil {
		return err
	}
	for _, s := range allowed {
		if a.state.Status == s {
			return nil
		}
	}
	return domain.IllegalTransition(a.state.ID, operation, a.state.Status)
}

func cloneGoal(g domain.Goal) domain.Goal {
	g.SuccessCriteria = cloneStrings(g.SuccessCriteria)
	g.ScopeIn = cloneStrings(g.ScopeIn)
	g.ScopeOut = cloneStrings(g.ScopeOut)
	g.Boundaries = cloneStrings(g.Boundaries)
	g.Planning = clonePlanning(g.Planning)
	return g
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func clonePlanning(p *domain.PlanningContext) *domain.PlanningContext {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Invariants = cloneStrings(p.Invariants)
	cp.Guidelines = cloneStrings(p.Guidelines)
	cp.Components = cloneStrings(p.Components)
	cp.Dependencies = cloneStrings(p.Dependencies)
	cp.FilesToCreate = cloneStrings(p.FilesToCreate)
	cp.FilesToChange = cloneStrings(p.FilesToChange)
	return &cp
}

// compactList trims entries and drops empty ones, keeping order.
func compactList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeSet trims, de-duplicates and sorts component names.
func normalizeSet(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range compactList(in) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
