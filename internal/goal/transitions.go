package goal

import (
	"strings"

	"goalline/internal/domain"
)

// Operation names used in IllegalTransition messages.
const (
	OpStart           = "start"
	OpPause           = "pause"
	OpResume          = "resume"
	OpBlock           = "block"
	OpUnblock         = "unblock"
	OpSubmitForReview = "submit for review"
	OpQualify         = "qualify"
	OpComplete        = "complete"
	OpReset           = "reset"
)

// Start moves a to-do goal to doing under claim.
func (a *Aggregate) Start(claim domain.Claim, ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpStart, domain.StatusToDo); err != nil {
		return domain.Event{}, err
	}
	if err := a.checkClaim(claim, ctx); err != nil {
		return domain.Event{}, err
	}
	payload := domain.EventPayload{Status: domain.StatusDoing}.WithClaim(claim)
	return a.event(domain.EventGoalStarted, payload, ctx), nil
}

// Pause parks a doing or blocked goal. The note is optional.
func (a *Aggregate) Pause(note string, ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpPause, domain.StatusDoing, domain.StatusBlocked); err != nil {
		return domain.Event{}, err
	}
	payload := domain.EventPayload{Status: domain.StatusPaused, Note: optionalNote(note)}
	return a.event(domain.EventGoalPaused, payload, ctx), nil
}

// Resume moves a paused goal back to doing with a refreshed claim.
func (a *Aggregate) Resume(claim domain.Claim, note string, ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpResume, domain.StatusPaused); err != nil {
		return domain.Event{}, err
	}
	if err := a.checkClaim(claim, ctx); err != nil {
		return domain.Event{}, err
	}
	payload := domain.EventPayload{Status: domain.StatusDoing, Note: optionalNote(note)}.WithClaim(claim)
	return a.event(domain.EventGoalResumed, payload, ctx), nil
}

// Block marks a doing goal as blocked. A reason is required.
func (a *Aggregate) Block(note string, ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpBlock, domain.StatusDoing); err != nil {
		return domain.Event{}, err
	}
	reason := optionalNote(note)
	if reason == nil {
		return domain.Event{}, domain.InvalidInput("a note explaining the blocker is required")
	}
	payload := domain.EventPayload{Status: domain.StatusBlocked, Note: reason}
	return a.event(domain.EventGoalBlocked, payload, ctx), nil
}

// Unblock returns a blocked goal to doing.
func (a *Aggregate) Unblock(note string, ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpUnblock, domain.StatusBlocked); err != nil {
		return domain.Event{}, err
	}
	payload := domain.EventPayload{Status: domain.StatusDoing, Note: optionalNote(note)}
	return a.event(domain.EventGoalUnblocked, payload, ctx), nil
}

// SubmitForReview hands a doing or blocked goal to review and counts the turn.
func (a *Aggregate) SubmitForReview(ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpSubmitForReview, domain.StatusDoing, domain.StatusBlocked); err != nil {
		return domain.Event{}, err
	}
	payload := domain.EventPayload{Status: domain.StatusInReview, ReviewTurn: a.state.ReviewTurns + 1}
	return a.event(domain.EventGoalSubmittedForReview, payload, ctx), nil
}

// Qualify accepts a goal that is in review.
func (a *Aggregate) Qualify(ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpQualify, domain.StatusInReview); err != nil {
		return domain.Event{}, err
	}
	return a.event(domain.EventGoalQualified, domain.EventPayload{Status: domain.StatusQualified}, ctx), nil
}

// Complete closes a qualified goal.
func (a *Aggregate) Complete(ctx Context) (domain.Event, error) {
	if err := a.requireStatus(OpComplete, domain.StatusQualified); err != nil {
		return domain.Event{}, err
	}
	payload := domain.EventPayload{Status: domain.StatusCompleted, NextGoalID: a.state.NextGoalID}
	return a.event(domain.EventGoalCompleted, payload, ctx), nil
}

// Reset sends any non-terminal goal back to to-do.
func (a *Aggregate) Reset(ctx Context) (domain.Event, error) {
	if err := a.requireExists(); err != nil {
		return domain.Event{}, err
	}
	if a.state.Status.Terminal() {
		return domain.Event{}, domain.IllegalTransition(a.state.ID, OpReset, a.state.Status)
	}
	return a.event(domain.EventGoalReset, domain.EventPayload{Status: domain.StatusToDo}, ctx), nil
}

func (a *Aggregate) checkClaim(claim domain.Claim, ctx Context) error {
	if claim.GoalID != a.state.ID {
		return domain.InvalidInput("claim does not belong to goal " + string(a.state.ID))
	}
	if claim.ClaimedBy == "" || (ctx.Worker != "" && claim.ClaimedBy != ctx.Worker) {
		return domain.InvalidInput("claim must be held by the acting worker")
	}
	if !claim.ClaimExpiresAt.After(claim.ClaimedAt) {
		return domain.InvalidInput("claim must expire after it was taken")
	}
	return nil
}

func optionalNote(note string) *string {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	return &note
}
