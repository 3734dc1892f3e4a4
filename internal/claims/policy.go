// Package claims implements time-bounded goal leases. A worker must hold an
// active claim to mutate a goal; claims expire on their own and are never
// waited on.
package claims

import (
	"context"
	"time"

	"goalline/internal/clock"
	"goalline/internal/domain"
)

// DefaultDuration applies when settings leave the claim duration unset.
const DefaultDuration = 30 * time.Minute

// Decision is the outcome of CanClaim. Existing is set whenever a claim is
// on record, including when the request is allowed.
type Decision struct {
	Allowed  bool
	Existing *domain.Claim
}

// Policy decides and records claims.
type Policy struct {
	Store    Store
	Clock    clock.Clock
	Duration time.Duration
}

// NewPolicy builds a Policy with a lease length of minutes.
func NewPolicy(store Store, clk clock.Clock, minutes int) *Policy {
	d := time.Duration(minutes) * time.Minute
	if d <= 0 {
		d = DefaultDuration
	}
	return &Policy{Store: store, Clock: clk, Duration: d}
}

func (p *Policy) now() time.Time {
	if p.Clock == nil {
		return time.Now().UTC()
	}
	return p.Clock.Now()
}

// CanClaim reports whether worker may act on goal id right now. Rules are
// checked in order: no claim, expired claim (expiry at or before now), same
// owner. Anything else is rejected.
func (p *Policy) CanClaim(ctx context.Context, id domain.GoalID, worker domain.WorkerID) (Decision, error) {
	existing, ok, err := p.Store.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Allowed: true}, nil
	}
	d := Decision{Existing: &existing}
	switch {
	case !existing.ActiveAt(p.now()):
		d.Allowed = true
	case existing.ClaimedBy == worker:
		d.Allowed = true
	}
	return d, nil
}

// Require is CanClaim that turns a rejection into a ClaimConflict error.
func (p *Policy) Require(ctx context.Context, id domain.GoalID, worker domain.WorkerID) (Decision, error) {
	d, err := p.CanClaim(ctx, id, worker)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, domain.ClaimConflict(id, *d.Existing)
	}
	return d, nil
}

// PrepareClaim computes a fresh claim starting now. Nothing is stored.
func (p *Policy) PrepareClaim(id domain.GoalID, worker domain.WorkerID) domain.Claim {
	now := p.now()
	return domain.Claim{
		GoalID:         id,
		ClaimedBy:      worker,
		ClaimedAt:      now,
		ClaimExpiresAt: now.Add(p.Duration),
	}
}

// PrepareRefreshedClaim extends the lease from now. ClaimedAt is kept only
// when worker already owns existing: a worker taking over another worker's
// expired claim starts a new lease at now rather than inheriting its origin.
func (p *Policy) PrepareRefreshedClaim(id domain.GoalID, worker domain.WorkerID, existing *domain.Claim) domain.Claim {
	c := p.PrepareClaim(id, worker)
	if existing != nil && existing.GoalID == id && existing.ClaimedBy == worker {
		c.ClaimedAt = existing.ClaimedAt
	}
	return c
}

// StoreClaim records c, replacing any previous claim on the goal.
func (p *Policy) StoreClaim(ctx context.Context, c domain.Claim) error {
	return p.Store.Put(ctx, c)
}

// CreateClaim checks, prepares and stores a new claim.
func (p *Policy) CreateClaim(ctx context.Context, id domain.GoalID, worker domain.WorkerID) (domain.Claim, error) {
	if _, err := p.Require(ctx, id, worker); err != nil {
		return domain.Claim{}, err
	}
	c := p.PrepareClaim(id, worker)
	if err := p.StoreClaim(ctx, c); err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

// RefreshClaim extends worker's claim, or takes a new one if the goal is free.
func (p *Policy) RefreshClaim(ctx context.Context, id domain.GoalID, worker domain.WorkerID) (domain.Claim, error) {
	d, err := p.Require(ctx, id, worker)
	if err != nil {
		return domain.Claim{}, err
	}
	c := p.PrepareRefreshedClaim(id, worker, d.Existing)
	if err := p.StoreClaim(ctx, c); err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

// ReleaseClaim drops any claim on the goal.
func (p *Policy) ReleaseClaim(ctx context.Context, id domain.GoalID) error {
	return p.Store.Delete(ctx, id)
}

// Current returns the stored claim if it is still active.
func (p *Policy) Current(ctx context.Context, id domain.GoalID) (*domain.Claim, error) {
	c, ok, err := p.Store.Get(ctx, id)
	if err != nil || !ok || !c.ActiveAt(p.now()) {
		return nil, err
	}
	return &c, nil
}
